package record

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrAlreadyStopped = errors.New("recording already stopped")

const (
	defaultStartupProbe = 150 * time.Millisecond
	defaultStopTimeout  = 3 * time.Second
)

type CaptureOptions struct {
	Backends   []Backend
	Preferred  string
	Dir        string
	SampleRate int
	Channels   int
	Input      string
	Format     string
	Logger     *zap.Logger
}

// Capture starts recorder processes that run until Stop. Each capture
// writes to a fresh file under Dir.
type Capture struct {
	backends  []Backend
	preferred string
	dir       string
	cfg       Config
	logger    *zap.Logger

	startupProbe time.Duration
	stopTimeout  time.Duration
}

func NewCapture(opts CaptureOptions) (*Capture, error) {
	if _, err := orderBackends(opts.Backends, opts.Preferred); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("recording directory is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Capture{
		backends:  opts.Backends,
		preferred: opts.Preferred,
		dir:       opts.Dir,
		cfg: Config{
			SampleRate: opts.SampleRate,
			Channels:   opts.Channels,
			Input:      opts.Input,
			Format:     opts.Format,
		},
		logger:       logger,
		startupProbe: defaultStartupProbe,
		stopTimeout:  defaultStopTimeout,
	}, nil
}

// Handle is a running recorder process.
type Handle struct {
	backend string
	spec    CommandSpec
	path    string
	started time.Time

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	done   chan struct{}
	err    error

	once sync.Once
}

func (h *Handle) Backend() string      { return h.backend }
func (h *Handle) Path() string         { return h.path }
func (h *Handle) StartedAt() time.Time { return h.started }

// Start launches the first recorder command that survives its startup
// probe. Failed candidates are reported together.
func (c *Capture) Start(ctx context.Context) (*Handle, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	ordered, err := orderBackends(c.backends, c.preferred)
	if err != nil {
		return nil, err
	}

	cfg := c.cfg
	cfg.OutputPath = filepath.Join(c.dir, "voxkey-"+uuid.NewString()+".wav")

	var errs []error
	for _, backend := range ordered {
		if !backend.Available() {
			errs = append(errs, fmt.Errorf("%s: backend is not available", backend.Name()))
			continue
		}

		specs := backend.Commands(cfg)
		if len(specs) == 0 {
			errs = append(errs, fmt.Errorf("%s: no usable command for this configuration; set an input device", backend.Name()))
			continue
		}

		for _, spec := range specs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			h, err := c.launch(backend.Name(), spec, cfg.OutputPath)
			if err == nil {
				c.logger.Debug("recording started", zap.String("backend", spec.String()), zap.String("path", cfg.OutputPath))
				return h, nil
			}

			if cleanupErr := removePartialRecording(cfg.OutputPath); cleanupErr != nil {
				errs = append(errs, fmt.Errorf("%s: cleanup partial recording %q: %w", spec, cfg.OutputPath, cleanupErr))
			}
			errs = append(errs, fmt.Errorf("%s: %w", spec, err))
		}
	}

	if len(errs) == 0 {
		return nil, ErrNoBackendAvailable
	}
	return nil, fmt.Errorf("start recording with available backends: %w", errors.Join(errs...))
}

func (c *Capture) launch(backend string, spec CommandSpec, path string) (*Handle, error) {
	h := &Handle{
		backend: backend,
		spec:    spec,
		path:    path,
		cmd:     exec.Command(spec.Name, spec.Args...),
		done:    make(chan struct{}),
	}
	h.cmd.Stderr = &h.stderr

	stdin, err := h.cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	h.stdin = stdin

	if err := h.cmd.Start(); err != nil {
		return nil, err
	}
	h.started = time.Now()

	go func() {
		h.err = h.cmd.Wait()
		close(h.done)
	}()

	timer := time.NewTimer(c.startupProbe)
	defer timer.Stop()

	select {
	case <-h.done:
		return nil, exitError("exited during startup", h)
	case <-timer.C:
		return h, nil
	}
}

// Stop ends the recorder and hands over the written file. The returned
// Recording owns the file; Release removes it.
func (c *Capture) Stop(h *Handle) (*Recording, error) {
	if h == nil {
		return nil, errors.New("nil recording handle")
	}

	stopped := false
	h.once.Do(func() {
		stopped = true
		c.terminate(h)
	})
	if !stopped {
		return nil, ErrAlreadyStopped
	}

	if h.err != nil {
		// Recorders commonly exit non-zero on SIGINT; the file decides.
		c.logger.Debug("recording process exited after stop signal", zap.String("backend", h.spec.String()), zap.Error(h.err))
	}

	info, err := os.Stat(h.path)
	if err != nil || info.Size() == 0 {
		_ = removePartialRecording(h.path)
		if err == nil {
			err = errors.New("recording is empty")
		}
		return nil, fmt.Errorf("%s: %w", h.spec, errors.Join(err, exitError("recorder output", h)))
	}

	return &Recording{path: h.path, backend: h.backend, owned: true}, nil
}

// Abort stops the recorder and discards its output.
func (c *Capture) Abort(h *Handle) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		c.terminate(h)
		if err := removePartialRecording(h.path); err != nil {
			c.logger.Warn("failed to remove aborted recording", zap.String("path", h.path), zap.Error(err))
		}
	})
}

func (c *Capture) terminate(h *Handle) {
	defer h.stdin.Close()

	select {
	case <-h.done:
		return
	default:
	}

	if err := h.cmd.Process.Signal(os.Interrupt); err != nil && h.spec.QuitInput != "" {
		_, _ = io.WriteString(h.stdin, h.spec.QuitInput)
	}

	timer := time.NewTimer(c.stopTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		c.logger.Warn("recorder ignored stop request; killing", zap.String("backend", h.spec.String()))
		_ = h.cmd.Process.Kill()
		<-h.done
	}
}

func exitError(prefix string, h *Handle) error {
	detail := strings.TrimSpace(h.stderr.String())
	switch {
	case h.err != nil && detail != "":
		return fmt.Errorf("%s: %w (%s)", prefix, h.err, detail)
	case h.err != nil:
		return fmt.Errorf("%s: %w", prefix, h.err)
	case detail != "":
		return fmt.Errorf("%s: %s", prefix, detail)
	default:
		return errors.New(prefix)
	}
}

// Recording is a finished audio file. Release is safe to call more than
// once and from any goroutine.
type Recording struct {
	path    string
	backend string
	owned   bool

	once sync.Once
	err  error
}

// Existing wraps a file the caller keeps; Release leaves it in place.
func Existing(path string) *Recording {
	return &Recording{path: path}
}

func (r *Recording) Path() string    { return r.path }
func (r *Recording) Backend() string { return r.backend }

func (r *Recording) Release() error {
	r.once.Do(func() {
		if r.owned {
			r.err = removePartialRecording(r.path)
		}
	})
	return r.err
}

func removePartialRecording(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}
