package models

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const serverEnvOverride = "VOXKEY_WHISPER_SERVER"

// Launcher starts an inference server for one model file.
type Launcher interface {
	Launch(ctx context.Context, modelPath string) (Server, error)
}

// Server is a running inference server.
type Server interface {
	Endpoint() string
	Alive() bool
	Stop() error
}

// ServerLauncher runs whisper.cpp's whisper-server on a loopback port.
type ServerLauncher struct {
	Executable     string
	Threads        int
	StartupTimeout time.Duration
	StopGrace      time.Duration
	Logger         *zap.Logger

	client *http.Client
}

func NewServerLauncher(logger *zap.Logger) (*ServerLauncher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	exe, err := ResolveServerExecutable()
	if err != nil {
		return nil, err
	}

	return &ServerLauncher{
		Executable:     exe,
		StartupTimeout: 2 * time.Minute,
		StopGrace:      3 * time.Second,
		Logger:         logger,
	}, nil
}

// ResolveServerExecutable checks the env override, the install layout next
// to the running binary, then PATH.
func ResolveServerExecutable() (string, error) {
	if override := strings.TrimSpace(os.Getenv(serverEnvOverride)); override != "" {
		if err := ensureExecutable(override); err != nil {
			return "", fmt.Errorf("%s is not executable: %w", serverEnvOverride, err)
		}
		return override, nil
	}

	self, err := os.Executable()
	if err == nil {
		for _, candidate := range ServerPathCandidates(self) {
			if ensureExecutable(candidate) == nil {
				return candidate, nil
			}
		}
	}

	if path, err := exec.LookPath(serverBinaryName()); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("whisper-server not found; install whisper.cpp or set %s to the %s binary", serverEnvOverride, serverBinaryName())
}

func ServerPathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	name := serverBinaryName()

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", name),
		filepath.Join(binDir, "libexec", "whisper", name),
		filepath.Join(binDir, name),
	}
}

func (l *ServerLauncher) Launch(ctx context.Context, modelPath string) (Server, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("model path is required")
	}
	if err := ensureExecutable(l.Executable); err != nil {
		return nil, fmt.Errorf("whisper-server missing or not executable: %w", err)
	}

	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	port, err := freeLoopbackPort()
	if err != nil {
		return nil, fmt.Errorf("reserve server port: %w", err)
	}

	args := []string{"-m", modelPath, "--host", "127.0.0.1", "--port", strconv.Itoa(port)}
	if l.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(l.Threads))
	}

	s := &whisperServer{
		endpoint: fmt.Sprintf("http://127.0.0.1:%d", port),
		cmd:      exec.Command(l.Executable, args...),
		done:     make(chan struct{}),
		grace:    l.StopGrace,
		logger:   logger,
	}
	s.cmd.Stderr = &s.stderr

	logger.Debug("starting whisper server", zap.String("server", l.Executable), zap.Strings("args", args))
	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start whisper-server: %w", err)
	}
	go func() {
		s.err = s.cmd.Wait()
		close(s.done)
	}()

	timeout := l.StartupTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	client := l.client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}

	if err := waitReady(ctx, client, s.endpoint+"/health", timeout, s.done); err != nil {
		_ = s.Stop()
		return nil, s.describe(err)
	}

	logger.Info("whisper server ready", zap.String("endpoint", s.endpoint), zap.String("model", filepath.Base(modelPath)))
	return s, nil
}

type whisperServer struct {
	endpoint string
	cmd      *exec.Cmd
	stderr   lockedBuffer
	done     chan struct{}
	err      error
	grace    time.Duration
	logger   *zap.Logger

	stopOnce sync.Once
}

func (s *whisperServer) Endpoint() string {
	return s.endpoint
}

func (s *whisperServer) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Stop interrupts the server and kills it after the grace period.
func (s *whisperServer) Stop() error {
	s.stopOnce.Do(func() {
		if !s.Alive() {
			return
		}

		if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = s.cmd.Process.Kill()
		}

		grace := s.grace
		if grace <= 0 {
			grace = 3 * time.Second
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case <-s.done:
		case <-timer.C:
			s.logger.Warn("whisper server ignored interrupt; killing", zap.String("endpoint", s.endpoint))
			_ = s.cmd.Process.Kill()
			<-s.done
		}
	})
	return nil
}

func (s *whisperServer) describe(err error) error {
	errText := strings.TrimSpace(s.stderr.String())
	if isMissingSharedLibraryError(errText) {
		return fmt.Errorf("whisper-server is missing required shared libraries (%s); rebuild whisper.cpp with BUILD_SHARED_LIBS=OFF", errText)
	}
	if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
		return errors.New("whisper-server crashed with an illegal CPU instruction; " +
			"your CPU may lack required instruction set extensions; " +
			"set " + serverEnvOverride + " to a whisper-server binary built for your CPU")
	}
	if errText != "" {
		return fmt.Errorf("%w (%s)", err, lastLines(errText, 5))
	}
	return err
}

// waitReady polls url until it answers 200, the process exits, or the
// timeout passes. whisper-server answers 503 while loading the model.
func waitReady(ctx context.Context, client *http.Client, url string, timeout time.Duration, exited <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-exited:
			return errors.New("whisper-server exited before becoming ready")
		case <-ctx.Done():
			return fmt.Errorf("whisper-server not ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func freeLoopbackPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// whisper-server logs every request; keep the tail only.
	if b.buf.Len() > 64<<10 {
		tail := append([]byte(nil), b.buf.Bytes()[b.buf.Len()-16<<10:]...)
		b.buf.Reset()
		b.buf.Write(tail)
	}
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

func serverBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-server.exe"
	}
	return "whisper-server"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}
