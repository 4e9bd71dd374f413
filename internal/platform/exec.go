package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

const helperTimeout = 4 * time.Second

// commandRunner runs desktop helper programs. Tests swap it for a fake.
type commandRunner interface {
	// run waits for the command and returns its trimmed combined output.
	run(ctx context.Context, stdin string, name string, args ...string) (string, error)
	// detach starts the command, feeds stdin and lets it live on. xclip
	// keeps serving the selection after we return.
	detach(stdin string, name string, args ...string) error
	lookPath(name string) (string, error)
}

type execRunner struct{}

func (execRunner) run(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx, cancel := context.WithTimeout(ctx, helperTimeout)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) > helperTimeout {
		runCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		trimmed := strings.TrimSpace(out.String())
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return trimmed, fmt.Errorf("%s timed out: %w", name, runCtx.Err())
		}
		if trimmed != "" {
			return trimmed, fmt.Errorf("%s failed: %w (%s)", name, err, trimmed)
		}
		return trimmed, fmt.Errorf("%s failed: %w", name, err)
	}

	return strings.TrimSpace(out.String()), nil
}

func (execRunner) detach(stdin string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	pipe, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open %s stdin: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		_ = pipe.Close()
		return fmt.Errorf("start %s: %w", name, err)
	}

	if _, err := io.WriteString(pipe, stdin); err != nil {
		_ = pipe.Close()
		_ = cmd.Process.Kill()
		return fmt.Errorf("write %s stdin: %w", name, err)
	}

	if err := pipe.Close(); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("close %s stdin: %w", name, err)
	}

	// reap in the background so no zombie is left once the selection is taken
	go func() { _ = cmd.Wait() }()
	return nil
}

func (execRunner) lookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// typingContext extends the helper deadline to cover per-character delays.
func typingContext(ctx context.Context, text string, delay time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	budget := helperTimeout + time.Duration(len([]rune(text)))*(delay+2*time.Millisecond)
	return context.WithTimeout(ctx, budget)
}

func requireHelpers(kind Kind, runner commandRunner, names ...string) error {
	var missing []string
	for _, name := range names {
		if _, err := runner.lookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &BackendError{Kind: kind, Op: "init", Err: fmt.Errorf("%w: %s", ErrHelperMissing, strings.Join(missing, ", "))}
}

func hasHelper(runner commandRunner, name string) bool {
	_, err := runner.lookPath(name)
	return err == nil
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
