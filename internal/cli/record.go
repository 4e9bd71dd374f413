package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/voxkey/internal/audio"
)

type recordOptions struct {
	duration  time.Duration
	output    string
	immediate bool
}

func newRecordCmd(app *appState) *cobra.Command {
	opts := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record audio into a WAV file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := app.recordAudio(cmd.Context(), *opts, os.Stdin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Record duration, e.g. 6s; 0 means interactive start/stop")
	cmd.Flags().StringVar(&opts.output, "output", "", "Output WAV file path")
	cmd.Flags().BoolVar(&opts.immediate, "immediate", false, "Start recording immediately without waiting for Enter")

	return cmd
}

// recordAudio uses the same capture path as the daemon, driven by Enter or
// a fixed duration instead of the hotkey.
func (a *appState) recordAudio(ctx context.Context, opts recordOptions, stdin io.Reader) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := a.config()
	if err != nil {
		return "", err
	}
	capture, err := a.newCapture(cfg)
	if err != nil {
		return "", err
	}

	lines := bufio.NewReader(stdin)
	interactive := opts.duration <= 0
	if interactive && !opts.immediate {
		if err := waitForEnter(lines, os.Stderr, "Press Enter to start recording."); err != nil {
			return "", err
		}
	}

	handle, err := capture.Start(ctx)
	if err != nil {
		return "", err
	}
	a.log().Info("recording started")

	var stopProgress stopFunc
	if interactive {
		stopProgress = startProgress(a.progressEnabled(), "Recording", 0)
		err = waitForEnter(lines, os.Stderr, "Recording. Press Enter to stop.")
	} else {
		stopProgress = startProgress(a.progressEnabled(), "Recording", opts.duration)
		err = sleepCtx(ctx, opts.duration)
	}
	stopProgress()
	if err != nil {
		capture.Abort(handle)
		return "", err
	}

	clip, err := capture.Stop(handle)
	if err != nil {
		return "", err
	}

	path := clip.Path()
	if opts.output != "" {
		if path, err = moveRecording(path, opts.output); err != nil {
			_ = clip.Release()
			return "", err
		}
	}

	if info, err := audio.Inspect(path); err == nil {
		a.log().Info("recording finished", zap.String("path", path), zap.Duration("duration", info.Duration))
	}
	return path, nil
}

func waitForEnter(r *bufio.Reader, prompt io.Writer, message string) error {
	fmt.Fprintln(prompt, message)
	_, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

func moveRecording(from, to string) (string, error) {
	if strings.TrimSpace(to) == "" {
		return from, nil
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	if err := os.Rename(from, to); err == nil {
		return to, nil
	}

	// Rename fails across filesystems.
	src, err := os.Open(from)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(to)
	if err != nil {
		return "", fmt.Errorf("create output file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("write output file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	_ = os.Remove(from)
	return to, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
