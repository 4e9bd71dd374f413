package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/voxkey/internal/record"
	"github.com/fmueller/voxkey/internal/transcribe"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var copyToClipboard bool

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file with the active provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transcribeFn := app.transcribeFn
			if transcribeFn == nil {
				transcribeFn = app.transcribeAudio
			}

			copyFn := app.copyFn
			if copyFn == nil {
				copyFn = app.copyToClipboard
			}

			result, err := transcribeFn(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			text := transcribe.CleanText(result.Text)
			fmt.Fprintln(cmd.OutOrStdout(), text)
			if text == "" {
				app.log().Warn(noSpeechHint)
				if !app.copyEmpty {
					return nil
				}
			}

			if copyToClipboard {
				if err := copyFn(cmd.Context(), text); err != nil {
					return err
				}
				app.log().Info("transcript copied to clipboard")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&copyToClipboard, "copy", false, "Copy transcript to clipboard")
	return cmd
}

func (a *appState) transcribeAudio(ctx context.Context, audioPath string) (transcribe.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	audioPath = filepath.Clean(audioPath)
	if _, err := os.Stat(audioPath); err != nil {
		return transcribe.Result{}, fmt.Errorf("audio file not found: %w", err)
	}

	cfg, err := a.config()
	if err != nil {
		return transcribe.Result{}, err
	}

	provider, cleanup, err := a.newProvider(ctx, cfg)
	if err != nil {
		return transcribe.Result{}, err
	}
	defer cleanup()

	language := cfg.Language
	a.log().Info("transcribing...", zap.String("audio", audioPath), zap.String("provider", provider.Name()), zap.String("language", language))
	stopSpinner := startProgress(a.progressEnabled(), "Transcribing", 0)
	started := time.Now()

	result, err := provider.Transcribe(ctx, record.Existing(audioPath), language)
	stopSpinner()
	if err != nil {
		a.log().Warn("transcription failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return transcribe.Result{}, err
	}
	a.log().Info("transcription finished", zap.Duration("elapsed", time.Since(started)), zap.String("language", result.Language))

	return result, nil
}

func (a *appState) copyToClipboard(ctx context.Context, value string) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}

	kind, err := a.detectKind(cfg)
	if err != nil {
		return err
	}
	backend, err := a.newBackend(kind)
	if err != nil {
		return err
	}
	return backend.CopyToClipboard(ctx, value)
}

func sanitizeLanguage(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return "auto"
	}
	return trimmed
}
