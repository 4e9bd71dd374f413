package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fmueller/voxkey/internal/config"
	"github.com/fmueller/voxkey/internal/notify"
	"github.com/fmueller/voxkey/internal/platform"
	"github.com/fmueller/voxkey/internal/transcribe"
	"github.com/fmueller/voxkey/internal/worker"
)

const noSpeechHint = "No speech detected. Check mic mute and selected input device, then try again."

// runDaemon wires the controller and runs until interrupted. Callbacks are
// executed on this goroutine, which plays the role of the UI context.
func (a *appState) runDaemon(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := a.config()
	if err != nil {
		return err
	}

	lock, err := a.acquireInstanceLock()
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.log().Warn("failed to release instance lock", zap.Error(err))
		}
	}()

	kind, err := a.detectKind(cfg)
	if err != nil {
		return err
	}
	backend, err := a.newBackend(kind)
	if err != nil {
		return err
	}

	capture, err := a.newCapture(cfg)
	if err != nil {
		return err
	}

	provider, cleanup, err := a.newProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if !provider.IsAvailable(ctx) {
		a.log().Warn("provider is not ready yet; first transcription may fail or be slow", zap.String("provider", provider.Name()))
	}
	a.startPreload(ctx, cfg, provider)

	ui := make(chan func(), 32)
	dispatch := func(fn func()) {
		select {
		case ui <- fn:
		case <-ctx.Done():
		}
	}

	status := &statusLine{enabled: a.progressEnabled()}
	defer status.clear()

	ctrl, err := worker.New(worker.Options{
		Backend:          backend,
		Capture:          capture,
		Provider:         provider,
		Notifier:         notify.New(cfg.Notifications, a.log()),
		Hotkey:           cfg.Hotkey,
		Language:         cfg.Language,
		AutoType:         cfg.AutoType,
		AutoEnter:        cfg.AutoEnter,
		TypingDelay:      cfg.TypingDelay,
		MinDuration:      cfg.MinDuration,
		RejectRepetitive: cfg.RejectRepetitive,
		Dispatch:         dispatch,
		Callbacks:        a.daemonCallbacks(status),
		Logger:           a.log(),
	})
	if err != nil {
		return err
	}

	if err := ctrl.Start(); err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Stop(); err != nil {
			a.log().Warn("failed to stop controller", zap.Error(err))
		}
	}()

	fmt.Fprintf(os.Stderr, "Hold %s to dictate (%s, provider %s). Press Ctrl+C to quit.\n", cfg.Hotkey, kind, provider.Name())

	for {
		select {
		case fn := <-ui:
			fn()
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *appState) acquireInstanceLock() (*platform.InstanceLock, error) {
	path := a.lockPath
	if path == "" {
		var err error
		if path, err = platform.ResolveLockPath(); err != nil {
			return nil, err
		}
	}
	return platform.AcquireInstanceLock(path)
}

func (a *appState) daemonCallbacks(status *statusLine) worker.Callbacks {
	return worker.Callbacks{
		OnRecordingChanged: func(recording bool) {
			if recording {
				a.log().Debug("recording")
				status.show("Recording")
				return
			}
			status.clear()
		},
		OnTranscribingChanged: func(transcribing bool) {
			if transcribing {
				a.log().Debug("transcribing")
				status.show("Transcribing")
				return
			}
			status.clear()
		},
		OnTranscriptionComplete: func(text, language string) {
			if text == "" {
				a.log().Warn(noSpeechHint)
				return
			}
			a.log().Debug("transcript ready", zap.String("language", language))
			fmt.Fprintln(a.outWriter(), text)
		},
		OnError: func(message string) {
			a.log().Error(message)
		},
	}
}

// startPreload loads the local model in the background so the first
// dictation does not wait for it.
func (a *appState) startPreload(ctx context.Context, cfg config.Config, provider transcribe.Provider) {
	if !cfg.Preload {
		return
	}

	pcfg, err := cfg.Provider("")
	if err != nil || pcfg.Type != transcribe.TypeLocal {
		a.log().Debug("preload only applies to local providers", zap.String("provider", provider.Name()))
		return
	}

	local, ok := provider.(*transcribe.LocalProvider)
	if !ok {
		return
	}

	go func() {
		if err := local.Preload(ctx); err != nil {
			a.log().Warn("preload failed", zap.String("model", pcfg.Model), zap.Error(err))
			return
		}
		a.log().Info("model preloaded", zap.String("model", pcfg.Model))
	}()
}
