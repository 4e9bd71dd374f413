package cli

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/fmueller/voxkey/internal/config"
	"github.com/fmueller/voxkey/internal/download"
	"github.com/fmueller/voxkey/internal/models"
	"github.com/fmueller/voxkey/internal/platform"
	"github.com/fmueller/voxkey/internal/record"
	"github.com/fmueller/voxkey/internal/transcribe"
	"github.com/fmueller/voxkey/internal/worker"
)

func (a *appState) detectKind(cfg config.Config) (platform.Kind, error) {
	return platform.DetectKind(runtime.GOOS, cfg.Backend, os.Getenv)
}

func (a *appState) newBackend(kind platform.Kind) (platform.Backend, error) {
	if a.backendFn != nil {
		return a.backendFn(kind)
	}
	return platform.New(kind, platform.Options{Logger: a.log()})
}

func (a *appState) newCapture(cfg config.Config) (worker.Capture, error) {
	if a.captureFn != nil {
		return a.captureFn(cfg)
	}

	c, err := a.recorderCapture(cfg)
	if err != nil {
		return nil, err
	}
	return worker.NewRecorderCapture(c), nil
}

func (a *appState) recorderCapture(cfg config.Config) (*record.Capture, error) {
	backends, err := record.HostBackends()
	if err != nil {
		return nil, err
	}

	dir := cfg.Recorder.Dir
	if dir == "" {
		if dir, err = platform.ResolveRecordingDir(); err != nil {
			return nil, err
		}
	}

	return record.NewCapture(record.CaptureOptions{
		Backends:   backends,
		Preferred:  cfg.Recorder.Backend,
		Dir:        dir,
		SampleRate: cfg.Recorder.SampleRate,
		Channels:   cfg.Recorder.Channels,
		Input:      cfg.Recorder.Input,
		Format:     cfg.Recorder.Format,
		Logger:     a.log(),
	})
}

// newProvider builds the active provider. The returned cleanup stops the
// local inference server, if one was started.
func (a *appState) newProvider(ctx context.Context, cfg config.Config) (transcribe.Provider, func(), error) {
	if a.providerFn != nil {
		return a.providerFn(ctx, cfg)
	}

	pcfg, err := cfg.Provider("")
	if err != nil {
		return nil, nil, err
	}

	deps := transcribe.Deps{Logger: a.log()}
	cleanup := func() {}

	if pcfg.Type == transcribe.TypeLocal {
		manager, err := a.newManager(ctx, cfg, pcfg.Model)
		if err != nil {
			return nil, nil, err
		}
		deps.Models = manager
		cleanup = func() {
			if err := manager.Unload(); err != nil {
				a.log().Warn("failed to stop inference server", zap.Error(err))
			}
		}
	}

	provider, err := transcribe.DefaultRegistry().Create(pcfg, deps)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return provider, cleanup, nil
}

func (a *appState) newManager(ctx context.Context, cfg config.Config, model string) (*models.Manager, error) {
	storage, err := a.modelStorage(cfg)
	if err != nil {
		return nil, err
	}
	if err := a.ensureModelAvailable(ctx, storage, model); err != nil {
		return nil, err
	}

	launcher, err := models.NewServerLauncher(a.log())
	if err != nil {
		return nil, err
	}
	return models.NewManager(storage, launcher, a.log()), nil
}

func (a *appState) modelStorage(cfg config.Config) (*models.DirStorage, error) {
	override := cfg.ModelDir
	if a.modelDir != "" {
		override = a.modelDir
	}

	dir, err := platform.ResolveModelDir(override)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model directory %s: %w", dir, err)
	}

	return models.NewDirStorage(dir, download.New(download.Options{
		NoProgress: a.noProgress,
		Logger:     a.log(),
	}))
}

func (a *appState) ensureModelAvailable(ctx context.Context, storage *models.DirStorage, model string) error {
	if model == "" {
		model = models.DefaultModel
	}
	if storage.IsDownloaded(model) {
		return nil
	}

	if models.IsCustomPath(model) {
		return fmt.Errorf("custom model path does not exist: %s", model)
	}
	if _, err := models.LookupStrict(model); err != nil {
		return err
	}

	if !a.autoDownload {
		return fmt.Errorf("%w: %s; run `voxkey setup --model %s` or use --auto-download=true", models.ErrModelNotDownloaded, model, model)
	}

	a.log().Info("model not found, downloading", zap.String("model", model), zap.String("dir", storage.Dir()))
	_, err := storage.Download(ctx, model)
	return err
}
