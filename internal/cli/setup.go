package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/voxkey/internal/config"
	"github.com/fmueller/voxkey/internal/models"
	"github.com/fmueller/voxkey/internal/transcribe"
)

func newSetupCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Download and verify speech model assets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.config()
			if err != nil {
				return err
			}

			model := app.setupModel(cfg)
			if models.IsCustomPath(model) {
				if _, err := os.Stat(model); err != nil {
					return fmt.Errorf("custom model path does not exist: %s", model)
				}
				return fmt.Errorf("setup expects a named model; got custom path %s", model)
			}
			if _, err := models.LookupStrict(model); err != nil {
				return err
			}

			storage, err := app.modelStorage(cfg)
			if err != nil {
				return err
			}

			if path, ok := storage.ModelPath(model); ok {
				err := storage.Verify(model)
				if err == nil {
					app.log().Info("model already present", zap.String("model", model), zap.String("path", path))
					fmt.Fprintf(cmd.OutOrStdout(), "Model %s already present at %s\n", model, path)
					return nil
				}

				app.log().Warn("model checksum verification failed; downloading fresh copy", zap.String("model", model), zap.Error(err))
				if err := os.Remove(path); err != nil {
					return fmt.Errorf("remove corrupt model %s: %w", path, err)
				}
			}

			app.log().Info("downloading model", zap.String("model", model), zap.String("dir", storage.Dir()))
			path, err := storage.Download(cmd.Context(), model)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Model %s installed at %s\n", model, path)
			return nil
		},
	}

	return cmd
}

// setupModel prefers --model, then the active provider's model when it is
// local, then the catalog default.
func (a *appState) setupModel(cfg config.Config) string {
	if a.model != "" {
		return a.model
	}
	if p, err := cfg.Provider(""); err == nil && p.Type == transcribe.TypeLocal && p.Model != "" {
		return p.Model
	}
	for _, p := range cfg.Providers {
		if p.Type == transcribe.TypeLocal && p.Model != "" {
			return p.Model
		}
	}
	return models.DefaultModel
}
