package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPreloadCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "preload [model]",
		Short: "Start the local inference server once to check that a model loads",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.config()
			if err != nil {
				return err
			}

			model := app.setupModel(cfg)
			if len(args) == 1 {
				model = args[0]
			}

			manager, err := app.newManager(cmd.Context(), cfg, model)
			if err != nil {
				return err
			}
			defer func() {
				if err := manager.Unload(); err != nil {
					app.log().Warn("failed to stop inference server", zap.Error(err))
				}
			}()

			stopSpinner := startProgress(app.progressEnabled(), "Loading "+model, 0)
			started := time.Now()
			err = manager.Preload(cmd.Context(), model)
			stopSpinner()
			if err != nil {
				return err
			}

			state := manager.Current()
			fmt.Fprintf(cmd.OutOrStdout(), "Model %s loaded in %s (server %s)\n", state.Model, time.Since(started).Round(time.Millisecond), state.Endpoint)
			return nil
		},
	}
}
