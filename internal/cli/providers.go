package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fmueller/voxkey/internal/config"
	"github.com/fmueller/voxkey/internal/transcribe"
)

func newProvidersCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured transcription providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.config()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\tNAME\tTYPE\tMODEL\tSTATUS")
			for _, name := range cfg.ProviderNames() {
				p := cfg.Providers[name]
				marker := ""
				if name == cfg.ActiveProvider {
					marker = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", marker, name, p.Type, p.Model, app.providerStatus(cfg, p))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if cfg.File != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\nconfig: %s\n", cfg.File)
			}
			return nil
		},
	}
}

// providerStatus reports what is known without contacting any service.
func (a *appState) providerStatus(cfg config.Config, p transcribe.ProviderConfig) string {
	switch p.Type {
	case transcribe.TypeRemote:
		if err := p.Validate(); err != nil {
			return "missing api key or url"
		}
		return "configured"
	case transcribe.TypeLocal:
		storage, err := a.modelStorage(cfg)
		if err != nil {
			return err.Error()
		}
		if storage.IsDownloaded(p.Model) {
			return "model downloaded"
		}
		return "model missing (run voxkey setup)"
	default:
		return "unknown type"
	}
}
