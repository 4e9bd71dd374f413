package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fmueller/voxkey/internal/record"
)

func newDevicesCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List recording devices and backend diagnostics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backends, err := record.HostBackends()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, backend := range backends {
				fmt.Fprintf(out, "== %s ==\n", backend.Name())
				if !backend.Available() {
					fmt.Fprintln(out, "not available on PATH")
					fmt.Fprintln(out)
					continue
				}

				listing, err := backend.ListDevices(cmd.Context())
				if err != nil {
					fmt.Fprintf(out, "failed to list devices: %v\n\n", err)
					continue
				}

				if listing == "" {
					fmt.Fprintln(out, "no output")
					fmt.Fprintln(out)
					continue
				}

				fmt.Fprintln(out, listing)
				fmt.Fprintln(out)
			}

			printDesktopBackend(out, app)
			return nil
		},
	}
}

func printDesktopBackend(out io.Writer, app *appState) {
	fmt.Fprintln(out, "== desktop ==")

	cfg, err := app.config()
	if err != nil {
		fmt.Fprintf(out, "config error: %v\n", err)
		return
	}

	kind, err := app.detectKind(cfg)
	if err != nil {
		fmt.Fprintf(out, "no desktop backend: %v\n", err)
		return
	}
	fmt.Fprintf(out, "detected: %s\n", kind)

	if _, err := app.newBackend(kind); err != nil {
		fmt.Fprintf(out, "unusable: %v\n", err)
		return
	}
	fmt.Fprintln(out, "ready")
}
