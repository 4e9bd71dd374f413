package cli

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fmueller/voxkey/internal/platform"
	"github.com/fmueller/voxkey/internal/version"
)

func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, version.Resolve())
				return nil
			}

			kinds := platform.Available()
			names := make([]string, 0, len(kinds))
			for _, kind := range kinds {
				names = append(names, string(kind))
			}
			if len(names) == 0 {
				names = append(names, "none")
			}

			fmt.Fprintln(out, version.Detail())
			fmt.Fprintf(out, "platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "desktop backends: %s\n", strings.Join(names, ", "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")
	return cmd
}
