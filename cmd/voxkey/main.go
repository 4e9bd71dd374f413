package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/fmueller/voxkey/internal/cli"
	"github.com/fmueller/voxkey/internal/platform"
	"github.com/spf13/cobra"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// Cobra reports argument and flag mistakes as plain errors; these
// fragments pick them out.
var usageMarkers = []string{
	"unknown command",
	"unknown flag",
	"unknown shorthand flag",
	"flag needs an argument",
	"invalid argument \"",
	"accepts ",
	"requires at least",
	"requires at most",
	"requires between",
	"required flag",
}

func main() {
	status := exitOK
	// hotkey registration on macOS has to happen on the main thread
	platform.RunOnMainThread(func() { status = run(os.Args[1:], os.Stderr) })
	os.Exit(status)
}

func run(args []string, stderr io.Writer) int {
	root := cli.NewRootCmd()
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return exitOK
	}

	fmt.Fprintf(stderr, "voxkey: %v\n", err)
	if !isUsageError(err) {
		return exitError
	}
	fmt.Fprintf(stderr, "See '%s --help'.\n", commandFor(root, args))
	return exitUsage
}

func isUsageError(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return slices.ContainsFunc(usageMarkers, func(marker string) bool {
		return strings.Contains(message, marker)
	})
}

// commandFor names the deepest subcommand that args resolve to.
func commandFor(root *cobra.Command, args []string) string {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		if found, _, err := root.Find(args); err == nil {
			return found.CommandPath()
		}
	}
	return root.CommandPath()
}
