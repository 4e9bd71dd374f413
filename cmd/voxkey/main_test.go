package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fmueller/voxkey/internal/cli"
	"github.com/stretchr/testify/require"
)

func TestIsUsageError(t *testing.T) {
	t.Parallel()

	for message, want := range map[string]bool{
		`unknown command "bad" for "voxkey"`:                true,
		"unknown flag: --oops":                              true,
		"flag needs an argument: --hotkey":                  true,
		"accepts at most 1 arg(s), received 2":              true,
		`invalid argument "x" for "--typing-delay" flag`:    true,
		`hotkey "ctrl+nope": unknown key: invalid argument`: false,
		"another voxkey daemon is already running":          false,
	} {
		require.Equal(t, want, isUsageError(errors.New(message)), message)
	}
	require.False(t, isUsageError(nil))
}

func TestCommandFor(t *testing.T) {
	t.Parallel()

	root := cli.NewRootCmd()
	require.Equal(t, "voxkey", commandFor(root, nil))
	require.Equal(t, "voxkey", commandFor(root, []string{"--badflag"}))
	require.Equal(t, "voxkey", commandFor(root, []string{"badcmd"}))
	require.Equal(t, "voxkey transcribe", commandFor(root, []string{"transcribe", "--copy"}))
	require.Equal(t, "voxkey providers", commandFor(root, []string{"providers"}))
}

func TestRunExitStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		args   []string
		status int
		stderr string
	}{
		{name: "help", args: []string{"--help"}, status: exitOK},
		{name: "unknown command", args: []string{"badcmd"}, status: exitUsage, stderr: "See 'voxkey --help'."},
		{name: "unknown subcommand flag", args: []string{"transcribe", "--bogus", "f.wav"}, status: exitUsage, stderr: "See 'voxkey transcribe --help'."},
		{name: "missing config", args: []string{"providers", "--config", "/no/such/config.yaml"}, status: exitError, stderr: "config file /no/such/config.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var stderr bytes.Buffer
			require.Equal(t, tt.status, run(tt.args, &stderr))
			require.Contains(t, stderr.String(), tt.stderr)
			if tt.status != exitOK {
				require.True(t, strings.HasPrefix(stderr.String(), "voxkey: "))
			}
			if tt.status == exitError {
				require.NotContains(t, stderr.String(), "--help")
			}
		})
	}
}
