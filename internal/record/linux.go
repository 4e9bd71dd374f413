package record

import (
	"context"
	"fmt"
	"strconv"
)

// toolRecorder runs one command-line recorder that writes the WAV file
// given as its last argument.
type toolRecorder struct {
	name string
	args func(cfg Config) []string
	// listings are tried in order; the first installed tool wins.
	listings [][]string
}

func newPipeWireBackend() Backend {
	return &toolRecorder{
		name: "pw-record",
		args: func(cfg Config) []string {
			args := []string{"--rate", strconv.Itoa(defaultSampleRate(cfg.SampleRate)), "--channels", strconv.Itoa(defaultChannels(cfg.Channels)), "--format", "s16"}
			if cfg.Input != "" {
				args = append(args, "--target", cfg.Input)
			}
			return args
		},
		listings: [][]string{
			{"pw-cli", "ls", "Node"},
			{"pactl", "list", "short", "sources"},
		},
	}
}

func newALSARecorderBackend() Backend {
	return &toolRecorder{
		name: "arecord",
		args: func(cfg Config) []string {
			args := []string{"-q", "-f", "S16_LE", "-r", strconv.Itoa(defaultSampleRate(cfg.SampleRate)), "-c", strconv.Itoa(defaultChannels(cfg.Channels))}
			if cfg.Input != "" {
				args = append(args, "-D", cfg.Input)
			}
			return args
		},
		listings: [][]string{{"arecord", "-L"}},
	}
}

func (r *toolRecorder) Name() string {
	return r.name
}

func (r *toolRecorder) Available() bool {
	return commandAvailable(r.name)
}

func (r *toolRecorder) Commands(cfg Config) []CommandSpec {
	args := append(r.args(cfg), cfg.OutputPath)
	return []CommandSpec{{Name: r.name, Args: args}}
}

func (r *toolRecorder) ListDevices(ctx context.Context) (string, error) {
	for _, listing := range r.listings {
		if commandAvailable(listing[0]) {
			return commandOutput(ctx, listing[0], listing[1:]...)
		}
	}
	return "", fmt.Errorf("no %s device listing command available", r.name)
}
