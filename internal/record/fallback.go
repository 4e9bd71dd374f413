package record

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type ffmpegLinuxBackend struct{}

func newFFMPEGLinuxBackend() Backend {
	return &ffmpegLinuxBackend{}
}

func (b *ffmpegLinuxBackend) Name() string {
	return "ffmpeg"
}

func (b *ffmpegLinuxBackend) Available() bool {
	return commandAvailable("ffmpeg")
}

// Commands tries PulseAudio first and then raw ALSA unless a format is
// forced.
func (b *ffmpegLinuxBackend) Commands(cfg Config) []CommandSpec {
	input := cfg.Input
	if input == "" {
		input = "default"
	}

	formats := []string{"pulse", "alsa"}
	if cfg.Format != "" {
		formats = []string{cfg.Format}
	}

	specs := make([]CommandSpec, 0, len(formats))
	for _, format := range formats {
		specs = append(specs, ffmpegSpec(cfg, format, input))
	}
	return specs
}

func (b *ffmpegLinuxBackend) ListDevices(ctx context.Context) (string, error) {
	var sections []string

	if commandAvailable("pactl") {
		if out, err := commandOutput(ctx, "pactl", "list", "short", "sources"); err == nil {
			sections = append(sections, "PulseAudio/PipeWire sources:\n"+out)
		} else {
			sections = append(sections, "PulseAudio/PipeWire sources: "+err.Error())
		}
	}

	if commandAvailable("arecord") {
		if out, err := commandOutput(ctx, "arecord", "-L"); err == nil {
			sections = append(sections, "ALSA devices:\n"+out)
		} else {
			sections = append(sections, "ALSA devices: "+err.Error())
		}
	}

	if len(sections) == 0 {
		return "", errors.New("no device listing command available")
	}

	return strings.Join(sections, "\n\n"), nil
}

func ffmpegSpec(cfg Config, format, input string) CommandSpec {
	return CommandSpec{
		Label:     fmt.Sprintf("ffmpeg (%s/%s)", format, input),
		Name:      "ffmpeg",
		QuitInput: "q",
		Args: []string{
			"-hide_banner", "-loglevel", "error", "-y",
			"-f", format, "-i", input,
			"-ac", strconv.Itoa(defaultChannels(cfg.Channels)),
			"-ar", strconv.Itoa(defaultSampleRate(cfg.SampleRate)),
			"-c:a", "pcm_s16le",
			cfg.OutputPath,
		},
	}
}
