package record

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

type ffmpegMacBackend struct{}

func newFFMPEGMacOSBackend() Backend {
	return &ffmpegMacBackend{}
}

func (b *ffmpegMacBackend) Name() string {
	return "ffmpeg"
}

func (b *ffmpegMacBackend) Available() bool {
	return commandAvailable("ffmpeg")
}

func (b *ffmpegMacBackend) Commands(cfg Config) []CommandSpec {
	input := cfg.Input
	if input == "" {
		input = ":0"
	}
	return []CommandSpec{ffmpegSpec(cfg, "avfoundation", input)}
}

func (b *ffmpegMacBackend) ListDevices(ctx context.Context) (string, error) {
	return ffmpegDeviceListing(ctx, "avfoundation", "")
}

type ffmpegWindowsBackend struct{}

func newFFMPEGWindowsBackend() Backend {
	return &ffmpegWindowsBackend{}
}

func (b *ffmpegWindowsBackend) Name() string {
	return "ffmpeg"
}

func (b *ffmpegWindowsBackend) Available() bool {
	return commandAvailable("ffmpeg")
}

// Commands needs an explicit DirectShow device; "voxkey devices" prints
// the names.
func (b *ffmpegWindowsBackend) Commands(cfg Config) []CommandSpec {
	if cfg.Input == "" {
		return nil
	}
	input := cfg.Input
	if !strings.HasPrefix(input, "audio=") {
		input = "audio=" + input
	}
	return []CommandSpec{ffmpegSpec(cfg, "dshow", input)}
}

func (b *ffmpegWindowsBackend) ListDevices(ctx context.Context) (string, error) {
	return ffmpegDeviceListing(ctx, "dshow", "dummy")
}

// ffmpeg prints the device list to stderr and exits non-zero.
func ffmpegDeviceListing(ctx context.Context, format, input string) (string, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-f", format, "-list_devices", "true", "-i", input)
	out, _ := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return "", fmt.Errorf("ffmpeg returned no device output")
	}
	return trimmed, nil
}
