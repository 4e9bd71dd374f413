// Package record captures microphone audio into WAV files through the
// command-line recorders available on the host.
package record

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

var ErrNoBackendAvailable = errors.New("no recording backend available")

// Config describes one capture.
type Config struct {
	OutputPath string
	SampleRate int
	Channels   int
	Input      string
	Format     string
}

// CommandSpec is one way of running a recorder. Backends return several
// when the right audio subsystem is only known after trying. QuitInput is
// written to stdin when the OS cannot deliver an interrupt.
type CommandSpec struct {
	Label     string
	Name      string
	Args      []string
	QuitInput string
}

func (c CommandSpec) String() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Name
}

type Backend interface {
	Name() string
	Available() bool
	Commands(cfg Config) []CommandSpec
	ListDevices(ctx context.Context) (string, error)
}

func SelectBackend(backends []Backend, preferred string) (Backend, error) {
	ordered, err := orderBackends(backends, preferred)
	if err != nil {
		return nil, err
	}

	if preferred != "" && preferred != "auto" {
		if !ordered[0].Available() {
			return nil, fmt.Errorf("requested backend %q is not available", preferred)
		}
		return ordered[0], nil
	}

	for _, backend := range ordered {
		if backend.Available() {
			return backend, nil
		}
	}

	return nil, ErrNoBackendAvailable
}

func DefaultBackends(goos string) []Backend {
	switch goos {
	case "linux":
		return []Backend{newPipeWireBackend(), newALSARecorderBackend(), newFFMPEGLinuxBackend()}
	case "darwin":
		return []Backend{newFFMPEGMacOSBackend()}
	case "windows":
		return []Backend{newFFMPEGWindowsBackend()}
	default:
		return nil
	}
}

// HostBackends returns the recorders for the running OS.
func HostBackends() ([]Backend, error) {
	backends := DefaultBackends(runtime.GOOS)
	if len(backends) == 0 {
		return nil, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
	return backends, nil
}

// orderBackends moves the preferred backend to the front so it is tried
// first and the rest still serve as fallbacks.
func orderBackends(backends []Backend, preferred string) ([]Backend, error) {
	if len(backends) == 0 {
		return nil, errors.New("no backends configured")
	}

	if preferred == "" || preferred == "auto" {
		return backends, nil
	}

	preferredIndex := -1
	for i, backend := range backends {
		if backend.Name() == preferred {
			preferredIndex = i
			break
		}
	}
	if preferredIndex == -1 {
		return nil, fmt.Errorf("unknown backend %q", preferred)
	}

	ordered := make([]Backend, 0, len(backends))
	ordered = append(ordered, backends[preferredIndex])
	ordered = append(ordered, backends[:preferredIndex]...)
	ordered = append(ordered, backends[preferredIndex+1:]...)
	return ordered, nil
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func commandOutput(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed != "" {
			return "", fmt.Errorf("%s %s failed: %w (%s)", name, strings.Join(args, " "), err, trimmed)
		}
		return "", fmt.Errorf("%s %s failed: %w", name, strings.Join(args, " "), err)
	}
	return trimmed, nil
}

func defaultSampleRate(value int) int {
	if value <= 0 {
		return 16000
	}
	return value
}

func defaultChannels(value int) int {
	if value <= 0 {
		return 1
	}
	return value
}
