package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fmueller/voxkey/internal/apperr"
)

const appDirName = "voxkey"

// BaseDirs carries the per-user directories the platform conventions derive
// from. Fields may be empty; the OS-specific defaults then apply.
type BaseDirs struct {
	Home         string
	XDGData      string
	XDGConfig    string
	AppData      string
	LocalAppData string
}

// CurrentBaseDirs reads BaseDirs from the process environment.
func CurrentBaseDirs() (BaseDirs, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return BaseDirs{}, fmt.Errorf("resolve user home: %w", err)
	}
	return BaseDirs{
		Home:         home,
		XDGData:      os.Getenv("XDG_DATA_HOME"),
		XDGConfig:    os.Getenv("XDG_CONFIG_HOME"),
		AppData:      os.Getenv("APPDATA"),
		LocalAppData: os.Getenv("LOCALAPPDATA"),
	}, nil
}

// DetectKind picks the backend for goos. An explicit override other than
// "auto" wins; on Linux a Wayland display beats the X11 default.
func DetectKind(goos, override string, getenv func(string) string) (Kind, error) {
	override = strings.ToLower(strings.TrimSpace(override))
	if override != "" && override != "auto" {
		kind := Kind(override)
		if !kind.Valid() {
			return "", fmt.Errorf("backend %q: %w", override, apperr.ErrInvalidArgument)
		}
		return kind, nil
	}

	switch goos {
	case "linux":
		if getenv != nil && getenv("WAYLAND_DISPLAY") != "" {
			return KindWayland, nil
		}
		return KindX11, nil
	case "darwin":
		return KindDarwin, nil
	case "windows":
		return KindWindows, nil
	default:
		return "", fmt.Errorf("unsupported OS %s: %w", goos, ErrUnsupported)
	}
}

func DefaultModelDirFor(goos string, dirs BaseDirs) (string, error) {
	dataDir, err := dataDirFor(goos, dirs)
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "models"), nil
}

func DefaultRecordingDirFor(goos string, dirs BaseDirs) (string, error) {
	dataDir, err := dataDirFor(goos, dirs)
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "recordings"), nil
}

// DefaultLockPathFor is where the daemon keeps its instance lock.
func DefaultLockPathFor(goos string, dirs BaseDirs) (string, error) {
	dataDir, err := dataDirFor(goos, dirs)
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, appDirName+".lock"), nil
}

func DefaultConfigDirFor(goos string, dirs BaseDirs) (string, error) {
	if dirs.Home == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux":
		if dirs.XDGConfig != "" {
			return filepath.Join(dirs.XDGConfig, appDirName), nil
		}
		return filepath.Join(dirs.Home, ".config", appDirName), nil
	case "darwin":
		return filepath.Join(dirs.Home, "Library", "Application Support", appDirName), nil
	case "windows":
		if dirs.AppData != "" {
			return filepath.Join(dirs.AppData, appDirName), nil
		}
		return filepath.Join(dirs.Home, "AppData", "Roaming", appDirName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}

func ResolveModelDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	dirs, err := CurrentBaseDirs()
	if err != nil {
		return "", err
	}
	return DefaultModelDirFor(runtime.GOOS, dirs)
}

func ResolveRecordingDir() (string, error) {
	dirs, err := CurrentBaseDirs()
	if err != nil {
		return "", err
	}
	return DefaultRecordingDirFor(runtime.GOOS, dirs)
}

func ResolveLockPath() (string, error) {
	dirs, err := CurrentBaseDirs()
	if err != nil {
		return "", err
	}
	return DefaultLockPathFor(runtime.GOOS, dirs)
}

func ResolveConfigDir() (string, error) {
	dirs, err := CurrentBaseDirs()
	if err != nil {
		return "", err
	}
	return DefaultConfigDirFor(runtime.GOOS, dirs)
}

func dataDirFor(goos string, dirs BaseDirs) (string, error) {
	if dirs.Home == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux":
		if dirs.XDGData != "" {
			return filepath.Join(dirs.XDGData, appDirName), nil
		}
		return filepath.Join(dirs.Home, ".local", "share", appDirName), nil
	case "darwin":
		return filepath.Join(dirs.Home, "Library", "Application Support", appDirName), nil
	case "windows":
		if dirs.LocalAppData != "" {
			return filepath.Join(dirs.LocalAppData, appDirName), nil
		}
		return filepath.Join(dirs.Home, "AppData", "Local", appDirName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}
