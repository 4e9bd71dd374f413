// Package platform hides the OS-specific pieces of text injection and
// global hotkey capture behind Backend.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fmueller/voxkey/internal/apperr"
	"go.uber.org/zap"
)

// Kind tags a Backend variant.
type Kind string

const (
	KindX11     Kind = "x11"
	KindWayland Kind = "wayland"
	KindDarwin  Kind = "darwin"
	KindWindows Kind = "windows"
)

func (k Kind) Valid() bool {
	switch k {
	case KindX11, KindWayland, KindDarwin, KindWindows:
		return true
	default:
		return false
	}
}

var (
	ErrUnsupported    = errors.New("not supported on this platform")
	ErrHelperMissing  = errors.New("required helper program not found")
	ErrListenerActive = errors.New("hotkey listener already running")
	ErrPermission     = errors.New("permission denied")
	ErrNoInputDevices = errors.New("no keyboard input devices found")
)

// BackendError reports a failed backend operation.
type BackendError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Backend is the capability set the worker needs from the desktop.
//
// Hotkey callbacks run on the listener goroutine and must return quickly.
// After StopHotkeyListener returns no callback fires; callbacks must not
// call StopHotkeyListener themselves.
type Backend interface {
	Kind() Kind
	CopyToClipboard(ctx context.Context, text string) error
	TypeText(ctx context.Context, text string, delay time.Duration) error
	PressKey(ctx context.Context, name string) error
	StartHotkeyListener(combo string, onPress, onRelease func()) error
	StopHotkeyListener() error
}

type Options struct {
	Logger *zap.Logger
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

type constructor func(Options) (Backend, error)

var (
	constructorsMu sync.RWMutex
	constructors   = map[Kind]constructor{}
)

func register(kind Kind, fn constructor) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	constructors[kind] = fn
}

// New builds the backend for kind. Kinds that exist but were not compiled
// into this binary fail with ErrUnsupported.
func New(kind Kind, opts Options) (Backend, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("backend %q: %w", kind, apperr.ErrInvalidArgument)
	}

	constructorsMu.RLock()
	fn, ok := constructors[kind]
	constructorsMu.RUnlock()
	if !ok {
		return nil, &BackendError{Kind: kind, Op: "init", Err: ErrUnsupported}
	}

	return fn(opts)
}

// Available lists the kinds compiled into this binary.
func Available() []Kind {
	constructorsMu.RLock()
	defer constructorsMu.RUnlock()
	kinds := make([]Kind, 0, len(constructors))
	for kind := range constructors {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// validPressKey rejects names outside the injectable key set.
func validPressKey(kind Kind, name string) (string, error) {
	normalized := normalizeKeyName(name)
	if _, ok := pressKeys[normalized]; !ok {
		return "", &BackendError{Kind: kind, Op: "press_key", Err: fmt.Errorf("key %q: %w", name, apperr.ErrInvalidArgument)}
	}
	return normalized, nil
}
