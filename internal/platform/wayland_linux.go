package platform

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

type typingMethod string

const (
	typingWtype     typingMethod = "wtype"
	typingYdotool   typingMethod = "ydotool"
	typingClipboard typingMethod = "clipboard"
)

var wtypeKeyNames = map[string]string{
	"enter":     "Return",
	"tab":       "Tab",
	"escape":    "Escape",
	"space":     "space",
	"backspace": "BackSpace",
}

func init() {
	register(KindWayland, func(opts Options) (Backend, error) {
		return newWaylandBackend(opts, execRunner{})
	})
}

// WaylandBackend types through wtype, falls back to a ydotool paste and
// finally to leaving the text on the clipboard. The method that worked is
// remembered until it fails.
type WaylandBackend struct {
	runner   commandRunner
	logger   *zap.Logger
	listener *evdevListener

	mu     sync.Mutex
	method typingMethod
}

func newWaylandBackend(opts Options, runner commandRunner) (*WaylandBackend, error) {
	if err := requireHelpers(KindWayland, runner, "wl-copy"); err != nil {
		return nil, err
	}
	logger := opts.logger()
	return &WaylandBackend{
		runner:   runner,
		logger:   logger,
		listener: newEvdevListener(logger),
	}, nil
}

func (b *WaylandBackend) Kind() Kind { return KindWayland }

func (b *WaylandBackend) CopyToClipboard(ctx context.Context, text string) error {
	if _, err := b.runner.run(ctx, text, "wl-copy"); err != nil {
		return &BackendError{Kind: KindWayland, Op: "copy_to_clipboard", Err: err}
	}
	return nil
}

// TypeText never fails once the clipboard fallback is reached; the caller
// has already placed the text there.
func (b *WaylandBackend) TypeText(ctx context.Context, text string, delay time.Duration) error {
	if text == "" {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.method {
	case typingWtype:
		if b.tryWtype(ctx, text, delay) {
			return nil
		}
	case typingYdotool:
		if b.tryYdotoolPaste(ctx) {
			return nil
		}
	case typingClipboard:
		return nil
	}

	switch {
	case b.tryWtype(ctx, text, delay):
		b.remember(typingWtype)
	case b.tryYdotoolPaste(ctx):
		b.remember(typingYdotool)
	default:
		b.remember(typingClipboard)
		b.logger.Warn("no typing tool works on this compositor; paste the transcript manually")
	}
	return nil
}

func (b *WaylandBackend) remember(method typingMethod) {
	if b.method != method {
		b.logger.Info("typing method selected", zap.String("method", string(method)))
	}
	b.method = method
}

func (b *WaylandBackend) currentMethod() typingMethod {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.method
}

func (b *WaylandBackend) tryWtype(ctx context.Context, text string, delay time.Duration) bool {
	if !hasHelper(b.runner, "wtype") {
		return false
	}
	ctx, cancel := typingContext(ctx, text, delay)
	defer cancel()
	if _, err := b.runner.run(ctx, "", "wtype", "-d", strconv.FormatInt(delay.Milliseconds(), 10), "--", text); err != nil {
		b.logger.Debug("wtype failed", zap.Error(err))
		return false
	}
	return true
}

func (b *WaylandBackend) tryYdotoolPaste(ctx context.Context) bool {
	if !hasHelper(b.runner, "ydotool") {
		return false
	}
	if _, err := b.runner.run(ctx, "", "pgrep", "ydotoold"); err != nil {
		b.logger.Debug("ydotoold is not running")
		return false
	}
	// ctrl down, v down, v up, ctrl up
	if _, err := b.runner.run(ctx, "", "ydotool", "key", "-d", "20", "29:1", "47:1", "47:0", "29:0"); err != nil {
		b.logger.Debug("ydotool paste failed", zap.Error(err))
		return false
	}
	return true
}

func (b *WaylandBackend) PressKey(ctx context.Context, name string) error {
	key, err := validPressKey(KindWayland, name)
	if err != nil {
		return err
	}

	if hasHelper(b.runner, "ydotool") {
		code := strconv.Itoa(int(keyTable[key].evdev))
		_, err := b.runner.run(ctx, "", "ydotool", "key", code+":1", code+":0")
		if err == nil {
			return nil
		}
		b.logger.Debug("ydotool key failed", zap.Error(err))
	}

	if hasHelper(b.runner, "wtype") {
		if _, err := b.runner.run(ctx, "", "wtype", "-k", wtypeKeyNames[key]); err != nil {
			return &BackendError{Kind: KindWayland, Op: "press_key", Err: err}
		}
		return nil
	}

	return &BackendError{Kind: KindWayland, Op: "press_key", Err: ErrHelperMissing}
}

func (b *WaylandBackend) StartHotkeyListener(combo string, onPress, onRelease func()) error {
	return b.listener.start(combo, onPress, onRelease)
}

func (b *WaylandBackend) StopHotkeyListener() error {
	return b.listener.stopListener()
}
