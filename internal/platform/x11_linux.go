package platform

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

var xdotoolKeyNames = map[string]string{
	"enter":     "Return",
	"tab":       "Tab",
	"escape":    "Escape",
	"space":     "space",
	"backspace": "BackSpace",
}

func init() {
	register(KindX11, func(opts Options) (Backend, error) {
		return newX11Backend(opts, execRunner{})
	})
}

// X11Backend drives xclip and xdotool and grabs the hotkey through Xlib.
type X11Backend struct {
	runner commandRunner
	logger *zap.Logger
	hotkey *globalHotkey
}

func newX11Backend(opts Options, runner commandRunner) (*X11Backend, error) {
	if err := requireHelpers(KindX11, runner, "xclip", "xdotool"); err != nil {
		return nil, err
	}
	logger := opts.logger()
	return &X11Backend{
		runner: runner,
		logger: logger,
		hotkey: newGlobalHotkey(KindX11, logger),
	}, nil
}

func (b *X11Backend) Kind() Kind { return KindX11 }

func (b *X11Backend) CopyToClipboard(_ context.Context, text string) error {
	if err := b.runner.detach(text, "xclip", "-selection", "clipboard", "-in", "-silent"); err != nil {
		return &BackendError{Kind: KindX11, Op: "copy_to_clipboard", Err: err}
	}
	return nil
}

func (b *X11Backend) TypeText(ctx context.Context, text string, delay time.Duration) error {
	if text == "" {
		return nil
	}
	ctx, cancel := typingContext(ctx, text, delay)
	defer cancel()
	args := []string{"type", "--delay", strconv.FormatInt(delay.Milliseconds(), 10), "--clearmodifiers", "--", text}
	if _, err := b.runner.run(ctx, "", "xdotool", args...); err != nil {
		return &BackendError{Kind: KindX11, Op: "type_text", Err: err}
	}
	return nil
}

func (b *X11Backend) PressKey(ctx context.Context, name string) error {
	key, err := validPressKey(KindX11, name)
	if err != nil {
		return err
	}
	if _, err := b.runner.run(ctx, "", "xdotool", "key", "--clearmodifiers", xdotoolKeyNames[key]); err != nil {
		return &BackendError{Kind: KindX11, Op: "press_key", Err: err}
	}
	return nil
}

func (b *X11Backend) StartHotkeyListener(combo string, onPress, onRelease func()) error {
	return b.hotkey.start(combo, onPress, onRelease)
}

func (b *X11Backend) StopHotkeyListener() error {
	return b.hotkey.stopListener()
}
