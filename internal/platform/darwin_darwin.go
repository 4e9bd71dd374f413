package platform

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework ApplicationServices -framework Foundation
#import <ApplicationServices/ApplicationServices.h>
#import <Foundation/Foundation.h>

static int voxkeyTrusted(void) {
    return AXIsProcessTrusted() ? 1 : 0;
}

static void voxkeyTypeUnit(UniChar c) {
    CGEventRef down = CGEventCreateKeyboardEvent(NULL, 0, true);
    CGEventRef up = CGEventCreateKeyboardEvent(NULL, 0, false);
    CGEventKeyboardSetUnicodeString(down, 1, &c);
    CGEventKeyboardSetUnicodeString(up, 1, &c);
    CGEventPost(kCGHIDEventTap, down);
    CGEventPost(kCGHIDEventTap, up);
    CFRelease(down);
    CFRelease(up);
}

static void voxkeyPressKey(CGKeyCode code) {
    CGEventRef down = CGEventCreateKeyboardEvent(NULL, code, true);
    CGEventRef up = CGEventCreateKeyboardEvent(NULL, code, false);
    CGEventPost(kCGHIDEventTap, down);
    CGEventPost(kCGHIDEventTap, up);
    CFRelease(down);
    CFRelease(up);
}
*/
import "C"

import (
	"context"
	"errors"
	"time"
	"unicode/utf16"

	"go.uber.org/zap"
)

func init() {
	register(KindDarwin, func(opts Options) (Backend, error) {
		return newDarwinBackend(opts, execRunner{})
	})
}

// DarwinBackend posts CGEvents. Typing needs the Accessibility permission
// for the terminal or app bundle running voxkey.
type DarwinBackend struct {
	runner commandRunner
	logger *zap.Logger
	hotkey *globalHotkey
	tap    *flagsTap
}

func newDarwinBackend(opts Options, runner commandRunner) (*DarwinBackend, error) {
	if err := requireHelpers(KindDarwin, runner, "pbcopy"); err != nil {
		return nil, err
	}
	logger := opts.logger()
	if C.voxkeyTrusted() == 0 {
		logger.Warn("accessibility permission missing; grant it in System Settings > Privacy & Security > Accessibility")
	}
	return &DarwinBackend{
		runner: runner,
		logger: logger,
		hotkey: newGlobalHotkey(KindDarwin, logger),
		tap:    newFlagsTap(logger),
	}, nil
}

func (b *DarwinBackend) Kind() Kind { return KindDarwin }

func (b *DarwinBackend) CopyToClipboard(ctx context.Context, text string) error {
	if _, err := b.runner.run(ctx, text, "pbcopy"); err != nil {
		return &BackendError{Kind: KindDarwin, Op: "copy_to_clipboard", Err: err}
	}
	return nil
}

func (b *DarwinBackend) TypeText(ctx context.Context, text string, delay time.Duration) error {
	if text == "" {
		return nil
	}
	if C.voxkeyTrusted() == 0 {
		return &BackendError{Kind: KindDarwin, Op: "type_text", Err: ErrPermission}
	}
	for i, unit := range utf16.Encode([]rune(text)) {
		if i > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return &BackendError{Kind: KindDarwin, Op: "type_text", Err: err}
			}
		}
		C.voxkeyTypeUnit(C.UniChar(unit))
	}
	return nil
}

func (b *DarwinBackend) PressKey(_ context.Context, name string) error {
	key, err := validPressKey(KindDarwin, name)
	if err != nil {
		return err
	}
	if C.voxkeyTrusted() == 0 {
		return &BackendError{Kind: KindDarwin, Op: "press_key", Err: ErrPermission}
	}
	C.voxkeyPressKey(C.CGKeyCode(keyTable[key].darwin))
	return nil
}

// StartHotkeyListener registers ordinary combos as Carbon hotkeys and
// watches modifier-only combos such as ctrl_r through an event tap.
func (b *DarwinBackend) StartHotkeyListener(combo string, onPress, onRelease func()) error {
	parsed, err := ParseCombo(combo)
	if err != nil {
		return &BackendError{Kind: KindDarwin, Op: "start_hotkey_listener", Err: err}
	}
	if b.hotkey.active() || b.tap.active() {
		return &BackendError{Kind: KindDarwin, Op: "start_hotkey_listener", Err: ErrListenerActive}
	}
	if parsed.ModifierOnly() {
		return b.tap.start(parsed, onPress, onRelease)
	}
	return b.hotkey.start(combo, onPress, onRelease)
}

func (b *DarwinBackend) StopHotkeyListener() error {
	return errors.Join(b.tap.stopListener(), b.hotkey.stopListener())
}
