package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf16"
	"unsafe"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

var (
	user32        = windows.NewLazySystemDLL("user32.dll")
	procSendInput = user32.NewProc("SendInput")
)

const (
	inputKeyboard    = 1
	keyEventFKeyUp   = 0x0002
	keyEventFUnicode = 0x0004
)

type keyboardInput struct {
	wVk         uint16
	wScan       uint16
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

type sendInput struct {
	inputType uint32
	ki        keyboardInput
	padding   uint64
}

var keybdCodes = map[string]int{
	"enter":     keybd_event.VK_ENTER,
	"tab":       keybd_event.VK_TAB,
	"escape":    keybd_event.VK_ESC,
	"space":     keybd_event.VK_SPACE,
	"backspace": keybd_event.VK_BACKSPACE,
}

func init() {
	register(KindWindows, func(opts Options) (Backend, error) {
		return newWindowsBackend(opts)
	})
}

// WindowsBackend talks to user32 directly, so it needs no helper programs.
type WindowsBackend struct {
	logger   *zap.Logger
	hotkey   *globalHotkey
	keyboard *keyboardHook
}

func newWindowsBackend(opts Options) (*WindowsBackend, error) {
	if err := procSendInput.Find(); err != nil {
		return nil, &BackendError{Kind: KindWindows, Op: "init", Err: err}
	}
	logger := opts.logger()
	return &WindowsBackend{
		logger:   logger,
		hotkey:   newGlobalHotkey(KindWindows, logger),
		keyboard: newKeyboardHook(logger),
	}, nil
}

func (b *WindowsBackend) Kind() Kind { return KindWindows }

func (b *WindowsBackend) CopyToClipboard(_ context.Context, text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return &BackendError{Kind: KindWindows, Op: "copy_to_clipboard", Err: err}
	}
	return nil
}

// TypeText sends each UTF-16 unit as a unicode key event, which bypasses
// the active keyboard layout.
func (b *WindowsBackend) TypeText(ctx context.Context, text string, delay time.Duration) error {
	if text == "" {
		return nil
	}
	for i, unit := range utf16.Encode([]rune(text)) {
		if i > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return &BackendError{Kind: KindWindows, Op: "type_text", Err: err}
			}
		}
		inputs := []sendInput{
			{inputType: inputKeyboard, ki: keyboardInput{wScan: unit, dwFlags: keyEventFUnicode}},
			{inputType: inputKeyboard, ki: keyboardInput{wScan: unit, dwFlags: keyEventFUnicode | keyEventFKeyUp}},
		}
		sent, _, callErr := procSendInput.Call(
			uintptr(len(inputs)),
			uintptr(unsafe.Pointer(&inputs[0])),
			unsafe.Sizeof(inputs[0]),
		)
		if int(sent) != len(inputs) {
			return &BackendError{Kind: KindWindows, Op: "type_text", Err: fmt.Errorf("SendInput: %w", callErr)}
		}
	}
	return nil
}

func (b *WindowsBackend) PressKey(_ context.Context, name string) error {
	key, err := validPressKey(KindWindows, name)
	if err != nil {
		return err
	}
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return &BackendError{Kind: KindWindows, Op: "press_key", Err: err}
	}
	kb.SetKeys(keybdCodes[key])
	if err := kb.Launching(); err != nil {
		return &BackendError{Kind: KindWindows, Op: "press_key", Err: err}
	}
	return nil
}

// StartHotkeyListener uses RegisterHotKey for ordinary combos and a
// low-level keyboard hook when the trigger is a modifier such as ctrl_r.
func (b *WindowsBackend) StartHotkeyListener(combo string, onPress, onRelease func()) error {
	parsed, err := ParseCombo(combo)
	if err != nil {
		return &BackendError{Kind: KindWindows, Op: "start_hotkey_listener", Err: err}
	}
	if b.hotkey.active() || b.keyboard.active() {
		return &BackendError{Kind: KindWindows, Op: "start_hotkey_listener", Err: ErrListenerActive}
	}
	if parsed.ModifierOnly() {
		return b.keyboard.start(parsed, onPress, onRelease)
	}
	return b.hotkey.start(combo, onPress, onRelease)
}

func (b *WindowsBackend) StopHotkeyListener() error {
	return errors.Join(b.keyboard.stopListener(), b.hotkey.stopListener())
}
