package platform

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

var (
	procSetWindowsHookExW   = user32.NewProc("SetWindowsHookExW")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procGetMessageW         = user32.NewProc("GetMessageW")
	procPostThreadMessageW  = user32.NewProc("PostThreadMessageW")
	procGetAsyncKeyState    = user32.NewProc("GetAsyncKeyState")
)

const (
	whKeyboardLL  = 13
	wmKeyDown     = 0x0100
	wmKeyUp       = 0x0101
	wmSysKeyDown  = 0x0104
	wmSysKeyUp    = 0x0105
	wmQuit        = 0x0012
	llkhfInjected = 0x10
)

type kbdLLHookStruct struct {
	vkCode      uint32
	scanCode    uint32
	flags       uint32
	time        uint32
	dwExtraInfo uintptr
}

type winMsg struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	ptX     int32
	ptY     int32
}

// virtual keys checked for each modifier; any one held satisfies it
var asyncModifierKeys = map[Modifier][]uintptr{
	ModCtrl:  {0x11},
	ModShift: {0x10},
	ModAlt:   {0x12},
	ModSuper: {0x5b, 0x5c},
}

// Callbacks made with windows.NewCallback are never freed, so one is
// shared by every hook and routed to the installed one.
var (
	hookCallbackOnce sync.Once
	hookCallback     uintptr
	installedHook    atomic.Pointer[hookTarget]
)

type hookTarget struct {
	vk    uint32
	watch *modifierWatch
}

// keyboardHook watches a modifier-only combo through a WH_KEYBOARD_LL hook.
// RegisterHotKey never fires for a bare modifier. The hook is passive and
// passes every event on.
type keyboardHook struct {
	logger *zap.Logger

	mu     sync.Mutex
	target *hookTarget
	thread uint32
	gate   *callbackGate
	stop   chan struct{}
	done   chan struct{}
	looped chan struct{}
}

func newKeyboardHook(logger *zap.Logger) *keyboardHook {
	return &keyboardHook{logger: logger}
}

func (h *keyboardHook) active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stop != nil
}

func (h *keyboardHook) start(combo Combo, onPress, onRelease func()) error {
	codes, ok := lookupKey(combo.Key)
	if !ok {
		return &BackendError{Kind: KindWindows, Op: "start_hotkey_listener", Err: unknownKeyError(combo.Key)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stop != nil {
		return &BackendError{Kind: KindWindows, Op: "start_hotkey_listener", Err: ErrListenerActive}
	}

	hookCallbackOnce.Do(func() { hookCallback = windows.NewCallback(keyboardHookProc) })

	target := &hookTarget{vk: uint32(codes.windows), watch: newModifierWatch(combo)}
	installedHook.Store(target)

	type installed struct {
		thread uint32
		err    error
	}
	result := make(chan installed, 1)
	looped := make(chan struct{})

	go func() {
		defer close(looped)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		hook, _, callErr := procSetWindowsHookExW.Call(whKeyboardLL, hookCallback, 0, 0)
		if hook == 0 {
			result <- installed{err: fmt.Errorf("SetWindowsHookExW: %w", callErr)}
			return
		}
		result <- installed{thread: windows.GetCurrentThreadId()}

		var msg winMsg
		for {
			ret, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
			if int32(ret) <= 0 {
				break
			}
		}
		procUnhookWindowsHookEx.Call(hook)
	}()

	res := <-result
	if res.err != nil {
		installedHook.Store(nil)
		return &BackendError{Kind: KindWindows, Op: "start_hotkey_listener", Err: res.err}
	}

	h.target = target
	h.thread = res.thread
	h.looped = looped
	h.gate = &callbackGate{}
	h.stop = make(chan struct{})
	h.done = make(chan struct{})

	go func(w *modifierWatch, gate *callbackGate, stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		pumpKeyEvents(w.down, w.up, stop, gate, onPress, onRelease)
	}(target.watch, h.gate, h.stop, h.done)

	h.logger.Info("keyboard hook installed", zap.String("backend", string(KindWindows)), zap.Stringer("hotkey", combo))
	return nil
}

func (h *keyboardHook) stopListener() error {
	h.mu.Lock()
	target, thread, gate, stop, done, looped := h.target, h.thread, h.gate, h.stop, h.done, h.looped
	h.target, h.gate, h.stop, h.done, h.looped = nil, nil, nil, nil, nil
	h.mu.Unlock()

	if stop == nil {
		return nil
	}

	installedHook.CompareAndSwap(target, nil)
	gate.close()
	close(stop)
	<-done

	if ok, _, callErr := procPostThreadMessageW.Call(uintptr(thread), wmQuit, 0, 0); ok == 0 {
		return &BackendError{Kind: KindWindows, Op: "stop_hotkey_listener", Err: fmt.Errorf("PostThreadMessageW: %w", callErr)}
	}
	select {
	case <-looped:
	case <-time.After(unregisterTimeout):
		h.logger.Warn("keyboard hook did not exit in time", zap.String("backend", string(KindWindows)))
	}
	return nil
}

// keyboardHookProc runs on the hook thread and must return quickly.
func keyboardHookProc(nCode, wParam, lParam uintptr) uintptr {
	if int32(nCode) >= 0 {
		if target := installedHook.Load(); target != nil {
			k := (*kbdLLHookStruct)(unsafe.Pointer(lParam))
			if k.flags&llkhfInjected == 0 && k.vkCode == target.vk {
				switch uint32(wParam) {
				case wmKeyDown, wmSysKeyDown:
					target.watch.observe(true, asyncModifierDown)
				case wmKeyUp, wmSysKeyUp:
					target.watch.observe(false, asyncModifierDown)
				}
			}
		}
	}
	ret, _, _ := procCallNextHookEx.Call(0, nCode, wParam, lParam)
	return ret
}

func asyncModifierDown(mod Modifier) bool {
	for _, vk := range asyncModifierKeys[mod] {
		state, _, _ := procGetAsyncKeyState.Call(vk)
		if state&0x8000 != 0 {
			return true
		}
	}
	return false
}
