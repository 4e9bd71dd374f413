package platform

/*
#include <stdint.h>

int voxkeyTapInstall(void);
void voxkeyTapRun(void);
void voxkeyTapStop(void);
*/
import "C"

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CGEventFlags bits. The device bits tell the left and right keys apart.
const (
	flagMaskShift   = 0x00020000
	flagMaskControl = 0x00040000
	flagMaskOption  = 0x00080000
	flagMaskCommand = 0x00100000
)

var deviceFlagMasks = map[string]uint64{
	"ctrl_l":  0x00000001,
	"shift_l": 0x00000002,
	"shift_r": 0x00000004,
	"super_l": 0x00000008,
	"super_r": 0x00000010,
	"alt_l":   0x00000020,
	"alt_r":   0x00000040,
	"ctrl_r":  0x00002000,
}

var genericFlagMasks = map[Modifier]uint64{
	ModCtrl:  flagMaskControl,
	ModShift: flagMaskShift,
	ModAlt:   flagMaskOption,
	ModSuper: flagMaskCommand,
}

type tapTarget struct {
	keycode int64
	device  uint64
	watch   *modifierWatch
}

var activeTap atomic.Pointer[tapTarget]

// flagsTap watches a modifier-only combo through a listen-only CGEventTap
// on flags-changed events. Carbon hotkeys never fire for a bare modifier.
// The tap needs the Input Monitoring permission.
type flagsTap struct {
	logger *zap.Logger

	mu     sync.Mutex
	target *tapTarget
	gate   *callbackGate
	stop   chan struct{}
	done   chan struct{}
	looped chan struct{}
}

func newFlagsTap(logger *zap.Logger) *flagsTap {
	return &flagsTap{logger: logger}
}

func (f *flagsTap) active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stop != nil
}

func (f *flagsTap) start(combo Combo, onPress, onRelease func()) error {
	codes, ok := lookupKey(combo.Key)
	device, sided := deviceFlagMasks[combo.Key]
	if !ok || !sided {
		return &BackendError{Kind: KindDarwin, Op: "start_hotkey_listener", Err: unknownKeyError(combo.Key)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stop != nil {
		return &BackendError{Kind: KindDarwin, Op: "start_hotkey_listener", Err: ErrListenerActive}
	}

	target := &tapTarget{keycode: int64(codes.darwin), device: device, watch: newModifierWatch(combo)}
	activeTap.Store(target)

	installed := make(chan bool, 1)
	looped := make(chan struct{})
	go func() {
		defer close(looped)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if C.voxkeyTapInstall() != 0 {
			installed <- false
			return
		}
		installed <- true
		C.voxkeyTapRun()
	}()

	if !<-installed {
		activeTap.CompareAndSwap(target, nil)
		return &BackendError{Kind: KindDarwin, Op: "start_hotkey_listener", Err: ErrPermission}
	}

	f.target = target
	f.looped = looped
	f.gate = &callbackGate{}
	f.stop = make(chan struct{})
	f.done = make(chan struct{})

	go func(w *modifierWatch, gate *callbackGate, stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		pumpKeyEvents(w.down, w.up, stop, gate, onPress, onRelease)
	}(target.watch, f.gate, f.stop, f.done)

	f.logger.Info("event tap installed", zap.String("backend", string(KindDarwin)), zap.Stringer("hotkey", combo))
	return nil
}

func (f *flagsTap) stopListener() error {
	f.mu.Lock()
	target, gate, stop, done, looped := f.target, f.gate, f.stop, f.done, f.looped
	f.target, f.gate, f.stop, f.done, f.looped = nil, nil, nil, nil, nil
	f.mu.Unlock()

	if stop == nil {
		return nil
	}

	activeTap.CompareAndSwap(target, nil)
	gate.close()
	close(stop)
	<-done

	C.voxkeyTapStop()
	select {
	case <-looped:
	case <-time.After(unregisterTimeout):
		f.logger.Warn("event tap did not exit in time", zap.String("backend", string(KindDarwin)))
	}
	return nil
}

//export voxkeyFlagsChanged
func voxkeyFlagsChanged(keycode C.int64_t, flags C.uint64_t) {
	if target := activeTap.Load(); target != nil {
		target.handle(int64(keycode), uint64(flags))
	}
}

func (t *tapTarget) handle(keycode int64, flags uint64) {
	if keycode != t.keycode {
		return
	}
	t.watch.observe(flags&t.device != 0, func(mod Modifier) bool {
		return flags&genericFlagMasks[mod] != 0
	})
}
