//go:build linux || darwin || windows

package platform

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.design/x/hotkey"
	"golang.design/x/hotkey/mainthread"
)

const unregisterTimeout = 500 * time.Millisecond

// RunOnMainThread runs fn while the main OS thread serves hotkey
// registration, which macOS requires.
func RunOnMainThread(fn func()) {
	mainthread.Init(fn)
}

// globalHotkey grabs a combo through the OS hotkey API.
type globalHotkey struct {
	kind   Kind
	logger *zap.Logger

	mu   sync.Mutex
	hk   *hotkey.Hotkey
	gate *callbackGate
	stop chan struct{}
	done chan struct{}
}

func newGlobalHotkey(kind Kind, logger *zap.Logger) *globalHotkey {
	return &globalHotkey{kind: kind, logger: logger}
}

func (g *globalHotkey) start(combo string, onPress, onRelease func()) error {
	parsed, err := ParseCombo(combo)
	if err != nil {
		return &BackendError{Kind: g.kind, Op: "start_hotkey_listener", Err: err}
	}
	mods, key, err := nativeHotkey(parsed)
	if err != nil {
		return &BackendError{Kind: g.kind, Op: "start_hotkey_listener", Err: err}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.hk != nil {
		return &BackendError{Kind: g.kind, Op: "start_hotkey_listener", Err: ErrListenerActive}
	}

	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return &BackendError{Kind: g.kind, Op: "start_hotkey_listener", Err: fmt.Errorf("register %s: %w", parsed, err)}
	}

	g.hk = hk
	g.gate = &callbackGate{}
	g.stop = make(chan struct{})
	g.done = make(chan struct{})

	go func(gate *callbackGate, stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		pumpKeyEvents(hk.Keydown(), hk.Keyup(), stop, gate, onPress, onRelease)
	}(g.gate, g.stop, g.done)

	g.logger.Info("hotkey registered", zap.String("backend", string(g.kind)), zap.Stringer("hotkey", parsed))
	return nil
}

func (g *globalHotkey) active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hk != nil
}

func (g *globalHotkey) stopListener() error {
	g.mu.Lock()
	hk, gate, stop, done := g.hk, g.gate, g.stop, g.done
	g.hk, g.gate, g.stop, g.done = nil, nil, nil, nil
	g.mu.Unlock()

	if hk == nil {
		return nil
	}

	gate.close()
	close(stop)
	<-done

	// Unregister can stall on some window systems; the grab is released with
	// the process anyway.
	result := make(chan error, 1)
	go func() { result <- hk.Unregister() }()
	select {
	case err := <-result:
		if err != nil {
			return &BackendError{Kind: g.kind, Op: "stop_hotkey_listener", Err: err}
		}
	case <-time.After(unregisterTimeout):
		g.logger.Warn("hotkey unregister timed out", zap.String("backend", string(g.kind)))
	}
	return nil
}
