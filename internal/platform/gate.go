package platform

import "sync"

// callbackGate runs listener callbacks until it is closed. Closing waits
// for an in-flight callback, so nothing fires once close returns.
type callbackGate struct {
	mu     sync.Mutex
	closed bool
}

func (g *callbackGate) fire(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	fn()
}

func (g *callbackGate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}
