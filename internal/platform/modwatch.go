package platform

// modifierWatch turns raw transitions of a modifier trigger key, as seen
// by a keyboard hook or event tap, into the down and up edges consumed by
// pumpKeyEvents. observe must be called from a single goroutine.
type modifierWatch struct {
	required []Modifier
	down     chan struct{}
	up       chan struct{}
	held     bool
}

func newModifierWatch(combo Combo) *modifierWatch {
	return &modifierWatch{
		required: combo.Modifiers,
		down:     make(chan struct{}, 8),
		up:       make(chan struct{}, 8),
	}
}

// observe records one transition of the trigger key. isDown reports which
// modifiers are held at that moment. Hook callbacks must return quickly,
// so a full channel drops the edge.
func (w *modifierWatch) observe(pressed bool, isDown func(Modifier) bool) {
	switch {
	case pressed && !w.held:
		for _, mod := range w.required {
			if !isDown(mod) {
				return
			}
		}
		w.held = true
		signal(w.down)
	case !pressed && w.held:
		w.held = false
		signal(w.up)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
