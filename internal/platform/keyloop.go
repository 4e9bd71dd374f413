package platform

import "time"

// releaseGrace absorbs X11 autorepeat, which delivers a release and a new
// press for every repeat tick while the key is held.
const releaseGrace = 40 * time.Millisecond

// pumpKeyEvents turns raw down and up edges into press and release
// callbacks until stop closes or a source channel closes.
func pumpKeyEvents[E any](down, up <-chan E, stop <-chan struct{}, gate *callbackGate, onPress, onRelease func()) {
	var (
		pressed bool
		timer   *time.Timer
		pending <-chan time.Time
	)
	cancelPending := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, pending = nil, nil
	}
	defer cancelPending()

	for {
		select {
		case <-stop:
			return
		case _, ok := <-down:
			if !ok {
				return
			}
			if pending != nil {
				cancelPending()
				continue
			}
			if pressed {
				continue
			}
			pressed = true
			gate.fire(onPress)
		case _, ok := <-up:
			if !ok {
				return
			}
			if !pressed || pending != nil {
				continue
			}
			timer = time.NewTimer(releaseGrace)
			pending = timer.C
		case <-pending:
			timer, pending = nil, nil
			pressed = false
			gate.fire(onRelease)
		}
	}
}
