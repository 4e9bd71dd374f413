package cli

import (
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

type stopFunc func()

// startProgress draws on stderr until the returned func is called. A
// positive total shows a bar counting seconds, anything else a spinner.
func startProgress(enabled bool, description string, total time.Duration) stopFunc {
	if !enabled {
		return func() {}
	}

	bar, tick := newProgressBar(description, total)
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				_ = bar.Finish()
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			<-doneCh
		})
	}
}

func newProgressBar(description string, total time.Duration) (*progressbar.ProgressBar, time.Duration) {
	opts := []progressbar.Option{
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	}

	if total <= 0 {
		opts = append(opts,
			progressbar.OptionSpinnerType(14),
			progressbar.OptionThrottle(80*time.Millisecond),
		)
		return progressbar.NewOptions(-1, opts...), 120 * time.Millisecond
	}

	seconds := int64(total / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	opts = append(opts,
		progressbar.OptionSetWidth(20),
		progressbar.OptionThrottle(65*time.Millisecond),
	)
	return progressbar.NewOptions64(seconds, opts...), time.Second
}

// statusLine shows the daemon's current phase as a spinner. It is only
// touched from the daemon's callback goroutine.
type statusLine struct {
	enabled bool
	phase   string
	stop    stopFunc
}

func (s *statusLine) show(phase string) {
	if phase == s.phase {
		return
	}
	s.clear()
	s.phase = phase
	s.stop = startProgress(s.enabled, phase, 0)
}

func (s *statusLine) clear() {
	if s.stop != nil {
		s.stop()
	}
	s.phase = ""
	s.stop = nil
}
