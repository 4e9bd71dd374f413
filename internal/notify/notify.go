// Package notify shows desktop notifications for session outcomes.
package notify

import (
	"sync/atomic"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

const appName = "voxkey"

const maxMessageRunes = 100

type sendFunc func(title, message, icon string) error

// Notifier sends desktop notifications when enabled. Delivery failures are
// logged and otherwise ignored.
type Notifier struct {
	enabled atomic.Bool
	send    sendFunc
	logger  *zap.Logger
}

func New(enabled bool, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{send: func(title, message, icon string) error {
		return beeep.Notify(title, message, icon)
	}, logger: logger}
	n.enabled.Store(enabled)
	return n
}

func (n *Notifier) SetEnabled(enabled bool) {
	n.enabled.Store(enabled)
}

func (n *Notifier) Enabled() bool {
	return n.enabled.Load()
}

func (n *Notifier) Transcribed(text string) {
	n.notify("Transcribed", truncate(text))
}

func (n *Notifier) NoSpeech() {
	n.notify("No speech", "Nothing was recognized, try again")
}

func (n *Notifier) Unclear() {
	n.notify("Warning", "Unclear audio, try again")
}

func (n *Notifier) Error(message string) {
	n.notify("Error", truncate(message))
}

func (n *Notifier) notify(title, message string) {
	if !n.enabled.Load() {
		return
	}
	if err := n.send(appName+": "+title, message, ""); err != nil {
		n.logger.Debug("desktop notification failed", zap.Error(err))
	}
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxMessageRunes {
		return s
	}
	return string(runes[:maxMessageRunes]) + "..."
}
