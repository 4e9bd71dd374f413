package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/fmueller/voxkey/internal/record"
)

type State int

const (
	StateIdle State = iota
	StateRecording
	StateTranscribing
	StateInjecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateTranscribing:
		return "transcribing"
	case StateInjecting:
		return "injecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is one press-to-release cycle. It is owned by exactly one
// goroutine at a time: the controller loop while recording, the
// transcription goroutine afterwards.
type Session struct {
	ID        string
	StartedAt time.Time
	Provider  string
	Language  string

	state  atomic.Int32
	handle Handle
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Handle identifies a running capture. Only the Capture that returned it
// interprets it.
type Handle any

// Audio is a finished recording. Release must tolerate repeated calls.
type Audio interface {
	Path() string
	Release() error
}

// Capture produces audio between Start and Stop. Abort discards a running
// capture.
type Capture interface {
	Start(ctx context.Context) (Handle, error)
	Stop(h Handle) (Audio, error)
	Abort(h Handle)
}

// Notifier mirrors session outcomes to the desktop.
type Notifier interface {
	Transcribed(text string)
	NoSpeech()
	Unclear()
	Error(message string)
}

var errForeignHandle = errors.New("handle was not created by this capture")

type recorderCapture struct {
	capture *record.Capture
}

// NewRecorderCapture exposes a record.Capture to the controller.
func NewRecorderCapture(c *record.Capture) Capture {
	return recorderCapture{capture: c}
}

func (r recorderCapture) Start(ctx context.Context) (Handle, error) {
	h, err := r.capture.Start(ctx)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (r recorderCapture) Stop(h Handle) (Audio, error) {
	handle, ok := h.(*record.Handle)
	if !ok {
		return nil, errForeignHandle
	}
	rec, err := r.capture.Stop(handle)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r recorderCapture) Abort(h Handle) {
	if handle, ok := h.(*record.Handle); ok {
		r.capture.Abort(handle)
	}
}

type nopNotifier struct{}

func (nopNotifier) Transcribed(string) {}
func (nopNotifier) NoSpeech()          {}
func (nopNotifier) Unclear()           {}
func (nopNotifier) Error(string)       {}
