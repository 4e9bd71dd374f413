package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fmueller/voxkey/internal/audio"
	"github.com/fmueller/voxkey/internal/models"
	"github.com/fmueller/voxkey/internal/platform"
	"github.com/fmueller/voxkey/internal/transcribe"
)

var ErrNotStarted = errors.New("controller is not started")

const defaultQueueSize = 16

// Callbacks are delivered through Options.Dispatch. Nil entries are skipped.
type Callbacks struct {
	OnRecordingChanged      func(recording bool)
	OnTranscribingChanged   func(transcribing bool)
	OnTranscriptionComplete func(text, language string)
	OnError                 func(message string)
	OnStateChanged          func(state State)
}

type Options struct {
	Backend  platform.Backend
	Capture  Capture
	Provider transcribe.Provider
	Notifier Notifier

	Hotkey           string
	Language         string
	AutoType         bool
	AutoEnter        bool
	TypingDelay      time.Duration
	MinDuration      time.Duration
	RejectRepetitive bool

	// Dispatch runs callbacks on the host's UI context. When nil callbacks
	// run inline on controller goroutines.
	Dispatch  func(func())
	Callbacks Callbacks
	QueueSize int
	Logger    *zap.Logger
}

// Controller turns hotkey presses into recorded, transcribed and injected
// text. A single loop goroutine consumes listener events; each session's
// transcription and injection run on their own goroutine.
type Controller struct {
	backend  platform.Backend
	capture  Capture
	provider transcribe.Provider
	notifier Notifier
	opts     Options
	logger   *zap.Logger

	clipDuration func(path string) (time.Duration, error)

	mu        sync.Mutex
	cur       *run
	listening bool
	runs      uint64

	active atomic.Uint64
	state  atomic.Int32
}

type eventKind int

const (
	eventPress eventKind = iota
	eventRelease
	eventFinished
)

type event struct {
	kind    eventKind
	session *Session
}

// run is one Start..Stop span. Listener closures and transcription
// goroutines hold the run they were created for.
type run struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	events chan event

	// pause holds at most one pending pause request. A second request
	// while one is pending coalesces into it.
	pause  chan struct{}
	paused atomic.Bool
}

func New(opts Options) (*Controller, error) {
	switch {
	case opts.Backend == nil:
		return nil, errors.New("platform backend is required")
	case opts.Capture == nil:
		return nil, errors.New("audio capture is required")
	case opts.Provider == nil:
		return nil, errors.New("transcription provider is required")
	}

	if _, err := platform.ParseCombo(opts.Hotkey); err != nil {
		return nil, err
	}

	if strings.TrimSpace(opts.Language) == "" {
		opts.Language = "auto"
	}
	if opts.Dispatch == nil {
		opts.Dispatch = func(fn func()) { fn() }
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	return &Controller{
		backend:  opts.Backend,
		capture:  opts.Capture,
		provider: opts.Provider,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		clipDuration: func(path string) (time.Duration, error) {
			info, err := audio.Inspect(path)
			return info.Duration, err
		},
	}, nil
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// Start registers the hotkey listener and starts the controller loop.
// Calling Start on a running controller does nothing.
func (c *Controller) Start() error {
	r, err := c.begin()
	if err != nil || r == nil {
		return err
	}

	// Callbacks may call back into the controller, so mu is released first.
	c.emit(r, func() { call1(c.opts.Callbacks.OnStateChanged, StateIdle) })
	go c.loop(r)

	c.logger.Info("listening for hotkey",
		zap.String("hotkey", c.opts.Hotkey),
		zap.String("backend", string(c.backend.Kind())),
		zap.String("provider", c.provider.Name()),
	)
	return nil
}

// begin registers the listener and publishes a new run. It returns nil
// when the controller is already running.
func (c *Controller) begin() (*run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		return nil, nil
	}

	c.runs++
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		gen:    c.runs,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan event, c.opts.QueueSize),
		pause:  make(chan struct{}, 1),
	}

	if err := c.listen(r); err != nil {
		cancel()
		return nil, err
	}

	c.cur = r
	c.active.Store(r.gen)
	c.state.Store(int32(StateIdle))
	return r, nil
}

// Stop unregisters the listener and abandons any session in flight without
// waiting for it. A transcription that is still running completes in the
// background and its result is dropped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.cur
	if r == nil {
		return nil
	}

	c.cur = nil
	c.active.Store(0)

	var err error
	if c.listening {
		err = c.backend.StopHotkeyListener()
		c.listening = false
	}
	r.cancel()
	c.state.Store(int32(StateIdle))

	c.logger.Info("controller stopped")
	return err
}

func (c *Controller) Restart() error {
	if err := c.Stop(); err != nil {
		c.logger.Warn("failed to stop hotkey listener during restart", zap.Error(err))
	}
	return c.Start()
}

// Pause unregisters the hotkey listener and discards a recording in
// progress. Transcriptions already running are delivered normally.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil {
		return ErrNotStarted
	}
	if !c.listening {
		return nil
	}

	err := c.backend.StopHotkeyListener()
	c.listening = false
	r := c.cur
	r.paused.Store(true)
	select {
	case r.pause <- struct{}{}:
	default:
	}

	c.logger.Info("hotkey listener paused")
	return err
}

func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil {
		return ErrNotStarted
	}
	if c.listening {
		return nil
	}

	if err := c.listen(c.cur); err != nil {
		return err
	}
	c.cur.paused.Store(false)
	c.logger.Info("hotkey listener resumed")
	return nil
}

// listen must be called with mu held.
func (c *Controller) listen(r *run) error {
	err := c.backend.StartHotkeyListener(c.opts.Hotkey,
		func() { c.enqueue(r, event{kind: eventPress}) },
		func() { c.enqueue(r, event{kind: eventRelease}) },
	)
	if err != nil {
		return fmt.Errorf("register hotkey %q: %w", c.opts.Hotkey, err)
	}
	c.listening = true
	return nil
}

// enqueue never blocks the listener goroutine.
func (c *Controller) enqueue(r *run, ev event) {
	select {
	case r.events <- ev:
	default:
		c.logger.Debug("event queue full; dropping hotkey event", zap.Int("kind", int(ev.kind)))
	}
}

func (c *Controller) loop(r *run) {
	var s *Session

	for {
		// A pending pause is handled before any event queued behind it.
		select {
		case <-r.pause:
			s = c.handleCancel(r, s)
			continue
		default:
		}

		select {
		case <-r.pause:
			s = c.handleCancel(r, s)
		case <-r.ctx.Done():
			if s != nil && s.State() == StateRecording {
				c.capture.Abort(s.handle)
				s.handle = nil
				c.logger.Debug("discarded recording on stop", zap.String("session", s.ID))
			}
			return
		case ev := <-r.events:
			switch ev.kind {
			case eventPress:
				s = c.handlePress(r, s)
			case eventRelease:
				s = c.handleRelease(r, s)
			case eventFinished:
				if ev.session == s {
					c.setState(r, StateIdle)
					s = nil
				}
			}
		}
	}
}

func (c *Controller) handlePress(r *run, s *Session) *Session {
	if r.paused.Load() {
		c.logger.Debug("hotkey press ignored; listener paused")
		return s
	}
	if s != nil {
		c.logger.Debug("hotkey press ignored; session active", zap.String("session", s.ID), zap.Stringer("state", s.State()))
		return s
	}

	s = &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Provider:  c.provider.Name(),
		Language:  c.opts.Language,
	}

	h, err := c.capture.Start(r.ctx)
	if err != nil {
		if r.ctx.Err() != nil {
			return nil
		}
		c.fail(r, s, "start recording", err)
		c.setState(r, StateIdle)
		return nil
	}

	s.handle = h
	s.setState(StateRecording)
	c.setState(r, StateRecording)
	c.emit(r, func() { call1(c.opts.Callbacks.OnRecordingChanged, true) })
	c.logger.Debug("recording", zap.String("session", s.ID))
	return s
}

func (c *Controller) handleRelease(r *run, s *Session) *Session {
	if s == nil || s.State() != StateRecording {
		return s
	}

	clip, err := c.capture.Stop(s.handle)
	s.handle = nil
	c.emit(r, func() { call1(c.opts.Callbacks.OnRecordingChanged, false) })
	if err != nil {
		c.fail(r, s, "stop recording", err)
		c.setState(r, StateIdle)
		return nil
	}

	if c.tooShort(clip) {
		c.release(s, clip)
		c.logger.Debug("recording shorter than minimum; skipping transcription",
			zap.String("session", s.ID), zap.Duration("min_duration", c.opts.MinDuration))
		c.emit(r, func() { call2(c.opts.Callbacks.OnTranscriptionComplete, "", s.Language) })
		c.setState(r, StateIdle)
		return nil
	}

	s.setState(StateTranscribing)
	c.setState(r, StateTranscribing)
	c.emit(r, func() { call1(c.opts.Callbacks.OnTranscribingChanged, true) })

	go c.process(r, s, clip)
	return s
}

func (c *Controller) handleCancel(r *run, s *Session) *Session {
	if s == nil || s.State() != StateRecording {
		return s
	}

	c.capture.Abort(s.handle)
	s.handle = nil
	c.emit(r, func() { call1(c.opts.Callbacks.OnRecordingChanged, false) })
	c.setState(r, StateIdle)
	c.logger.Debug("discarded recording on pause", zap.String("session", s.ID))
	return nil
}

// process owns s until it hands it back with eventFinished.
func (c *Controller) process(r *run, s *Session, clip Audio) {
	defer c.finish(r, s)

	start := time.Now()
	result, err := c.provider.Transcribe(context.Background(), clip, s.Language)
	c.release(s, clip)

	if !c.current(r) {
		c.logger.Debug("discarding transcription of stopped session", zap.String("session", s.ID))
		return
	}

	c.emit(r, func() { call1(c.opts.Callbacks.OnTranscribingChanged, false) })
	if err != nil {
		c.fail(r, s, "transcribe", err)
		return
	}

	text := transcribe.CleanText(result.Text)
	language := result.Language
	if language == "" {
		language = s.Language
	}

	c.logger.Debug("transcription finished",
		zap.String("session", s.ID),
		zap.String("provider", s.Provider),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("chars", len(text)),
	)

	unclear := c.opts.RejectRepetitive && transcribe.IsRepetitive(text, transcribe.DefaultRepetitionThreshold)
	if unclear {
		c.logger.Warn("rejecting repetitive transcription", zap.String("session", s.ID))
		text = ""
	}

	c.emit(r, func() { call2(c.opts.Callbacks.OnTranscriptionComplete, text, language) })
	switch {
	case unclear:
		c.emit(r, c.notifier.Unclear)
		return
	case text == "":
		c.emit(r, c.notifier.NoSpeech)
		return
	}

	s.setState(StateInjecting)
	c.setState(r, StateInjecting)
	if err := c.inject(r, text); err != nil {
		c.fail(r, s, "inject text", err)
		return
	}
	c.emit(r, func() { c.notifier.Transcribed(text) })
}

// inject copies text to the clipboard and then types it. A clipboard
// failure does not prevent typing.
func (c *Controller) inject(r *run, text string) error {
	var errs []error

	if err := c.backend.CopyToClipboard(r.ctx, text); err != nil {
		errs = append(errs, fmt.Errorf("copy to clipboard: %w", err))
	}

	if c.opts.AutoType && c.current(r) {
		if err := c.backend.TypeText(r.ctx, text, c.opts.TypingDelay); err != nil {
			errs = append(errs, fmt.Errorf("type text: %w", err))
		} else if c.opts.AutoEnter && c.current(r) {
			if err := c.backend.PressKey(r.ctx, "enter"); err != nil {
				errs = append(errs, fmt.Errorf("press enter: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}

func (c *Controller) finish(r *run, s *Session) {
	select {
	case r.events <- event{kind: eventFinished, session: s}:
	case <-r.ctx.Done():
	}
}

func (c *Controller) fail(r *run, s *Session, op string, err error) {
	s.setState(StateError)
	c.setState(r, StateError)

	message := describe(op, err)
	c.logger.Error("session failed", zap.String("session", s.ID), zap.String("op", op), zap.Error(err))
	c.emit(r, func() {
		c.notifier.Error(message)
		call1(c.opts.Callbacks.OnError, message)
	})
}

func (c *Controller) tooShort(clip Audio) bool {
	if c.opts.MinDuration <= 0 {
		return false
	}

	d, err := c.clipDuration(clip.Path())
	if err != nil {
		c.logger.Debug("could not measure recording; transcribing anyway", zap.String("path", clip.Path()), zap.Error(err))
		return false
	}
	return d < c.opts.MinDuration
}

func (c *Controller) release(s *Session, clip Audio) {
	if err := clip.Release(); err != nil {
		c.logger.Warn("failed to release recording", zap.String("session", s.ID), zap.Error(err))
	}
}

func (c *Controller) current(r *run) bool {
	return c.active.Load() == r.gen
}

// setState stores st under mu so a concurrent Stop always wins. It must
// not be called with mu held.
func (c *Controller) setState(r *run, st State) {
	c.mu.Lock()
	if c.cur != r {
		c.mu.Unlock()
		return
	}
	c.state.Store(int32(st))
	c.mu.Unlock()

	c.emit(r, func() { call1(c.opts.Callbacks.OnStateChanged, st) })
}

// emit hands fn to the host's dispatcher. The generation is checked again
// when fn runs so callbacks queued before Stop are dropped.
func (c *Controller) emit(r *run, fn func()) {
	if !c.current(r) {
		return
	}
	c.opts.Dispatch(func() {
		if c.current(r) {
			fn()
		}
	})
}

func describe(op string, err error) string {
	var terr *transcribe.TranscriptionError
	switch {
	case errors.Is(err, models.ErrModelNotDownloaded):
		return fmt.Sprintf("%v; run `voxkey setup` to download it", err)
	case errors.As(err, &terr):
		return terr.Error()
	default:
		return fmt.Sprintf("%s: %v", op, err)
	}
}

func call1[T any](fn func(T), v T) {
	if fn != nil {
		fn(v)
	}
}

func call2(fn func(string, string), a, b string) {
	if fn != nil {
		fn(a, b)
	}
}
