package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/voxkey/internal/models"
	"github.com/fmueller/voxkey/internal/platform"
	"github.com/fmueller/voxkey/internal/transcribe"
)

const waitFor = 2 * time.Second

type fakeBackend struct {
	mu        sync.Mutex
	onPress   func()
	onRelease func()
	starts    int
	stops     int
	listenErr error
	copyErr   error
	typeErr   error
	typeGate  chan struct{}
	calls     []string
}

func (b *fakeBackend) Kind() platform.Kind { return platform.KindX11 }

func (b *fakeBackend) CopyToClipboard(_ context.Context, text string) error {
	b.record("copy:" + text)
	return b.copyErr
}

func (b *fakeBackend) TypeText(_ context.Context, text string, delay time.Duration) error {
	b.record(fmt.Sprintf("type:%s@%s", text, delay))
	if b.typeGate != nil {
		<-b.typeGate
	}
	return b.typeErr
}

func (b *fakeBackend) PressKey(_ context.Context, name string) error {
	b.record("key:" + name)
	return nil
}

func (b *fakeBackend) StartHotkeyListener(_ string, onPress, onRelease func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listenErr != nil {
		return b.listenErr
	}
	if b.onPress != nil {
		return platform.ErrListenerActive
	}
	b.starts++
	b.onPress, b.onRelease = onPress, onRelease
	return nil
}

func (b *fakeBackend) StopHotkeyListener() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
	b.onPress, b.onRelease = nil, nil
	return nil
}

func (b *fakeBackend) press() {
	b.mu.Lock()
	fn := b.onPress
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (b *fakeBackend) release() {
	b.mu.Lock()
	fn := b.onRelease
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *fakeBackend) injected() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBackend) listenerStarts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts
}

type fakeAudio struct {
	path     string
	releases atomic.Int32
}

func (a *fakeAudio) Path() string { return a.path }

func (a *fakeAudio) Release() error {
	a.releases.Add(1)
	return nil
}

type fakeCapture struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	started  int
	aborted  int
	clips    []*fakeAudio
}

func (c *fakeCapture) Start(context.Context) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return nil, c.startErr
	}
	c.started++
	return c.started, nil
}

func (c *fakeCapture) Stop(h Handle) (Audio, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopErr != nil {
		return nil, c.stopErr
	}
	clip := &fakeAudio{path: fmt.Sprintf("clip-%d.wav", h.(int))}
	c.clips = append(c.clips, clip)
	return clip, nil
}

func (c *fakeCapture) Abort(Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted++
}

func (c *fakeCapture) counts() (started, aborted int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started, c.aborted
}

func (c *fakeCapture) released() []int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int32, 0, len(c.clips))
	for _, clip := range c.clips {
		out = append(out, clip.releases.Load())
	}
	return out
}

type reply struct {
	result transcribe.Result
	err    error
}

// fakeProvider answers from a queue of replies; the last one repeats.
// When gate is set every call waits for a value on it.
type fakeProvider struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	gate    chan struct{}
}

func (p *fakeProvider) Name() string                     { return "fake" }
func (p *fakeProvider) IsAvailable(context.Context) bool { return true }

func (p *fakeProvider) Transcribe(_ context.Context, _ transcribe.Audio, language string) (transcribe.Result, error) {
	if p.gate != nil {
		<-p.gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	r := p.replies[0]
	if len(p.replies) > 1 {
		p.replies = p.replies[1:]
	}
	if r.err == nil && r.result.Language == "" {
		r.result.Language = language
	}
	return r.result, r.err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// ui runs dispatched callbacks on its own goroutine and records them.
type ui struct {
	work    chan func()
	done    chan struct{}
	onUI    atomic.Bool
	offUI   atomic.Int32
	mu      sync.Mutex
	entries []string
}

func newUI(t *testing.T) *ui {
	t.Helper()

	u := &ui{work: make(chan func()), done: make(chan struct{})}
	go func() {
		for {
			select {
			case fn := <-u.work:
				u.onUI.Store(true)
				fn()
				u.onUI.Store(false)
			case <-u.done:
				return
			}
		}
	}()
	t.Cleanup(func() { close(u.done) })
	return u
}

func (u *ui) dispatch(fn func()) {
	select {
	case u.work <- fn:
	case <-u.done:
	}
}

func (u *ui) add(entry string) {
	if !u.onUI.Load() {
		u.offUI.Add(1)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries = append(u.entries, entry)
}

func (u *ui) log() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.entries...)
}

func (u *ui) count(prefix string) int {
	n := 0
	for _, e := range u.log() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func (u *ui) callbacks() Callbacks {
	return Callbacks{
		OnRecordingChanged:    func(v bool) { u.add(fmt.Sprintf("recording:%t", v)) },
		OnTranscribingChanged: func(v bool) { u.add(fmt.Sprintf("transcribing:%t", v)) },
		OnTranscriptionComplete: func(text, language string) {
			u.add(fmt.Sprintf("complete:%s|%s", text, language))
		},
		OnError: func(message string) { u.add("error:" + message) },
	}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) add(event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) Transcribed(text string) { n.add("transcribed:" + text) }
func (n *fakeNotifier) NoSpeech()               { n.add("no-speech") }
func (n *fakeNotifier) Unclear()                { n.add("unclear") }
func (n *fakeNotifier) Error(message string)    { n.add("error:" + message) }

func (n *fakeNotifier) log() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type harness struct {
	ctrl     *Controller
	backend  *fakeBackend
	capture  *fakeCapture
	provider *fakeProvider
	notifier *fakeNotifier
	ui       *ui
}

func newHarness(t *testing.T, provider *fakeProvider, configure func(*Options)) *harness {
	t.Helper()

	h := &harness{
		backend:  &fakeBackend{},
		capture:  &fakeCapture{},
		provider: provider,
		notifier: &fakeNotifier{},
		ui:       newUI(t),
	}

	opts := Options{
		Backend:     h.backend,
		Capture:     h.capture,
		Provider:    provider,
		Notifier:    h.notifier,
		Hotkey:      "ctrl+shift+space",
		Language:    "auto",
		AutoType:    true,
		TypingDelay: 12 * time.Millisecond,
		Dispatch:    h.ui.dispatch,
		Callbacks:   h.ui.callbacks(),
	}
	if configure != nil {
		configure(&opts)
	}

	ctrl, err := New(opts)
	require.NoError(t, err)
	h.ctrl = ctrl

	require.NoError(t, ctrl.Start())
	t.Cleanup(func() { _ = ctrl.Stop() })
	return h
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ctrl.State() == StateIdle }, waitFor, 5*time.Millisecond)
}

func (h *harness) speak(t *testing.T) {
	t.Helper()
	h.backend.press()
	require.Eventually(t, func() bool { return h.ctrl.State() == StateRecording }, waitFor, 5*time.Millisecond)
	h.backend.release()
}

func succeed(text string) *fakeProvider {
	return &fakeProvider{replies: []reply{{result: transcribe.Result{Text: text}}}}
}

func TestPressReleaseTranscribesAndTypes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, succeed("hello world"), nil)
	h.speak(t)

	require.Eventually(t, func() bool { return h.ui.count("complete:") == 1 }, waitFor, 5*time.Millisecond)
	h.waitIdle(t)

	require.Equal(t, []string{
		"recording:true",
		"recording:false",
		"transcribing:true",
		"transcribing:false",
		"complete:hello world|auto",
	}, h.ui.log())
	require.Equal(t, []string{"copy:hello world", "type:hello world@12ms"}, h.backend.injected())
	require.Equal(t, []int32{1}, h.capture.released())
	require.Zero(t, h.ui.offUI.Load())
}

func TestAutoEnterPressesEnterAfterTyping(t *testing.T) {
	t.Parallel()

	h := newHarness(t, succeed("ls"), func(o *Options) { o.AutoEnter = true })
	h.speak(t)

	require.Eventually(t, func() bool { return len(h.backend.injected()) == 3 }, waitFor, 5*time.Millisecond)
	require.Equal(t, []string{"copy:ls", "type:ls@12ms", "key:enter"}, h.backend.injected())
}

func TestAutoTypeOffOnlyCopies(t *testing.T) {
	t.Parallel()

	h := newHarness(t, succeed("note"), func(o *Options) {
		o.AutoType = false
		o.AutoEnter = true
	})
	h.speak(t)

	require.Eventually(t, func() bool { return h.ui.count("complete:") == 1 }, waitFor, 5*time.Millisecond)
	h.waitIdle(t)
	require.Equal(t, []string{"copy:note"}, h.backend.injected())
}

func TestEmptyResultCompletesWithoutInjection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, succeed(""), nil)
	h.speak(t)

	require.Eventually(t, func() bool { return h.ui.count("complete:") == 1 }, waitFor, 5*time.Millisecond)
	h.waitIdle(t)

	require.Contains(t, h.ui.log(), "complete:|auto")
	require.Empty(t, h.backend.injected())
	require.Equal(t, []int32{1}, h.capture.released())
	require.Eventually(t, func() bool { return len(h.notifier.log()) == 1 }, waitFor, 5*time.Millisecond)
	require.Equal(t, []string{"no-speech"}, h.notifier.log())
}

func TestBlankAudioMarkerCountsAsNoSpeech(t *testing.T) {
	t.Parallel()

	h := newHarness(t, succeed(" [BLANK_AUDIO] "), nil)
	h.speak(t)

	require.Eventually(t, func() bool { return h.ui.count("complete:") == 1 }, waitFor, 5*time.Millisecond)
	h.waitIdle(t)

	require.Contains(t, h.ui.log(), "complete:|auto")
	require.Empty(t, h.backend.injected())
	require.Eventually(t, func() bool { return len(h.notifier.log()) == 1 }, waitFor, 5*time.Millisecond)
	require.Equal(t, []string{"no-speech"}, h.notifier.log())
}

func TestProviderErrorReportsAndRecovers(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{replies: []reply{
		{err: &transcribe.TranscriptionError{Provider: "groq", StatusCode: 401, Detail: "invalid api key"}},
		{result: transcribe.Result{Text: "second try"}},
	}}
	h := newHarness(t, provider, nil)

	h.speak(t)
	require.Eventually(t, func() bool { return h.ui.count("error:") == 1 }, waitFor, 5*time.Millisecond)
	h.waitIdle(t)

	var message string
	for _, e := range h.ui.log() {
		if strings.HasPrefix(e, "error:") {
			message = e
		}
	}
	require.Contains(t, message, "401")
	require.Zero(t, h.ui.count("complete:"))
	require.Empty(t, h.backend.injected())

	h.speak(t)
	require.Eventually(t, func() bool { return h.ui.count("complete:second try") == 1 }, waitFor, 5*time.Millisecond)
	require.Equal(t, []int32{1, 1}, h.capture.released())
}

func TestMissingModelSuggestsSetup(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{replies: []reply{{err: fmt.Errorf("%w: base", models.ErrModelNotDownloaded)}}}
	h := newHarness(t, provider, nil)
	h.speak(t)

	require.Eventually(t, func() bool { return h.ui.count("error:") == 1 }, waitFor, 5*time.Millisecond)
	log := h.ui.log()
	require.Contains(t, log[len(log)-1], "voxkey setup")
}

func TestPressDuringSessionIsIgnored(t *testing.T) {
	t.Parallel()

	provider := succeed("once")
	provider.gate = make(chan struct{})
	h := newHarness(t, provider, nil)

	h.speak(t)
	require.Eventually(t, func() bool { return h.ctrl.State() == StateTranscribing }, waitFor, 5*time.Millisecond)

	h.backend.press()
	h.backend.release()
	h.backend.press()

	close(provider.gate)
	require.Eventually(t, func() bool { return h.ui.count("complete:") == 1 }, waitFor, 5*time.Millisecond)
	h.waitIdle(t)

	started, _ := h.capture.counts()
	require.Equal(t, 1, started)
	require.Equal(t, 1, provider.callCount())
}

func TestSequentialSessionsEachComplete(t *testing.T) {
	t.Parallel()

	h := newHarness(t, succeed("again"), nil)
	for i := 1; i <= 3; i++ {
		h.speak(t)
		require.Eventually(t, func() bool { return h.ui.count("complete:") == i }, waitFor, 5*time.Millisecond)
		h.waitIdle(t)
	}

	require.Equal(t, []int32{1, 1, 1}, h.capture.released())
	require.Equal(t, 3, h.provider.callCount())
}

func TestInjectionFailureStillReturnsToIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, succeed("hello"), nil)
	h.backend.typeErr = platform.ErrHelperMissing
	h.speak(t)

	require.Eventually(t, func() bool { return h.ui.count("error:") == 1 }, waitFor, 5*time.Millisecond)
	h.waitIdle(t)

	log := h.ui.log()
	require.Equal(t, "complete:hello|auto", log[len(log)-2])
	require.Contains(t, log[len(log)-1], "type text")
}

func TestStopDiscardsLateResult(t *testing.T) {
	t.Parallel()

	provider := succeed("too late")
	provider.gate = make(chan struct{})
	h := newHarness(t, provider, nil)

	h.speak(t)
	require.Eventually(t, func() bool { return h.ctrl.State() == StateTranscribing }, waitFor, 5*time.Millisecond)

	require.NoError(t, h.ctrl.Stop())
	require.False(t, h.ctrl.Running())
	close(provider.gate)

	require.Eventually(t, func() bool { return provider.callCount() == 1 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		released := h.capture.released()
		return len(released) == 1 && released[0] == 1
	}, waitFor, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, h.ui.count("complete:"))
	require.Zero(t, h.ui.count("error:"))
	require.Empty(t, h.backend.injected())
}

func TestStopAbortsActiveRecording(t *testing.T) {
	t.Parallel()

	h := newHarness(t, succeed("unused"), nil)
	h.backend.press()
	require.Eventually(t, func() bool { return h.ctrl.State() == StateRecording }, waitFor, 5*time.Millisecond)

	require.NoError(t, h.ctrl.Stop())
	require.Eventually(t, func() bool {
		_, aborted := h.capture.counts()
		return aborted == 1
	}, waitFor, 5*time.Millisecond)
	require.Zero(t, h.provider.callCount())
}

func TestStartIsIdempotentAndRestartRelistens(t *testing.T) {
	t.Parallel()

	h := newHarness(t, succeed("x"), nil)
	require.NoError(t, h.ctrl.Start())
	require.Equal(t, 1, h.backend.listenerStarts())

	require.NoError(t, h.ctrl.Restart())
	require.Equal(t, 2, h.backend.listenerStarts())
	require.True(t, h.ctrl.Listening())

	h.speak(t)
	require.Eventually(t, func() bool { return h.ui.count("complete:x") == 1 }, waitFor, 5*time.Millisecond)
}

func TestPauseAndResumeToggleListenerOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t, succeed("resumed"), nil)

	h.backend.press()
	require.Eventually(t, func() bool { return h.ctrl.State() == StateRecording }, waitFor, 5*time.Millisecond)

	require.NoError(t, h.ctrl.Pause())
	require.False(t, h.ctrl.Listening())
	require.True(t, h.ctrl.Running())
	h.waitIdle(t)
	_, aborted := h.capture.counts()
	require.Equal(t, 1, aborted)

	h.backend.press()
	started, _ := h.capture.counts()
	require.Equal(t, 1, started)

	require.NoError(t, h.ctrl.Resume())
	require.True(t, h.ctrl.Listening())
	h.speak(t)
	require.Eventually(t, func() bool { return h.ui.count("complete:resumed") == 1 }, waitFor, 5*time.Millisecond)
}

func TestPauseBeforeStart(t *testing.T) {
	t.Parallel()

	ctrl, err := New(Options{
		Backend:  &fakeBackend{},
		Capture:  &fakeCapture{},
		Provider: succeed("x"),
		Hotkey:   "ctrl_r",
	})
	require.NoError(t, err)
	require.ErrorIs(t, ctrl.Pause(), ErrNotStarted)
	require.ErrorIs(t, ctrl.Resume(), ErrNotStarted)
	require.NoError(t, ctrl.Stop())
}

func TestCaptureStartFailureReportsError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, succeed("later"), nil)
	h.capture.mu.Lock()
	h.capture.startErr = errors.New("no microphone")
	h.capture.mu.Unlock()

	h.backend.press()
	require.Eventually(t, func() bool { return h.ui.count("error:start recording: no microphone") == 1 }, waitFor, 5*time.Millisecond)
	h.waitIdle(t)
	require.Zero(t, h.ui.count("recording:"))

	h.capture.mu.Lock()
	h.capture.startErr = nil
	h.capture.mu.Unlock()

	h.speak(t)
	require.Eventually(t, func() bool { return h.ui.count("complete:later") == 1 }, waitFor, 5*time.Millisecond)
}

func TestShortRecordingSkipsTranscription(t *testing.T) {
	t.Parallel()

	h := newHarness(t, succeed("never"), func(o *Options) { o.MinDuration = 300 * time.Millisecond })
	h.ctrl.clipDuration = func(string) (time.Duration, error) { return 120 * time.Millisecond, nil }

	h.speak(t)
	require.Eventually(t, func() bool { return h.ui.count("complete:") == 1 }, waitFor, 5*time.Millisecond)
	h.waitIdle(t)

	require.Contains(t, h.ui.log(), "complete:|auto")
	require.Zero(t, h.provider.callCount())
	require.Equal(t, []int32{1}, h.capture.released())
}

func TestUnmeasurableRecordingIsTranscribed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, succeed("kept"), func(o *Options) { o.MinDuration = 300 * time.Millisecond })
	h.ctrl.clipDuration = func(string) (time.Duration, error) { return 0, errors.New("bad header") }

	h.speak(t)
	require.Eventually(t, func() bool { return h.ui.count("complete:kept") == 1 }, waitFor, 5*time.Millisecond)
}

func TestRepetitiveResultIsRejected(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("okay ", 12)
	h := newHarness(t, succeed(text), func(o *Options) { o.RejectRepetitive = true })

	h.speak(t)
	require.Eventually(t, func() bool { return h.ui.count("complete:") == 1 }, waitFor, 5*time.Millisecond)
	h.waitIdle(t)

	require.Contains(t, h.ui.log(), "complete:|auto")
	require.Empty(t, h.backend.injected())
	require.Eventually(t, func() bool { return len(h.notifier.log()) == 1 }, waitFor, 5*time.Millisecond)
	require.Equal(t, []string{"unclear"}, h.notifier.log())
}

func TestDetectedLanguageIsReported(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{replies: []reply{{result: transcribe.Result{Text: "hallo", Language: "de"}}}}
	h := newHarness(t, provider, nil)
	h.speak(t)

	require.Eventually(t, func() bool { return h.ui.count("complete:hallo|de") == 1 }, waitFor, 5*time.Millisecond)
}

func TestStartFailsWhenListenerCannotRegister(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{listenErr: platform.ErrHelperMissing}
	ctrl, err := New(Options{Backend: backend, Capture: &fakeCapture{}, Provider: succeed("x"), Hotkey: "ctrl_r"})
	require.NoError(t, err)

	err = ctrl.Start()
	require.ErrorIs(t, err, platform.ErrHelperMissing)
	require.False(t, ctrl.Running())
}

func TestNewValidatesOptions(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Capture: &fakeCapture{}, Provider: succeed("x"), Hotkey: "ctrl_r"})
	require.Error(t, err)

	_, err = New(Options{Backend: &fakeBackend{}, Provider: succeed("x"), Hotkey: "ctrl_r"})
	require.Error(t, err)

	_, err = New(Options{Backend: &fakeBackend{}, Capture: &fakeCapture{}, Hotkey: "ctrl_r"})
	require.Error(t, err)

	_, err = New(Options{Backend: &fakeBackend{}, Capture: &fakeCapture{}, Provider: succeed("x"), Hotkey: "ctrl+nope"})
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "injecting", StateInjecting.String())
	require.Equal(t, "unknown", State(42).String())
}

func TestNotificationsWaitForDispatcher(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		queued []func()
	)
	h := newHarness(t, succeed("hello world"), func(o *Options) {
		o.Dispatch = func(fn func()) {
			mu.Lock()
			defer mu.Unlock()
			queued = append(queued, fn)
		}
	})

	h.speak(t)
	require.Eventually(t, func() bool { return len(h.backend.injected()) == 2 }, waitFor, 5*time.Millisecond)
	h.waitIdle(t)

	require.Empty(t, h.notifier.log())
	require.Empty(t, h.ui.log())

	mu.Lock()
	pending := queued
	queued = nil
	mu.Unlock()
	for _, fn := range pending {
		fn()
	}

	require.Equal(t, []string{"transcribed:hello world"}, h.notifier.log())
	require.Contains(t, h.ui.log(), "complete:hello world|auto")
}

func TestFailureNotificationIsDroppedAfterStop(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		queued []func()
	)
	provider := &fakeProvider{replies: []reply{{err: errors.New("offline")}}}
	h := newHarness(t, provider, func(o *Options) {
		o.Dispatch = func(fn func()) {
			mu.Lock()
			defer mu.Unlock()
			queued = append(queued, fn)
		}
	})

	h.speak(t)
	h.waitIdle(t)
	require.Equal(t, 1, provider.callCount())
	require.NoError(t, h.ctrl.Stop())

	mu.Lock()
	pending := queued
	mu.Unlock()
	for _, fn := range pending {
		fn()
	}
	require.Empty(t, h.notifier.log())
	require.Zero(t, h.ui.count("error:"))
}

func TestInlineCallbacksMayQueryController(t *testing.T) {
	t.Parallel()

	var (
		ctrl   *Controller
		states = make(chan State, 16)
	)
	ctrl, err := New(Options{
		Backend:  &fakeBackend{},
		Capture:  &fakeCapture{},
		Provider: succeed("x"),
		Hotkey:   "ctrl_r",
		Callbacks: Callbacks{OnStateChanged: func(st State) {
			if ctrl.Running() && ctrl.Listening() {
				states <- st
			}
		}},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- ctrl.Start() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Start did not return")
	}
	t.Cleanup(func() { _ = ctrl.Stop() })

	require.Equal(t, StateIdle, <-states)
}

func TestLateStateChangeDoesNotOverrideStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, succeed("late"), nil)
	h.backend.typeGate = make(chan struct{})
	h.backend.typeErr = platform.ErrHelperMissing

	h.speak(t)
	require.Eventually(t, func() bool { return len(h.backend.injected()) == 2 }, waitFor, 5*time.Millisecond)
	require.Equal(t, StateInjecting, h.ctrl.State())

	require.NoError(t, h.ctrl.Stop())
	require.Equal(t, StateIdle, h.ctrl.State())
	close(h.backend.typeGate)

	require.Never(t, func() bool { return h.ctrl.State() != StateIdle }, 100*time.Millisecond, 5*time.Millisecond)
	require.Zero(t, h.ui.count("error:"))
}

func TestPauseAbortsRecordingWithFullQueue(t *testing.T) {
	t.Parallel()

	var holding atomic.Bool
	hold := make(chan struct{})
	h := newHarness(t, succeed("after pause"), func(o *Options) {
		o.QueueSize = 1
		o.Dispatch = func(fn func()) {
			if holding.Load() {
				<-hold
			}
			fn()
		}
		o.Callbacks = Callbacks{}
	})

	holding.Store(true)
	h.backend.press()
	require.Eventually(t, func() bool { return h.ctrl.State() == StateRecording }, waitFor, 5*time.Millisecond)

	// The loop is stuck dispatching, so these fill the queue.
	h.backend.press()
	h.backend.press()

	require.NoError(t, h.ctrl.Pause())
	close(hold)

	require.Eventually(t, func() bool {
		_, aborted := h.capture.counts()
		return aborted == 1
	}, waitFor, 5*time.Millisecond)
	h.waitIdle(t)

	require.NoError(t, h.ctrl.Resume())
	h.speak(t)
	require.Eventually(t, func() bool { return h.provider.callCount() == 1 }, waitFor, 5*time.Millisecond)

	started, _ := h.capture.counts()
	require.Equal(t, 2, started)
}
