package cli

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/voxkey/internal/platform"
	"github.com/fmueller/voxkey/internal/transcribe"
	"github.com/fmueller/voxkey/internal/worker"
)

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := NewRootCmd()
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

// writeConfig writes a config file that keeps commands away from the
// user's own settings and models.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()

	dir := t.TempDir()
	body := fmt.Sprintf("backend: x11\nnotifications: false\nmodel_dir: %s\nrecorder:\n  dir: %s\n%s",
		filepath.Join(dir, "models"), filepath.Join(dir, "recordings"), extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeDesktop struct {
	mu        sync.Mutex
	onPress   func()
	onRelease func()
	calls     []string
}

func (d *fakeDesktop) Kind() platform.Kind { return platform.KindX11 }

func (d *fakeDesktop) CopyToClipboard(_ context.Context, text string) error {
	d.record("copy:" + text)
	return nil
}

func (d *fakeDesktop) TypeText(_ context.Context, text string, delay time.Duration) error {
	d.record(fmt.Sprintf("type:%s@%s", text, delay))
	return nil
}

func (d *fakeDesktop) PressKey(_ context.Context, name string) error {
	d.record("key:" + name)
	return nil
}

func (d *fakeDesktop) StartHotkeyListener(_ string, onPress, onRelease func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onPress, d.onRelease = onPress, onRelease
	return nil
}

func (d *fakeDesktop) StopHotkeyListener() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onPress, d.onRelease = nil, nil
	return nil
}

func (d *fakeDesktop) listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onPress != nil
}

func (d *fakeDesktop) hold() {
	d.mu.Lock()
	press, release := d.onPress, d.onRelease
	d.mu.Unlock()
	press()
	time.Sleep(20 * time.Millisecond)
	release()
}

func (d *fakeDesktop) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *fakeDesktop) injected() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// wavCapture writes a short silent WAV per recording.
type wavCapture struct {
	dir string
}

type wavClip struct {
	path string
	once sync.Once
}

func (c *wavClip) Path() string { return c.path }

func (c *wavClip) Release() error {
	var err error
	c.once.Do(func() { err = os.Remove(c.path) })
	return err
}

func (c *wavCapture) Start(context.Context) (worker.Handle, error) {
	return filepath.Join(c.dir, fmt.Sprintf("take-%d.wav", time.Now().UnixNano())), nil
}

func (c *wavCapture) Stop(h worker.Handle) (worker.Audio, error) {
	path := h.(string)
	if err := os.WriteFile(path, makePCM16WAVForTest(make([]int16, 8000), 16000, 1), 0o644); err != nil {
		return nil, err
	}
	return &wavClip{path: path}, nil
}

func (c *wavCapture) Abort(worker.Handle) {}

type staticProvider struct {
	text string
}

func (p staticProvider) Name() string                     { return "static" }
func (p staticProvider) IsAvailable(context.Context) bool { return true }

func (p staticProvider) Transcribe(_ context.Context, audio transcribe.Audio, language string) (transcribe.Result, error) {
	if _, err := os.Stat(audio.Path()); err != nil {
		return transcribe.Result{}, err
	}
	return transcribe.Result{Text: p.text, Language: language}, nil
}

func makePCM16WAVForTest(samples []int16, sampleRate int, channels int) []byte {
	bytesPerSample := 2
	dataSize := len(samples) * bytesPerSample
	fmtChunkSize := 16
	riffSize := 4 + (8 + fmtChunkSize) + (8 + dataSize)

	out := make([]byte, 12+8+fmtChunkSize+8+dataSize)
	off := 0

	copy(out[off:], []byte("RIFF"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(riffSize))
	off += 4
	copy(out[off:], []byte("WAVE"))
	off += 4

	copy(out[off:], []byte("fmt "))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(fmtChunkSize))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], 1)
	off += 2
	binary.LittleEndian.PutUint16(out[off:], uint16(channels))
	off += 2
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate*channels*bytesPerSample))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], uint16(channels*bytesPerSample))
	off += 2
	binary.LittleEndian.PutUint16(out[off:], 16)
	off += 2

	copy(out[off:], []byte("data"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(dataSize))
	off += 4

	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[off:], uint16(s))
		off += 2
	}

	return out
}
