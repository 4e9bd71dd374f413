package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewWaylandBackendRequiresWlCopy(t *testing.T) {
	t.Parallel()

	_, err := newWaylandBackend(Options{}, newFakeRunner("wtype"))
	require.ErrorIs(t, err, ErrHelperMissing)
}

func TestWaylandCopyFeedsStdin(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner("wl-copy")
	backend, err := newWaylandBackend(Options{}, runner)
	require.NoError(t, err)

	require.NoError(t, backend.CopyToClipboard(context.Background(), "text"))
	require.Equal(t, []runCall{{stdin: "text", argv: "wl-copy"}}, runner.calls)
}

func TestWaylandTypeTextPrefersWtype(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner("wl-copy", "wtype", "ydotool")
	backend, err := newWaylandBackend(Options{}, runner)
	require.NoError(t, err)

	require.NoError(t, backend.TypeText(context.Background(), "hello", 5*time.Millisecond))
	require.Equal(t, []string{"wtype -d 5 -- hello"}, runner.argvs())
	require.Equal(t, typingWtype, backend.currentMethod())
}

func TestWaylandTypeTextFallsBackToYdotoolPaste(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner("wl-copy", "wtype", "ydotool")
	runner.fail["wtype"] = errors.New("compositor does not support virtual keyboard protocol")
	backend, err := newWaylandBackend(Options{}, runner)
	require.NoError(t, err)

	require.NoError(t, backend.TypeText(context.Background(), "hello", 0))
	require.Equal(t, []string{
		"wtype -d 0 -- hello",
		"pgrep ydotoold",
		"ydotool key -d 20 29:1 47:1 47:0 29:0",
	}, runner.argvs())
	require.Equal(t, typingYdotool, backend.currentMethod())

	runner.reset()
	require.NoError(t, backend.TypeText(context.Background(), "again", 0))
	require.Equal(t, []string{"pgrep ydotoold", "ydotool key -d 20 29:1 47:1 47:0 29:0"}, runner.argvs())
}

func TestWaylandTypeTextFallsBackToClipboard(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner("wl-copy", "ydotool")
	runner.fail["pgrep"] = errors.New("exit status 1")
	backend, err := newWaylandBackend(Options{}, runner)
	require.NoError(t, err)

	require.NoError(t, backend.TypeText(context.Background(), "hello", 0))
	require.Equal(t, typingClipboard, backend.currentMethod())

	runner.reset()
	require.NoError(t, backend.TypeText(context.Background(), "again", 0))
	require.Empty(t, runner.argvs())
}

func TestWaylandPressKeyUsesEvdevCodes(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner("wl-copy", "ydotool")
	backend, err := newWaylandBackend(Options{}, runner)
	require.NoError(t, err)

	for _, tt := range []struct{ key, argv string }{
		{"enter", "ydotool key 28:1 28:0"},
		{"tab", "ydotool key 15:1 15:0"},
		{"escape", "ydotool key 1:1 1:0"},
		{"space", "ydotool key 57:1 57:0"},
		{"backspace", "ydotool key 14:1 14:0"},
	} {
		runner.reset()
		require.NoError(t, backend.PressKey(context.Background(), tt.key))
		require.Equal(t, []string{tt.argv}, runner.argvs())
	}
}

func TestWaylandPressKeyFallsBackToWtype(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner("wl-copy", "wtype")
	backend, err := newWaylandBackend(Options{}, runner)
	require.NoError(t, err)

	require.NoError(t, backend.PressKey(context.Background(), "enter"))
	require.Equal(t, []string{"wtype -k Return"}, runner.argvs())
}

func TestWaylandPressKeyWithoutTools(t *testing.T) {
	t.Parallel()

	backend, err := newWaylandBackend(Options{}, newFakeRunner("wl-copy"))
	require.NoError(t, err)

	require.ErrorIs(t, backend.PressKey(context.Background(), "enter"), ErrHelperMissing)
}
