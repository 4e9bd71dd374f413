package platform

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	evKey = 0x01

	keyValueUp     = 0
	keyValueDown   = 1
	keyValueRepeat = 2
)

// input_event is a struct timeval followed by type, code and value.
var inputEventSize = 2*strconv.IntSize/8 + 8

type rawKey struct {
	code  uint16
	value int32
}

// parseInputEvents decodes the EV_KEY records in buf. A trailing partial
// record is ignored.
func parseInputEvents(buf []byte) []rawKey {
	timeSize := inputEventSize - 8
	var keys []rawKey
	for off := 0; off+inputEventSize <= len(buf); off += inputEventSize {
		record := buf[off+timeSize : off+inputEventSize]
		if binary.NativeEndian.Uint16(record[0:2]) != evKey {
			continue
		}
		keys = append(keys, rawKey{
			code:  binary.NativeEndian.Uint16(record[2:4]),
			value: int32(binary.NativeEndian.Uint32(record[4:8])),
		})
	}
	return keys
}

// hasKeyCapabilities reports whether a sysfs key capability bitmap has
// every listed code set. Words are hex, most significant first.
func hasKeyCapabilities(bitmap string, codes ...uint16) bool {
	words := strings.Fields(bitmap)
	if len(words) == 0 {
		return false
	}
	for _, code := range codes {
		index := len(words) - 1 - int(code)/strconv.IntSize
		if index < 0 {
			return false
		}
		word, err := strconv.ParseUint(words[index], 16, strconv.IntSize)
		if err != nil {
			return false
		}
		if word&(1<<(uint(code)%strconv.IntSize)) == 0 {
			return false
		}
	}
	return true
}

// keyboardDevices lists event nodes that look like full keyboards, which
// filters out power buttons and mice with a few extra keys.
func keyboardDevices(sysfsRoot, devRoot string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(sysfsRoot, "class", "input", "event*"))
	if err != nil {
		return nil, err
	}

	enter := keyTable["enter"].evdev
	var devices []string
	for _, dir := range matches {
		caps, err := os.ReadFile(filepath.Join(dir, "device", "capabilities", "key"))
		if err != nil {
			continue
		}
		// KEY_A is 30
		if !hasKeyCapabilities(string(caps), 30, enter) {
			continue
		}
		devices = append(devices, filepath.Join(devRoot, "input", filepath.Base(dir)))
	}
	sort.Strings(devices)
	return devices, nil
}

// comboTracker turns key codes into combo edges. The combo goes down when
// its key is pressed while every modifier is held and up when that key is
// released.
type comboTracker struct {
	key       uint16
	modifiers [][]uint16
	held      map[uint16]bool
	active    bool
}

func newComboTracker(combo Combo) (*comboTracker, error) {
	codes, ok := lookupKey(combo.Key)
	if !ok {
		return nil, unknownKeyError(combo.Key)
	}
	tracker := &comboTracker{key: codes.evdev, held: map[uint16]bool{}}
	for _, mod := range combo.Modifiers {
		var group []uint16
		for _, name := range modifierKeys[mod] {
			group = append(group, keyTable[name].evdev)
		}
		tracker.modifiers = append(tracker.modifiers, group)
	}
	return tracker, nil
}

// feed returns +1 for a combo press, -1 for a release and 0 otherwise.
func (t *comboTracker) feed(key rawKey) int {
	switch key.value {
	case keyValueDown:
		t.held[key.code] = true
	case keyValueUp:
		delete(t.held, key.code)
	default:
		return 0
	}

	if key.code != t.key {
		return 0
	}
	if key.value == keyValueDown && !t.active && t.modifiersHeld() {
		t.active = true
		return 1
	}
	if key.value == keyValueUp && t.active {
		t.active = false
		return -1
	}
	return 0
}

func (t *comboTracker) modifiersHeld() bool {
	for _, group := range t.modifiers {
		satisfied := false
		for _, code := range group {
			if t.held[code] {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false
		}
	}
	return true
}

// evdevListener reads keyboards directly, which works under Wayland
// compositors that offer no global hotkey protocol. The user needs read
// access to /dev/input, usually through the input group.
type evdevListener struct {
	logger    *zap.Logger
	sysfsRoot string
	devRoot   string

	mu      sync.Mutex
	running bool
	files   []io.Closer
	gate    *callbackGate
	stop    chan struct{}
	wg      *sync.WaitGroup
}

func newEvdevListener(logger *zap.Logger) *evdevListener {
	return &evdevListener{logger: logger, sysfsRoot: "/sys", devRoot: "/dev"}
}

func (l *evdevListener) start(combo string, onPress, onRelease func()) error {
	parsed, err := ParseCombo(combo)
	if err != nil {
		return &BackendError{Kind: KindWayland, Op: "start_hotkey_listener", Err: err}
	}
	tracker, err := newComboTracker(parsed)
	if err != nil {
		return &BackendError{Kind: KindWayland, Op: "start_hotkey_listener", Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return &BackendError{Kind: KindWayland, Op: "start_hotkey_listener", Err: ErrListenerActive}
	}

	paths, err := keyboardDevices(l.sysfsRoot, l.devRoot)
	if err != nil {
		return &BackendError{Kind: KindWayland, Op: "start_hotkey_listener", Err: err}
	}

	var (
		files   []*os.File
		openErr []error
	)
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			openErr = append(openErr, err)
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		err := ErrNoInputDevices
		if len(openErr) > 0 {
			err = fmt.Errorf("%w (add the user to the input group): %w", ErrNoInputDevices, errors.Join(openErr...))
		}
		return &BackendError{Kind: KindWayland, Op: "start_hotkey_listener", Err: err}
	}

	raw := make(chan rawKey, 64)
	down := make(chan struct{})
	up := make(chan struct{})
	stop := make(chan struct{})
	gate := &callbackGate{}
	wg := &sync.WaitGroup{}

	for _, f := range files {
		wg.Add(1)
		go func(f *os.File) {
			defer wg.Done()
			readDevice(f, raw, stop)
		}(f)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			case key := <-raw:
				edge := down
				switch tracker.feed(key) {
				case 1:
				case -1:
					edge = up
				default:
					continue
				}
				select {
				case edge <- struct{}{}:
				case <-stop:
					return
				}
			}
		}
	}()
	go func() {
		defer wg.Done()
		pumpKeyEvents(down, up, stop, gate, onPress, onRelease)
	}()

	closers := make([]io.Closer, 0, len(files))
	for _, f := range files {
		closers = append(closers, f)
	}
	l.running, l.files, l.gate, l.stop, l.wg = true, closers, gate, stop, wg
	l.logger.Info("evdev hotkey listener started", zap.Stringer("hotkey", parsed), zap.Int("devices", len(files)))
	return nil
}

func readDevice(f *os.File, out chan<- rawKey, stop <-chan struct{}) {
	buf := make([]byte, inputEventSize*64)
	for {
		n, err := f.Read(buf)
		if err != nil {
			return
		}
		for _, key := range parseInputEvents(buf[:n]) {
			if key.value == keyValueRepeat {
				continue
			}
			select {
			case out <- key:
			case <-stop:
				return
			}
		}
	}
}

func (l *evdevListener) stopListener() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	files, gate, stop, wg := l.files, l.gate, l.stop, l.wg
	l.running, l.files, l.gate, l.stop, l.wg = false, nil, nil, nil, nil
	l.mu.Unlock()

	gate.close()
	close(stop)
	var errs []error
	for _, f := range files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	wg.Wait()
	if len(errs) > 0 {
		return &BackendError{Kind: KindWayland, Op: "stop_hotkey_listener", Err: errors.Join(errs...)}
	}
	return nil
}
