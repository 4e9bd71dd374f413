package platform

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrAlreadyRunning means another daemon holds the instance lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

var errLocked = errors.New("lock held by another process")

// InstanceLock keeps a second daemon from grabbing the same hotkey. The
// lock dies with the process, so a crash never leaves a stale lock behind.
type InstanceLock struct {
	file *os.File
}

// AcquireInstanceLock takes the exclusive lock on path and records the
// current pid in it.
func AcquireInstanceLock(path string) (*InstanceLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := lockFile(f); err != nil {
		holder := readPID(f)
		_ = f.Close()
		if !errors.Is(err, errLocked) {
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if holder > 0 {
			return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, holder)
		}
		return nil, ErrAlreadyRunning
	}

	if err := writePID(f, os.Getpid()); err != nil {
		_ = unlockFile(f)
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &InstanceLock{file: f}, nil
}

// Release is safe to call more than once.
func (l *InstanceLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	unlockErr := unlockFile(f)
	if err := f.Close(); err != nil {
		return err
	}
	return unlockErr
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0)
	return err
}

func readPID(f *os.File) int {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}
