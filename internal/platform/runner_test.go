package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

type runCall struct {
	stdin string
	argv  string
}

// fakeRunner records helper invocations. fail maps a command-line prefix
// to the error it should return.
type fakeRunner struct {
	mu        sync.Mutex
	installed map[string]bool
	fail      map[string]error
	calls     []runCall
	detached  []runCall
}

func newFakeRunner(installed ...string) *fakeRunner {
	r := &fakeRunner{installed: map[string]bool{}, fail: map[string]error{}}
	for _, name := range installed {
		r.installed[name] = true
	}
	return r
}

func (r *fakeRunner) run(_ context.Context, stdin string, name string, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	argv := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, runCall{stdin: stdin, argv: argv})
	for prefix, err := range r.fail {
		if strings.HasPrefix(argv, prefix) {
			return "", err
		}
	}
	return "", nil
}

func (r *fakeRunner) detach(stdin string, name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	argv := strings.Join(append([]string{name}, args...), " ")
	r.detached = append(r.detached, runCall{stdin: stdin, argv: argv})
	if err, ok := r.fail[argv]; ok {
		return err
	}
	return nil
}

func (r *fakeRunner) lookPath(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installed[name] {
		return "/usr/bin/" + name, nil
	}
	return "", fmt.Errorf("%s: %w", name, errors.New("executable file not found in $PATH"))
}

func (r *fakeRunner) argvs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, call := range r.calls {
		out = append(out, call.argv)
	}
	return out
}

func (r *fakeRunner) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.detached = nil
}
