package models

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrModelNotDownloaded = errors.New("model not downloaded")

// ModelLoadError reports that the server could not be started for Model.
type ModelLoadError struct {
	Model string
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Model, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// LoadedState is a point-in-time view of the manager. Model is empty when
// no server runs.
type LoadedState struct {
	Model      string
	Alive      bool
	Endpoint   string
	SwitchedAt time.Time
}

// Manager owns the single local inference server. Switches are serialized
// by mu; Current reads a snapshot without taking it.
type Manager struct {
	storage  Storage
	launcher Launcher
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	model  string
	server Server

	state atomic.Pointer[LoadedState]
}

func NewManager(storage Storage, launcher Launcher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		storage:  storage,
		launcher: launcher,
		logger:   logger,
		now:      time.Now,
	}
	m.state.Store(&LoadedState{})
	return m
}

// Preload makes id the served model. Loading the model that is already
// live is a no-op.
func (m *Manager) Preload(ctx context.Context, id string) error {
	_, err := m.Ensure(ctx, id)
	return err
}

// Ensure returns the endpoint of a live server for id, restarting or
// switching as needed. Callers block while another switch is in progress.
func (m *Manager) Ensure(ctx context.Context, id string) (string, error) {
	path, err := m.resolve(id)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.model == id && m.server != nil {
		if m.server.Alive() {
			return m.server.Endpoint(), nil
		}
		m.logger.Warn("inference server died; restarting", zap.String("model", id))
	}

	return m.switchTo(ctx, id, path)
}

// switchTo must be called with mu held.
func (m *Manager) switchTo(ctx context.Context, id, path string) (string, error) {
	if m.server != nil {
		m.logger.Info("stopping inference server", zap.String("model", m.model))
		if err := m.server.Stop(); err != nil {
			m.logger.Warn("failed to stop inference server", zap.String("model", m.model), zap.Error(err))
		}
		m.server = nil
		m.model = ""
		m.publish()
	}

	server, err := m.launcher.Launch(ctx, path)
	if err != nil {
		return "", &ModelLoadError{Model: id, Err: err}
	}

	m.server = server
	m.model = id
	m.publish()
	m.logger.Info("model loaded", zap.String("model", id), zap.String("endpoint", server.Endpoint()))
	return server.Endpoint(), nil
}

// Unload stops the server. Safe to call when nothing is loaded.
func (m *Manager) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server == nil {
		return nil
	}

	err := m.server.Stop()
	m.server = nil
	m.model = ""
	m.publish()
	return err
}

func (m *Manager) Current() LoadedState {
	state := *m.state.Load()
	return state
}

func (m *Manager) publish() {
	state := &LoadedState{Model: m.model, SwitchedAt: m.now()}
	if m.server != nil {
		state.Alive = true
		state.Endpoint = m.server.Endpoint()
	}
	m.state.Store(state)
}

func (m *Manager) resolve(id string) (string, error) {
	if m.storage == nil || !m.storage.IsDownloaded(id) {
		return "", fmt.Errorf("%w: %s", ErrModelNotDownloaded, id)
	}

	path, ok := m.storage.ModelPath(id)
	if !ok || path == "" {
		return "", fmt.Errorf("%w: %s", ErrModelNotDownloaded, id)
	}
	return path, nil
}
