package remote

import (
	"context"
	"sync"

	"github.com/pedro17pedroo/tatucloudfile/internal/logger"
)

// Factory opens a backend handle. Called at most once per initialization
// attempt, regardless of how many callers are waiting.
type Factory func(ctx context.Context) (Storage, error)

// Manager owns the process-wide cached backend handle. Initialization is
// lazy and single-flight: the first caller triggers the factory and every
// concurrent caller waits for that same attempt. A failed attempt stays
// cached until Reset — the manager never reconnects on its own.
type Manager struct {
	factory Factory

	mu       sync.Mutex
	handle   Storage
	err      error
	done     bool
	inflight chan struct{}
}

func NewManager(factory Factory) *Manager {
	return &Manager{factory: factory}
}

// Get returns the cached handle, initializing it on first use.
func (m *Manager) Get(ctx context.Context) (Storage, error) {
	m.mu.Lock()

	if m.done {
		handle, err := m.handle, m.err
		m.mu.Unlock()
		return handle, err
	}

	if m.inflight != nil {
		// Another caller is already connecting; wait for its result.
		ch := m.inflight
		m.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return m.Get(ctx)
	}

	ch := make(chan struct{})
	m.inflight = ch
	m.mu.Unlock()

	logger.Debug("initializing remote storage connection")
	handle, err := m.factory(ctx)

	m.mu.Lock()
	m.handle = handle
	m.err = err
	m.done = true
	m.inflight = nil
	m.mu.Unlock()
	close(ch)

	if err != nil {
		logger.Error("remote storage connection failed", "error", err)
	}
	return handle, err
}

// Reset drops the cached handle (or cached failure) so the next Get opens a
// fresh connection. Callers invoke this when they suspect stale credentials.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handle = nil
	m.err = nil
	m.done = false
}
