package coordinator

import (
	"context"
	"sync"
)

// Manager keeps one coordinator per user for the worker service, creating
// them on demand and tearing all of them down together.
type Manager struct {
	store  Store
	infer  Inference
	ctx    context.Context
	cancel context.CancelFunc

	// NavFor, when set, supplies the navigator handed to each new
	// coordinator. Set it before the first Get call.
	NavFor func(userID string) Navigator

	mu     sync.Mutex
	coords map[string]*Coordinator
}

// NewManager creates a coordinator registry.
func NewManager(ctx context.Context, st Store, infer Inference) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		store:  st,
		infer:  infer,
		ctx:    ctx,
		cancel: cancel,
		coords: make(map[string]*Coordinator),
	}
}

// Get returns the user's coordinator, creating it on first use.
func (m *Manager) Get(userID string) *Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.coords[userID]; ok {
		return c
	}
	var nav Navigator
	if m.NavFor != nil {
		nav = m.NavFor(userID)
	}
	c := New(m.ctx, m.store, m.infer, nav, userID)
	m.coords[userID] = c
	return c
}

// Drop removes a user's coordinator, e.g. on sign-out.
func (m *Manager) Drop(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.coords[userID]; ok {
		c.SetContext("")
		delete(m.coords, userID)
	}
}

// Count returns the number of live coordinators.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.coords)
}

// Close tears down every coordinator's watches.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	m.coords = make(map[string]*Coordinator)
	m.mu.Unlock()
}
