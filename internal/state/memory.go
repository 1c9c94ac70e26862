package state

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is the in-process Repository used by tests and dry runs.
// Writes stage in a scratch map and only land on Commit, mirroring the
// all-or-nothing semantics of the durable backends.
type MemoryRepository struct {
	mu        sync.RWMutex
	committed map[string]PositionState
	staged    map[string]PositionState
	deleted   map[string]bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		committed: make(map[string]PositionState),
		staged:    make(map[string]PositionState),
		deleted:   make(map[string]bool),
	}
}

// Seed loads initial records directly into committed state.
func (m *MemoryRepository) Seed(states ...PositionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range states {
		m.committed[st.Symbol] = st
	}
}

func (m *MemoryRepository) Get(_ context.Context, symbol string) (PositionState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.deleted[symbol] {
		return PositionState{}, false, nil
	}
	if st, ok := m.staged[symbol]; ok {
		return st, true, nil
	}
	st, ok := m.committed[symbol]
	return st, ok, nil
}

func (m *MemoryRepository) All(_ context.Context) (map[string]PositionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]PositionState, len(m.committed))
	for sym, st := range m.committed {
		if !m.deleted[sym] {
			out[sym] = st
		}
	}
	for sym, st := range m.staged {
		out[sym] = st
	}
	return out, nil
}

func (m *MemoryRepository) Put(_ context.Context, st PositionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.UpdatedAt = time.Now()
	m.staged[st.Symbol] = st
	delete(m.deleted, st.Symbol)
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.staged, symbol)
	m.deleted[symbol] = true
	return nil
}

func (m *MemoryRepository) Commit(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sym := range m.deleted {
		delete(m.committed, sym)
	}
	for sym, st := range m.staged {
		m.committed[sym] = st
	}
	m.staged = make(map[string]PositionState)
	m.deleted = make(map[string]bool)
	return nil
}

func (m *MemoryRepository) HealthCheck(_ context.Context) error { return nil }
