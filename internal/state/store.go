package state

import (
	"context"
	"sort"
	"sync"

	"github.com/imamik/branchenv/internal/environment"
)

// Store persists environment states keyed by environment id.
type Store interface {
	// Load returns the state of id, or nil when none is stored.
	Load(ctx context.Context, id string) (*environment.State, error)
	Save(ctx context.Context, st *environment.State) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*environment.State, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*environment.State
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*environment.State)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, id string) (*environment.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[id].Clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, st *environment.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.ID] = st.Clone()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	return nil
}

// List implements Store. States are ordered by id.
func (m *MemoryStore) List(_ context.Context) ([]*environment.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*environment.State, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
