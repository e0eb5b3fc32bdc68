package entities

import (
	"context"
	"maps"
	"sync"
)

// Store keeps the latest state of each entity.
type Store interface {
	Snapshot(ctx context.Context) (map[string]string, error)
	Get(ctx context.Context, entityID string) (string, bool, error)
	Set(ctx context.Context, entityID, state string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]string)}
}

// Snapshot returns a copy of every state.
func (s *MemoryStore) Snapshot(context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.states), nil
}

// Get returns the state of one entity.
func (s *MemoryStore) Get(_ context.Context, entityID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[entityID]

	return state, ok, nil
}

// Set stores the state of one entity.
func (s *MemoryStore) Set(_ context.Context, entityID, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[entityID] = state

	return nil
}
