package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Checkpoint)}
}

// Get returns the checkpoint for a name or the NeverSynced default.
func (s *MemoryStore) Get(_ context.Context, name string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.items[name]
	if !ok {
		return NeverSynced(name), nil
	}
	return cp, nil
}

// Upsert creates or replaces the checkpoint row for its name.
func (s *MemoryStore) Upsert(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[cp.Name] = cp
	return nil
}
