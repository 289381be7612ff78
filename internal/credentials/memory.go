package credentials

import (
	"context"
	"strings"
	"sync"
	"time"
)

type pairKey struct {
	companyID   string
	marketplace string
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[pairKey]*Credentials
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[pairKey]*Credentials)}
}

func key(companyID, marketplace string) pairKey {
	return pairKey{companyID: companyID, marketplace: strings.ToUpper(marketplace)}
}

// FindValid returns the active, usable credential for a pair.
func (s *MemoryStore) FindValid(_ context.Context, companyID, marketplace string) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[key(companyID, marketplace)]
	if !ok || !c.IsValid() {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// NeedsRefresh lists active credentials whose token expires within
// RefreshHorizon of now.
func (s *MemoryStore) NeedsRefresh(_ context.Context, now time.Time) ([]*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Credentials
	for _, c := range s.items {
		if c.Active && c.NeedsRefresh(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Save creates or replaces a credential.
func (s *MemoryStore) Save(_ context.Context, c *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.UpdatedAt = time.Now()
	s.items[key(c.CompanyID, c.Marketplace)] = &cp
	return nil
}

// Deactivate soft-deletes a credential.
func (s *MemoryStore) Deactivate(_ context.Context, companyID, marketplace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[key(companyID, marketplace)]
	if !ok {
		return ErrNotFound
	}
	c.Active = false
	c.UpdatedAt = time.Now()
	return nil
}
