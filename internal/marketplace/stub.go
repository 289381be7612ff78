package marketplace

import (
	"context"
	"sync"
	"time"
)

// StockPush records one PushStock call observed by a StubAdapter.
type StockPush struct {
	OfferID     string
	Quantity    int64
	WarehouseID string
}

// StubAdapter is an in-memory Adapter for tests. PushErrs is consumed one
// error per PushStock call; a nil entry means success.
type StubAdapter struct {
	Name       string
	Warehouses map[string]string
	Orders     []ExternalOrder
	PushErrs   []error

	mu     sync.Mutex
	pushes []StockPush
}

// Marketplace returns the configured identity.
func (s *StubAdapter) Marketplace() string { return s.Name }

// ResolveWarehouse translates via the configured map, or echoes the internal
// id when no map is set.
func (s *StubAdapter) ResolveWarehouse(internalID string) (string, error) {
	if s.Warehouses == nil {
		return internalID, nil
	}
	ext, ok := s.Warehouses[internalID]
	if !ok {
		return "", ErrUnmappedWarehouse(s.Name, internalID)
	}
	return ext, nil
}

// PushStock records the call and pops the next scripted error.
func (s *StubAdapter) PushStock(_ context.Context, offerID string, quantity int64, externalWarehouseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = append(s.pushes, StockPush{OfferID: offerID, Quantity: quantity, WarehouseID: externalWarehouseID})
	if len(s.PushErrs) == 0 {
		return nil
	}
	err := s.PushErrs[0]
	s.PushErrs = s.PushErrs[1:]
	return err
}

// Pushes returns a copy of the recorded PushStock calls.
func (s *StubAdapter) Pushes() []StockPush {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StockPush, len(s.pushes))
	copy(out, s.pushes)
	return out
}

// ListOrders pages through the configured orders.
func (s *StubAdapter) ListOrders(_ context.Context, _, _ time.Time, page, pageSize int) ([]ExternalOrder, error) {
	start := (page - 1) * pageSize
	if start >= len(s.Orders) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(s.Orders) {
		end = len(s.Orders)
	}
	return s.Orders[start:end], nil
}

// ListWarehouses lists the configured mapping targets.
func (s *StubAdapter) ListWarehouses(context.Context) ([]Warehouse, error) {
	var out []Warehouse
	for _, ext := range s.Warehouses {
		out = append(out, Warehouse{ExternalID: ext})
	}
	return out, nil
}

// TestConnection always succeeds.
func (s *StubAdapter) TestConnection(context.Context) error { return nil }
