package ledger

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository for tests and single-process
// deployments. A single mutex serializes all mutations, which gives the same
// lost-update guarantee as the row lock in the Postgres implementation.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[Key]*StockRecord
	applied map[string]struct{}
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[Key]*StockRecord),
		applied: make(map[string]struct{}),
	}
}

// Get returns the record for a key or ErrRecordNotFound.
func (r *MemoryRepository) Get(_ context.Context, key Key) (*StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// Find resolves a record by the identifiers carried on order lines.
func (r *MemoryRepository) Find(_ context.Context, article, warehouseID, companyID string) (*StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if strings.EqualFold(rec.Article, article) && rec.WarehouseID == warehouseID && rec.CompanyID == companyID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrRecordNotFound
}

// Upsert creates or replaces a record, clamping the quantity at zero.
func (r *MemoryRepository) Upsert(_ context.Context, rec *StockRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	cp.Quantity = clamp(cp.Quantity)
	cp.UpdatedAt = time.Now()
	if cp.SyncStatus == "" {
		cp.SyncStatus = SyncNever
	}
	r.records[cp.Key()] = &cp
	return nil
}

// ApplyDelta atomically adds a signed delta, clamping at zero.
func (r *MemoryRepository) ApplyDelta(_ context.Context, key Key, delta int64, dedupKey string) (DeltaResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return DeltaResult{}, ErrRecordNotFound
	}
	if dedupKey != "" {
		if _, dup := r.applied[dedupKey]; dup {
			return DeltaResult{Old: rec.Quantity, New: rec.Quantity, Applied: false}, nil
		}
		r.applied[dedupKey] = struct{}{}
	}
	old := rec.Quantity
	rec.Quantity = clamp(old + delta)
	rec.UpdatedAt = time.Now()
	return DeltaResult{Old: old, New: rec.Quantity, Applied: true}, nil
}

// SetSyncStatus updates the outbound sync bookkeeping of a record.
func (r *MemoryRepository) SetSyncStatus(_ context.Context, key Key, status SyncStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return ErrRecordNotFound
	}
	now := time.Now()
	rec.SyncStatus = status
	rec.ErrorMessage = errMsg
	rec.LastSyncAt = &now
	rec.UpdatedAt = now
	return nil
}
