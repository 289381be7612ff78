// Package ledger holds the authoritative stock quantities being reconciled.
package ledger

import (
	"context"
	"errors"
	"time"
)

// SyncStatus tracks the outcome of the last outbound synchronization of a
// stock record.
type SyncStatus string

const (
	SyncNever      SyncStatus = "NEVER_SYNCED"
	SyncSuccess    SyncStatus = "SUCCESS"
	SyncFailed     SyncStatus = "FAILED"
	SyncInProgress SyncStatus = "IN_PROGRESS"
)

// ErrRecordNotFound is returned when no stock record exists for a key.
var ErrRecordNotFound = errors.New("stock record not found")

// Key identifies a stock record.
type Key struct {
	ProductID   string
	WarehouseID string
	Marketplace string
}

// StockRecord is the authoritative quantity for one product at one warehouse
// of one marketplace. Quantity never goes negative; writes clamp at zero.
// Records are never hard-deleted.
type StockRecord struct {
	ProductID    string
	Article      string
	WarehouseID  string
	Marketplace  string
	CompanyID    string
	Quantity     int64
	LastSyncAt   *time.Time
	SyncStatus   SyncStatus
	ErrorMessage string
	UpdatedAt    time.Time
}

// Key returns the record identity.
func (r *StockRecord) Key() Key {
	return Key{ProductID: r.ProductID, WarehouseID: r.WarehouseID, Marketplace: r.Marketplace}
}

// DeltaResult reports an atomic delta application. Applied is false when the
// dedup key had already been recorded; Old and New then both carry the
// current quantity.
type DeltaResult struct {
	Old     int64
	New     int64
	Applied bool
}

// Repository is the persistence port for the stock ledger. All quantity
// mutations go through ApplyDelta: absolute overwrites from different
// sources are not independently orderable.
type Repository interface {
	// Get returns the record for a key or ErrRecordNotFound.
	Get(ctx context.Context, key Key) (*StockRecord, error)

	// Find resolves a record by the identifiers carried on order lines.
	Find(ctx context.Context, article, warehouseID, companyID string) (*StockRecord, error)

	// Upsert creates or replaces a record. Quantity is clamped at zero.
	Upsert(ctx context.Context, rec *StockRecord) error

	// ApplyDelta atomically adds a signed delta to the current quantity,
	// clamping at zero. A non-empty dedupKey is recorded in a movement
	// ledger; reapplying the same key is a no-op with Applied=false.
	ApplyDelta(ctx context.Context, key Key, delta int64, dedupKey string) (DeltaResult, error)

	// SetSyncStatus updates the outbound sync bookkeeping of a record.
	SetSyncStatus(ctx context.Context, key Key, status SyncStatus, errMsg string) error
}

func clamp(q int64) int64 {
	if q < 0 {
		return 0
	}
	return q
}
