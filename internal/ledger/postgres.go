package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `product_id, article, warehouse_id, marketplace, company_id,
	quantity, last_sync_at, sync_status, error_message, updated_at`

func scanRecord(row pgx.Row) (*StockRecord, error) {
	var rec StockRecord
	err := row.Scan(&rec.ProductID, &rec.Article, &rec.WarehouseID, &rec.Marketplace,
		&rec.CompanyID, &rec.Quantity, &rec.LastSyncAt, &rec.SyncStatus,
		&rec.ErrorMessage, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get returns the record for a key or ErrRecordNotFound.
func (r *PostgresRepository) Get(ctx context.Context, key Key) (*StockRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM stock_records
		WHERE product_id = $1 AND warehouse_id = $2 AND marketplace = $3
	`, key.ProductID, key.WarehouseID, key.Marketplace)
	return scanRecord(row)
}

// Find resolves a record by the identifiers carried on order lines.
func (r *PostgresRepository) Find(ctx context.Context, article, warehouseID, companyID string) (*StockRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM stock_records
		WHERE article = $1 AND warehouse_id = $2 AND company_id = $3
	`, article, warehouseID, companyID)
	return scanRecord(row)
}

// Upsert creates or replaces a record, clamping the quantity at zero.
func (r *PostgresRepository) Upsert(ctx context.Context, rec *StockRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO stock_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, GREATEST($6, 0), $7, $8, $9, NOW())
		ON CONFLICT (product_id, warehouse_id, marketplace) DO UPDATE
		SET article = EXCLUDED.article,
		    company_id = EXCLUDED.company_id,
		    quantity = EXCLUDED.quantity,
		    last_sync_at = EXCLUDED.last_sync_at,
		    sync_status = EXCLUDED.sync_status,
		    error_message = EXCLUDED.error_message,
		    updated_at = NOW()
	`, rec.ProductID, rec.Article, rec.WarehouseID, rec.Marketplace, rec.CompanyID,
		rec.Quantity, rec.LastSyncAt, rec.SyncStatus, rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to upsert stock record: %w", err)
	}
	return nil
}

// ApplyDelta adds a signed delta under a pessimistic row lock. The row lock,
// the dedup check and the movement insert share one transaction so a crash
// cannot apply a delta without recording its movement.
func (r *PostgresRepository) ApplyDelta(ctx context.Context, key Key, delta int64, dedupKey string) (DeltaResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return DeltaResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var old int64
	err = tx.QueryRow(ctx, `
		SELECT quantity FROM stock_records
		WHERE product_id = $1 AND warehouse_id = $2 AND marketplace = $3
		FOR UPDATE
	`, key.ProductID, key.WarehouseID, key.Marketplace).Scan(&old)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeltaResult{}, ErrRecordNotFound
	}
	if err != nil {
		return DeltaResult{}, fmt.Errorf("failed to lock stock record: %w", err)
	}

	if dedupKey != "" {
		var exists bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM stock_movements WHERE dedup_key = $1)
		`, dedupKey).Scan(&exists)
		if err != nil {
			return DeltaResult{}, fmt.Errorf("failed to check movement ledger: %w", err)
		}
		if exists {
			return DeltaResult{Old: old, New: old, Applied: false}, nil
		}
	}

	updated := clamp(old + delta)
	_, err = tx.Exec(ctx, `
		UPDATE stock_records
		SET quantity = $4, updated_at = NOW()
		WHERE product_id = $1 AND warehouse_id = $2 AND marketplace = $3
	`, key.ProductID, key.WarehouseID, key.Marketplace, updated)
	if err != nil {
		return DeltaResult{}, fmt.Errorf("failed to update quantity: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO stock_movements (id, product_id, warehouse_id, marketplace, dedup_key,
			change_quantity, old_quantity, new_quantity, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, NOW())
	`, uuid.New().String(), key.ProductID, key.WarehouseID, key.Marketplace, dedupKey,
		delta, old, updated)
	if err != nil {
		return DeltaResult{}, fmt.Errorf("failed to insert movement record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return DeltaResult{}, fmt.Errorf("failed to commit delta: %w", err)
	}
	return DeltaResult{Old: old, New: updated, Applied: true}, nil
}

// SetSyncStatus updates the outbound sync bookkeeping of a record.
func (r *PostgresRepository) SetSyncStatus(ctx context.Context, key Key, status SyncStatus, errMsg string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE stock_records
		SET sync_status = $4, error_message = $5, last_sync_at = NOW(), updated_at = NOW()
		WHERE product_id = $1 AND warehouse_id = $2 AND marketplace = $3
	`, key.ProductID, key.WarehouseID, key.Marketplace, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}
