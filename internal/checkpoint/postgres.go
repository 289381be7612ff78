package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the checkpoint for a name or the NeverSynced default.
func (s *PostgresStore) Get(ctx context.Context, name string) (Checkpoint, error) {
	var cp Checkpoint
	err := s.db.QueryRow(ctx, `
		SELECT name, last_sync_at, last_entity_id, last_entity_key,
		       items_processed, duration_ms, status, error_message
		FROM sync_checkpoints
		WHERE name = $1
	`, name).Scan(&cp.Name, &cp.LastSyncAt, &cp.LastEntityID, &cp.LastEntityKey,
		&cp.ItemsProcessed, &cp.DurationMs, &cp.Status, &cp.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return NeverSynced(name), nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint %s: %w", name, err)
	}
	return cp, nil
}

// Upsert creates or replaces the checkpoint row for its name.
func (s *PostgresStore) Upsert(ctx context.Context, cp Checkpoint) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sync_checkpoints
			(name, last_sync_at, last_entity_id, last_entity_key,
			 items_processed, duration_ms, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE
		SET last_sync_at = EXCLUDED.last_sync_at,
		    last_entity_id = EXCLUDED.last_entity_id,
		    last_entity_key = EXCLUDED.last_entity_key,
		    items_processed = EXCLUDED.items_processed,
		    duration_ms = EXCLUDED.duration_ms,
		    status = EXCLUDED.status,
		    error_message = EXCLUDED.error_message
	`, cp.Name, cp.LastSyncAt, cp.LastEntityID, cp.LastEntityKey,
		cp.ItemsProcessed, cp.DurationMs, cp.Status, cp.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to upsert checkpoint %s: %w", cp.Name, err)
	}
	return nil
}
