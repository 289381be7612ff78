// Package checkpoint records durable sync progress per named recurring job.
package checkpoint

import (
	"context"
	"time"
)

// Status is the outcome of the last sync attempt for a checkpoint.
type Status string

const (
	StatusNeverSynced Status = "NEVER_SYNCED"
	StatusSuccess     Status = "SUCCESS"
	StatusFailed      Status = "FAILED"
	StatusInProgress  Status = "IN_PROGRESS"
)

// Checkpoint is one row per checkpoint name, upserted at the end of every
// sync attempt (success or failure) and never deleted. LastEntityID and
// LastEntityKey carry the resume cursor of batch jobs.
type Checkpoint struct {
	Name           string     `json:"name"`
	LastSyncAt     *time.Time `json:"last_sync_at"`
	LastEntityID   string     `json:"last_entity_id"`
	LastEntityKey  string     `json:"last_entity_key"`
	ItemsProcessed int        `json:"items_processed"`
	DurationMs     int64      `json:"duration_ms"`
	Status         Status     `json:"status"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// NeverSynced is the default snapshot for a checkpoint that has never run.
func NeverSynced(name string) Checkpoint {
	return Checkpoint{Name: name, Status: StatusNeverSynced}
}

// Store is the persistence port for checkpoints.
type Store interface {
	// Get returns the checkpoint for a name, or the NeverSynced default
	// when none exists yet.
	Get(ctx context.Context, name string) (Checkpoint, error)

	// Upsert creates or replaces the checkpoint row for its name.
	Upsert(ctx context.Context, cp Checkpoint) error
}
