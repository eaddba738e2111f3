package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type SyncCheckpointRepository struct {
	db *sql.DB
}

func NewSyncCheckpointRepository(db *sql.DB) *SyncCheckpointRepository {
	return &SyncCheckpointRepository{db: db}
}

// Get returns the last successful sync time, or nil if the agency never synced
func (r *SyncCheckpointRepository) Get(ctx context.Context, agencyID string) (*time.Time, error) {
	query := `SELECT last_sync_at FROM sync_checkpoint WHERE agency_id = $1`

	var t time.Time
	err := r.db.QueryRowContext(ctx, query, agencyID).Scan(&t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &t, nil
}

// Set stores t as the checkpoint. An older t than the stored one is ignored,
// so the checkpoint only moves forward even when passes race.
func (r *SyncCheckpointRepository) Set(ctx context.Context, agencyID string, t time.Time) error {
	query := `
		INSERT INTO sync_checkpoint (agency_id, last_sync_at, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (agency_id) DO UPDATE
		SET last_sync_at = EXCLUDED.last_sync_at,
		    updated_at = EXCLUDED.updated_at
		WHERE sync_checkpoint.last_sync_at < EXCLUDED.last_sync_at
	`

	_, err := r.db.ExecContext(ctx, query, agencyID, t.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}
