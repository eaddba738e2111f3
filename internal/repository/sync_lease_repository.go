package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncLeaseRepository is the Postgres-backed per-agency sync lease
type SyncLeaseRepository struct {
	db *sql.DB
}

func NewSyncLeaseRepository(db *sql.DB) *SyncLeaseRepository {
	return &SyncLeaseRepository{db: db}
}

// Acquire takes the lease if it is free or expired
func (r *SyncLeaseRepository) Acquire(ctx context.Context, agencyID, holder string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO sync_lease (agency_id, holder, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agency_id) DO UPDATE
		SET holder = EXCLUDED.holder,
		    acquired_at = EXCLUDED.acquired_at,
		    expires_at = EXCLUDED.expires_at
		WHERE sync_lease.expires_at < EXCLUDED.acquired_at
	`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, agencyID, holder, now, now.Add(ttl))
	if err != nil {
		return false, fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lease result: %w", err)
	}
	return n == 1, nil
}

// Release drops the lease if holder still owns it
func (r *SyncLeaseRepository) Release(ctx context.Context, agencyID, holder string) error {
	query := `DELETE FROM sync_lease WHERE agency_id = $1 AND holder = $2`

	if _, err := r.db.ExecContext(ctx, query, agencyID, holder); err != nil {
		return fmt.Errorf("failed to release sync lease: %w", err)
	}
	return nil
}

// IsHeld reports whether an unexpired lease exists for the agency
func (r *SyncLeaseRepository) IsHeld(ctx context.Context, agencyID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM sync_lease WHERE agency_id = $1 AND expires_at > $2)`

	var held bool
	if err := r.db.QueryRowContext(ctx, query, agencyID, time.Now().UTC()).Scan(&held); err != nil {
		return false, fmt.Errorf("failed to check sync lease: %w", err)
	}
	return held, nil
}
