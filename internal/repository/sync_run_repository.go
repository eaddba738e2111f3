package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/leadsync/internal/models"
	"gorm.io/gorm"
)

var ErrSyncRunNotFound = errors.New("sync run not found")

type SyncRunRepository struct {
	db *gorm.DB
}

func NewSyncRunRepository(db *gorm.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// Start inserts a running sync run
func (r *SyncRunRepository) Start(ctx context.Context, run *models.SyncRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}
	return nil
}

// Finish sets the terminal status of a run
func (r *SyncRunRepository) Finish(ctx context.Context, runID string, status models.SyncRunStatus, summary models.JSONB, lastError *string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"status":      status,
			"summary":     summary,
			"last_error":  lastError,
			"finished_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finish sync run: %w", result.Error)
	}
	return nil
}

// GetLatest retrieves the most recent run for an agency
func (r *SyncRunRepository) GetLatest(ctx context.Context, agencyID string) (*models.SyncRun, error) {
	var run models.SyncRun
	result := r.db.WithContext(ctx).
		Where("agency_id = ?", agencyID).
		Order("started_at DESC").
		First(&run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSyncRunNotFound
		}
		return nil, fmt.Errorf("failed to get latest sync run: %w", result.Error)
	}
	return &run, nil
}

// FailStale marks runs stuck in running (process crashed mid-pass) as failed
func (r *SyncRunRepository) FailStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	msg := "abandoned: process stopped before the pass finished"
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("status = ? AND started_at < ?", models.SyncRunStatusRunning, now.Add(-olderThan)).
		Updates(map[string]interface{}{
			"status":      models.SyncRunStatusFailed,
			"last_error":  msg,
			"finished_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to fail stale sync runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
