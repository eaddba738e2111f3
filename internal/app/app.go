// Package app wires the sync engine shared by the service and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/vipul43/leadsync/internal/config"
	"github.com/vipul43/leadsync/internal/database"
	"github.com/vipul43/leadsync/internal/lock"
	"github.com/vipul43/leadsync/internal/logging"
	"github.com/vipul43/leadsync/internal/repository"
	"github.com/vipul43/leadsync/internal/service"
	"github.com/vipul43/leadsync/internal/trello"
)

// LeaseStore is a sync lease that can also be inspected by the status endpoint
type LeaseStore interface {
	service.Locker
	IsHeld(ctx context.Context, agencyID string) (bool, error)
}

type Components struct {
	Agencies    *repository.AgencyRepository
	Leads       *repository.LeadRepository
	Runs        *repository.SyncRunRepository
	Checkpoints *repository.SyncCheckpointRepository
	Leases      LeaseStore
	Reconciler  *service.Reconciler

	closers []func() error
}

// Build creates repositories, the Trello client and the reconciler. The lease lives
// in Redis when REDIS_URL is set and in Postgres otherwise.
func Build(ctx context.Context, cfg *config.Config, db *database.DB) (*Components, error) {
	c := &Components{
		Agencies:    repository.NewAgencyRepository(db.Gorm),
		Leads:       repository.NewLeadRepository(db.Gorm),
		Runs:        repository.NewSyncRunRepository(db.Gorm),
		Checkpoints: repository.NewSyncCheckpointRepository(db.SQL),
	}

	if cfg.RedisURL != "" {
		rl, err := lock.NewRedisLocker(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis lease: %w", err)
		}
		c.Leases = rl
		c.closers = append(c.closers, rl.Close)
		logging.Info().Msg("Using Redis sync lease")
	} else {
		c.Leases = repository.NewSyncLeaseRepository(db.SQL)
		logging.Info().Msg("Using Postgres sync lease")
	}

	board := trello.NewClient(trello.Config{
		BaseURL:        cfg.TrelloBaseURL,
		RequestsPer10s: cfg.TrelloRequestsPer10s,
	})
	fetcher := service.NewCardFetcher(board, retryPolicy(cfg))

	c.Reconciler = service.NewReconciler(c.Agencies, c.Leads, c.Checkpoints, board, fetcher, service.ReconcilerConfig{
		Concurrency: cfg.SyncCardConcurrency,
		CardDelay:   cfg.SyncCardDelay,
		BatchPause:  cfg.SyncBatchPause,
		BatchSize:   cfg.SyncBatchSize,
		LeaseTTL:    cfg.SyncLeaseTTL,
	}).
		WithRunRecorder(c.Runs).
		WithLocker(c.Leases)

	return c, nil
}

// retryPolicy keeps the default backoff and takes the outer attempt count from config
func retryPolicy(cfg *config.Config) service.RetryPolicy {
	p := service.DefaultRetryPolicy()
	if cfg.SyncFetchAttempts > 0 {
		p.OuterAttempts = cfg.SyncFetchAttempts
	}
	return p
}

func (c *Components) Close() {
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close component")
		}
	}
}
