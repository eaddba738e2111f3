package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/vipul43/leadsync/internal/config"
	"github.com/vipul43/leadsync/internal/logging"
	"github.com/vipul43/leadsync/internal/models"
	"github.com/vipul43/leadsync/internal/service"
)

type AgencyLister interface {
	ListAutoSync(ctx context.Context) ([]models.Agency, error)
}

type CheckpointReader interface {
	Get(ctx context.Context, agencyID string) (*time.Time, error)
}

// RunReaper fails sync runs left in running by a crashed process
type RunReaper interface {
	FailStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Syncer interface {
	Run(ctx context.Context, req service.SyncRequest) (*service.SyncSummary, error)
}

// Watcher runs scheduled incremental syncs for agencies with auto-sync enabled
type Watcher struct {
	pollInterval time.Duration
	syncInterval time.Duration
	passTimeout  time.Duration
	staleAfter   time.Duration
	agencies     AgencyLister
	checkpoints  CheckpointReader
	runs         RunReaper
	syncer       Syncer
	now          func() time.Time
}

func New(cfg *config.Config, agencies AgencyLister, checkpoints CheckpointReader, runs RunReaper, syncer Syncer) *Watcher {
	return &Watcher{
		pollInterval: time.Duration(cfg.PollInterval) * time.Second,
		syncInterval: cfg.SyncInterval,
		passTimeout:  cfg.SyncPassTimeout,
		staleAfter:   cfg.SyncLeaseTTL,
		agencies:     agencies,
		checkpoints:  checkpoints,
		runs:         runs,
		syncer:       syncer,
		now:          time.Now,
	}
}

// Start begins polling for agencies that are due a sync
func (w *Watcher) Start(ctx context.Context) error {
	logging.Info().Dur("poll_interval", w.pollInterval).Dur("sync_interval", w.syncInterval).Msg("Starting sync watcher")

	// catch up on anything that fell due while the process was down
	if err := w.processDueAgencies(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to process due agencies on startup")
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Watcher shutting down...")
			return ctx.Err()
		case <-ticker.C:
			if err := w.processDueAgencies(ctx); err != nil {
				logging.Error().Err(err).Msg("Error processing scheduled syncs")
			}
		}
	}
}

// processDueAgencies runs one pass per due agency, sequentially
func (w *Watcher) processDueAgencies(ctx context.Context) error {
	if w.runs != nil {
		n, err := w.runs.FailStale(ctx, w.staleAfter)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to reap stale sync runs")
		} else if n > 0 {
			logging.Warn().Int64("count", n).Msg("Marked abandoned sync runs as failed")
		}
	}

	agencies, err := w.agencies.ListAutoSync(ctx)
	if err != nil {
		return err
	}

	for i := range agencies {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		agency := &agencies[i]
		if !agency.TrelloConfigured() {
			continue
		}

		checkpoint, err := w.checkpoints.Get(ctx, agency.ID)
		if err != nil {
			logging.Error().Err(err).Str("agency_id", agency.ID).Msg("Failed to read checkpoint")
			continue
		}
		if !isDue(checkpoint, w.now(), w.syncInterval) {
			continue
		}

		w.syncAgency(ctx, agency.ID)
	}

	return nil
}

func (w *Watcher) syncAgency(ctx context.Context, agencyID string) {
	if w.passTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.passTimeout)
		defer cancel()
	}

	_, err := w.syncer.Run(ctx, service.SyncRequest{AgencyID: agencyID, Trigger: service.TriggerScheduled})
	switch {
	case err == nil:
	case errors.Is(err, service.ErrSyncInProgress):
		logging.Debug().Str("agency_id", agencyID).Msg("Sync already running, skipping")
	default:
		logging.Error().Err(err).Str("agency_id", agencyID).Msg("Scheduled sync failed")
	}
}

// isDue reports whether a checkpoint is missing or older than interval
func isDue(checkpoint *time.Time, now time.Time, interval time.Duration) bool {
	if checkpoint == nil {
		return true
	}
	return !now.Before(checkpoint.Add(interval))
}
