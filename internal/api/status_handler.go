package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/vipul43/leadsync/internal/logging"
	"github.com/vipul43/leadsync/internal/models"
	"github.com/vipul43/leadsync/internal/repository"
)

type CheckpointReader interface {
	Get(ctx context.Context, agencyID string) (*time.Time, error)
}

type RunHistory interface {
	GetLatest(ctx context.Context, agencyID string) (*models.SyncRun, error)
}

type LeaseInspector interface {
	IsHeld(ctx context.Context, agencyID string) (bool, error)
}

type syncStatus struct {
	AgencyID   string          `json:"agencyId"`
	LastSyncAt *time.Time      `json:"lastSyncAt"`
	Running    bool            `json:"running"`
	LastRun    *models.SyncRun `json:"lastRun"`
}

type StatusHandler struct {
	checkpoints CheckpointReader
	runs        RunHistory
	leases      LeaseInspector
}

// NewStatusHandler reports sync state; leases may be nil, in which case the
// latest run status decides whether a pass is running
func NewStatusHandler(checkpoints CheckpointReader, runs RunHistory, leases LeaseInspector) *StatusHandler {
	return &StatusHandler{checkpoints: checkpoints, runs: runs, leases: leases}
}

// ServeHTTP handles GET /api/trello/sync/status?agencyId=
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agencyID := r.URL.Query().Get("agencyId")
	if agencyID == "" {
		respondError(w, http.StatusBadRequest, "agencyId is required")
		return
	}
	if !authorizeAgency(w, r, agencyID) {
		return
	}
	ctx := r.Context()
	log := logging.Ctx(ctx)

	checkpoint, err := h.checkpoints.Get(ctx, agencyID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read sync checkpoint")
		respondError(w, http.StatusInternalServerError, "failed to read sync status")
		return
	}

	status := syncStatus{AgencyID: agencyID, LastSyncAt: checkpoint}

	run, err := h.runs.GetLatest(ctx, agencyID)
	switch {
	case err == nil:
		status.LastRun = run
		status.Running = run != nil && run.Status == models.SyncRunStatusRunning
	case errors.Is(err, repository.ErrSyncRunNotFound):
	default:
		log.Error().Err(err).Msg("Failed to read latest sync run")
		respondError(w, http.StatusInternalServerError, "failed to read sync status")
		return
	}

	if h.leases != nil {
		held, err := h.leases.IsHeld(ctx, agencyID)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to check sync lease")
		} else {
			status.Running = held
		}
	}

	respondJSON(w, http.StatusOK, status)
}
