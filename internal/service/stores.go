package service

import (
	"context"
	"time"

	"github.com/vipul43/leadsync/internal/models"
)

// LeadStore is the local lead table. Every call is scoped by agency id.
type LeadStore interface {
	FindByExternalID(ctx context.Context, agencyID, externalID, source string) (*models.Lead, error)
	Create(ctx context.Context, lead *models.Lead) error
	UpdateSyncedFields(ctx context.Context, agencyID, leadID string, fields LeadSyncFields) error
	DeleteByExternalID(ctx context.Context, agencyID, externalID, source string) (int64, error)
	DeleteNotInLists(ctx context.Context, agencyID, source string, openListIDs []string) (int64, error)
	DeleteNotInCards(ctx context.Context, agencyID, source string, cardIDs []string) (int64, error)
}

// LeadSyncFields are the columns owned by sync. Local-only columns are absent on purpose.
type LeadSyncFields struct {
	Status              string
	Region              *string
	ContactName         string
	ExternalListID      string
	ListName            *string
	ExternalDescription *string
	ExternalURL         *string
	Labels              models.StringList
	DueAt               *time.Time
	LastActivityAt      *time.Time
}

type TenantStore interface {
	GetByID(ctx context.Context, agencyID string) (*models.Agency, error)
	UpdateListMapping(ctx context.Context, agencyID string, mapping models.ListMapping) error
}

type CheckpointStore interface {
	Get(ctx context.Context, agencyID string) (*time.Time, error)
	Set(ctx context.Context, agencyID string, t time.Time) error
}

// SyncRunRecorder persists pass history
type SyncRunRecorder interface {
	Start(ctx context.Context, run *models.SyncRun) error
	Finish(ctx context.Context, runID string, status models.SyncRunStatus, summary models.JSONB, lastError *string) error
}

// Locker is the per-agency lease that keeps two passes from overlapping
type Locker interface {
	Acquire(ctx context.Context, agencyID, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, agencyID, holder string) error
}

// SyncCompletedEvent is published after a pass finishes
type SyncCompletedEvent struct {
	AgencyID   string      `json:"agencyId"`
	RunID      string      `json:"runId"`
	Summary    SyncSummary `json:"summary"`
	FinishedAt time.Time   `json:"finishedAt"`
}

// Notifier fans out sync results (message broker, websocket clients)
type Notifier interface {
	NotifySyncCompleted(ctx context.Context, event SyncCompletedEvent) error
}
