package models

import "time"

type SyncRunStatus string

const (
	SyncRunStatusRunning   SyncRunStatus = "running"
	SyncRunStatusCompleted SyncRunStatus = "completed"
	SyncRunStatusFailed    SyncRunStatus = "failed"
)

// SyncRun records one reconciliation pass for an agency
type SyncRun struct {
	ID          string        `gorm:"column:id;primaryKey" json:"id"`
	AgencyID    string        `gorm:"column:agency_id;index" json:"agencyId"`
	Status      SyncRunStatus `gorm:"column:status" json:"status"`
	Incremental bool          `gorm:"column:incremental" json:"incremental"`
	Trigger     string        `gorm:"column:trigger_source" json:"trigger"`
	Summary     JSONB         `gorm:"column:summary;type:jsonb" json:"summary,omitempty"`
	LastError   *string       `gorm:"column:last_error" json:"lastError,omitempty"`
	StartedAt   time.Time     `gorm:"column:started_at" json:"startedAt"`
	FinishedAt  *time.Time    `gorm:"column:finished_at" json:"finishedAt,omitempty"`
}

// TableName specifies the table name for GORM
func (SyncRun) TableName() string {
	return "sync_run"
}
