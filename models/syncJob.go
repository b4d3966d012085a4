package models

import "time"

// SyncJob is one persisted job record per (business, job type). It carries
// the incremental cursor, the lease lock fields and the retry/schedule state.
//
// Invariant: at most one job with status=running per (business_id, job_type)
// unless its lease has expired. The lease fields are only ever mutated through
// single conditional UPDATEs (see syncengine), never read-then-write.
type SyncJob struct {
	ID              uint        `gorm:"primary_key" json:"id"`
	BusinessId      string      `gorm:"uniqueIndex:idx_sync_job,priority:1;not null" json:"business_id"`
	JobType         SyncJobType `gorm:"uniqueIndex:idx_sync_job,priority:2;size:30;not null" json:"job_type"`
	ConnectionId    uint        `gorm:"index;not null" json:"connection_id"`
	Cursor          string      `gorm:"size:64;not null" json:"cursor"`
	Status          string      `gorm:"size:20;not null;index" json:"status"`
	NextRunAt       time.Time   `gorm:"index;not null" json:"next_run_at"`
	LeaseOwner      string      `gorm:"size:64" json:"lease_owner"`
	LeaseAcquiredAt *time.Time  `json:"lease_acquired_at"`
	TriggeredBy     string      `gorm:"size:10" json:"triggered_by"`
	RetryCount      int         `gorm:"default:0" json:"retry_count"`
	LastError       string      `gorm:"type:text" json:"last_error"`
	LastRunAt       *time.Time  `json:"last_run_at"`
	CreatedAt       time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}
