package jobs

import (
	"time"
)

// JobState represents the lifecycle state of a recompute job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCanceled  JobState = "canceled"
)

// RecomputeJob is a queued batch recomputation of the derived fields of one
// table for one tenant. The table is tenant-owned, so tenants only see their
// own jobs.
type RecomputeJob struct {
	ID             string     `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	TenantID       string     `gorm:"column:tenant_id;type:varchar(36);index:idx_job_tenant_state,priority:1;not null" json:"tenant_id"`
	Table          string     `gorm:"column:table_name;not null" json:"table_name"`
	RequestedBy    string     `gorm:"column:requested_by;not null" json:"requested_by"`
	RequestedAt    time.Time  `gorm:"column:requested_at;not null" json:"requested_at"`
	State          JobState   `gorm:"column:state;index:idx_job_tenant_state,priority:2;index:idx_job_state;not null;default:queued" json:"state"`
	Message        string     `gorm:"column:message" json:"message,omitempty"`
	StartedAt      *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt     *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	AttemptCount   int        `gorm:"column:attempt_count;default:0" json:"attempt_count"`
	LastError      string     `gorm:"column:last_error" json:"last_error,omitempty"`
	IdempotencyKey string     `gorm:"column:idempotency_key;uniqueIndex:idx_job_idemp_key" json:"-"`
	RowsScanned    int64      `gorm:"column:rows_scanned" json:"rows_scanned"`
	RowsUpdated    int64      `gorm:"column:rows_updated" json:"rows_updated"`
	DurationMs     int64      `gorm:"column:duration_ms" json:"duration_ms"`
}

// TableName returns the GORM table name.
func (RecomputeJob) TableName() string { return "recompute_jobs" }

// IsTerminal returns true if the job is in a terminal state.
func (j *RecomputeJob) IsTerminal() bool {
	switch j.State {
	case JobStateSucceeded, JobStateFailed, JobStateCanceled:
		return true
	}
	return false
}

// idempotencyKey identifies concurrent requests for the same work.
func idempotencyKey(tenantID, table string) string {
	return tenantID + ":" + table
}
