package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/facilityhub/fmcore/pkg/datastore"
	"github.com/facilityhub/fmcore/pkg/policy"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

// ErrNotFound is returned for unknown jobs.
var ErrNotFound = errors.New("job not found")

// JobStore provides database operations for recompute jobs. Calls made with
// a tenant context see that tenant's jobs only; the worker's maintenance
// calls (Claim, CleanupStuckJobs, DeleteOlderThan) run across tenants.
type JobStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// AutoMigrate creates or updates the recompute_jobs table.
func (s *JobStore) AutoMigrate() error {
	return s.db.AutoMigrate(&RecomputeJob{})
}

// JobListFilter defines filters for listing jobs.
type JobListFilter struct {
	Table       string
	State       string
	RequestedBy string
}

func (s *JobStore) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := policy.BindSession(tx, ctx); err != nil {
			return err
		}
		return fn(tx)
	})
}

func system(ctx context.Context, reason string) context.Context {
	return tenancy.WithBypass(ctx, reason)
}

// Enqueue queues a recomputation of table for the active tenant. If a queued
// or running job for the same tenant and table exists, it is returned
// instead of creating a duplicate. Safe for concurrent use.
func (s *JobStore) Enqueue(ctx context.Context, table string) (*RecomputeJob, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errors.New("enqueue job: table is required")
	}
	tenantID := tenancy.ActiveTenant(ctx)
	job := &RecomputeJob{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Table:          table,
		RequestedBy:    tenancy.ActingUser(ctx),
		RequestedAt:    s.now(),
		State:          JobStateQueued,
		IdempotencyKey: idempotencyKey(tenantID, table),
	}

	var result *RecomputeJob
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var existing RecomputeJob
		err := tx.Where("idempotency_key = ? AND state IN ?", job.IdempotencyKey,
			[]JobState{JobStateQueued, JobStateRunning}).First(&existing).Error
		if err == nil {
			result = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check idempotency key: %w", err)
		}

		// Free the key held by finished jobs so the unique index does not
		// block the new one.
		if err := tx.Model(&RecomputeJob{}).
			Where("idempotency_key = ? AND state IN ?", job.IdempotencyKey,
				[]JobState{JobStateSucceeded, JobStateFailed, JobStateCanceled}).
			Update("idempotency_key", nil).Error; err != nil {
			return fmt.Errorf("release idempotency key: %w", err)
		}

		if err := tx.Create(job).Error; err != nil {
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		// Another request may have created the job between check and create.
		var raced RecomputeJob
		lookupErr := s.tx(ctx, func(tx *gorm.DB) error {
			return tx.Where("idempotency_key = ? AND state IN ?", job.IdempotencyKey,
				[]JobState{JobStateQueued, JobStateRunning}).First(&raced).Error
		})
		if lookupErr == nil {
			return &raced, nil
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return result, nil
}

// Claim atomically picks the oldest queued job of any tenant and transitions
// it to running. Uses FOR UPDATE SKIP LOCKED on PostgreSQL. Returns nil if
// no jobs are available.
func (s *JobStore) Claim(ctx context.Context, maxRetries int) (*RecomputeJob, error) {
	ctx = system(ctx, "recompute job claim")
	var job RecomputeJob

	err := s.tx(ctx, func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Raw(`
				SELECT * FROM recompute_jobs
				WHERE state = ? AND attempt_count <= ?
				ORDER BY requested_at ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			`, JobStateQueued, maxRetries).Scan(&job).Error; err != nil {
				return err
			}
		} else {
			err := tx.Where("state = ? AND attempt_count <= ?", JobStateQueued, maxRetries).
				Order("requested_at ASC").First(&job).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
		}
		if job.ID == "" {
			return nil
		}

		res := tx.Model(&RecomputeJob{}).Where("id = ? AND state = ?", job.ID, JobStateQueued).
			Updates(map[string]any{
				"state":         JobStateRunning,
				"started_at":    s.now(),
				"attempt_count": gorm.Expr("attempt_count + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			job = RecomputeJob{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if job.ID == "" {
		return nil, nil
	}

	if err := s.tx(ctx, func(tx *gorm.DB) error {
		return tx.First(&job, "id = ?", job.ID).Error
	}); err != nil {
		return nil, fmt.Errorf("reload claimed job: %w", err)
	}
	return &job, nil
}

// Complete marks a job as succeeded.
func (s *JobStore) Complete(ctx context.Context, jobID string, scanned, updated, durationMs int64) error {
	ctx = system(ctx, "recompute job completion")
	err := s.tx(ctx, func(tx *gorm.DB) error {
		return tx.Model(&RecomputeJob{}).Where("id = ?", jobID).Updates(map[string]any{
			"state":        JobStateSucceeded,
			"finished_at":  s.now(),
			"rows_scanned": scanned,
			"rows_updated": updated,
			"duration_ms":  durationMs,
			"message":      fmt.Sprintf("Scanned %d rows, updated %d", scanned, updated),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail records a failed attempt. If the attempt count is within retries, the
// job is re-queued for retry; otherwise it becomes failed. Permanent errors
// skip the retries.
func (s *JobStore) Fail(ctx context.Context, jobID string, errMsg string, maxRetries int, permanent bool) error {
	ctx = system(ctx, "recompute job failure")
	return s.tx(ctx, func(db *gorm.DB) error {
		return s.fail(db, jobID, errMsg, maxRetries, permanent)
	})
}

func (s *JobStore) fail(db *gorm.DB, jobID string, errMsg string, maxRetries int, permanent bool) error {
	var job RecomputeJob
	if err := db.First(&job, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("load job for fail: %w", err)
	}

	updates := map[string]any{
		"last_error":  errMsg,
		"finished_at": s.now(),
	}
	if !permanent && job.AttemptCount < maxRetries {
		updates["state"] = JobStateQueued
		updates["started_at"] = nil
		updates["finished_at"] = nil
	} else {
		updates["state"] = JobStateFailed
		updates["message"] = "Max retries exceeded: " + errMsg
		if permanent {
			updates["message"] = "Permanent failure: " + errMsg
		}
	}

	if err := db.Model(&RecomputeJob{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// Cancel marks a queued job of the active tenant as canceled. Running jobs
// cannot be canceled.
func (s *JobStore) Cancel(ctx context.Context, jobID string) error {
	var canceled int64
	err := s.tx(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&RecomputeJob{}).
			Where("id = ? AND state = ?", jobID, JobStateQueued).
			Updates(map[string]any{
				"state":       JobStateCanceled,
				"finished_at": s.now(),
				"message":     "Canceled by " + tenancy.ActingUser(ctx),
			})
		canceled = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if canceled == 0 {
		job, err := s.Get(ctx, jobID)
		if err != nil {
			return err
		}
		return fmt.Errorf("job %s is in state %s, only queued jobs can be canceled", jobID, job.State)
	}
	return nil
}

// Get retrieves a job of the active tenant by ID.
func (s *JobStore) Get(ctx context.Context, jobID string) (*RecomputeJob, error) {
	var job RecomputeJob
	if err := s.tx(ctx, func(tx *gorm.DB) error {
		return tx.First(&job, "id = ?", jobID).Error
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// List returns paginated jobs of the active tenant matching filter, newest
// first.
func (s *JobStore) List(ctx context.Context, filter JobListFilter, pageSize int, pageToken string) ([]RecomputeJob, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&RecomputeJob{})
		if filter.Table != "" {
			q = q.Where("table_name = ?", filter.Table)
		}
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		if filter.RequestedBy != "" {
			q = q.Where("requested_by = ?", filter.RequestedBy)
		}
		return q
	}

	var cur *datastore.Cursor
	if pageToken != "" {
		c, err := datastore.DecodeCursor(pageToken)
		if err != nil {
			return nil, "", 0, err
		}
		cur = &c
	}

	var (
		totalSize int64
		records   []RecomputeJob
	)
	err := s.tx(ctx, func(db *gorm.DB) error {
		if err := buildQuery(db).Count(&totalSize).Error; err != nil {
			return fmt.Errorf("count jobs: %w", err)
		}
		query := buildQuery(db).Order("requested_at DESC").Order("id DESC").Limit(pageSize + 1)
		if cur != nil {
			query = cur.After(query, "requested_at")
		}
		if err := query.Find(&records).Error; err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, "", 0, err
	}

	var nextToken string
	if len(records) > pageSize {
		last := records[pageSize-1]
		nextToken = datastore.EncodeCursor(last.RequestedAt, last.ID)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// CleanupStuckJobs transitions running jobs that have been stuck
// (started_at older than claimTimeout) back to queued for retry.
func (s *JobStore) CleanupStuckJobs(ctx context.Context, claimTimeout time.Duration) (int64, error) {
	ctx = system(ctx, "recompute job recovery")
	cutoff := s.now().Add(-claimTimeout)
	var n int64
	err := s.tx(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&RecomputeJob{}).
			Where("state = ? AND started_at < ?", JobStateRunning, cutoff).
			Updates(map[string]any{
				"state":      JobStateQueued,
				"started_at": nil,
				"last_error": "Timed out (stuck job recovery)",
			})
		n = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup stuck jobs: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes terminal jobs finished before cutoff.
func (s *JobStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = system(ctx, "recompute job retention")
	var n int64
	err := s.tx(ctx, func(tx *gorm.DB) error {
		result := tx.Where("state IN ? AND finished_at < ?",
			[]JobState{JobStateSucceeded, JobStateFailed, JobStateCanceled}, cutoff).
			Delete(&RecomputeJob{})
		n = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return n, nil
}
