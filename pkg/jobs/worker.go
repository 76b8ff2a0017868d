package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/facilityhub/fmcore/pkg/datastore"
	"github.com/facilityhub/fmcore/pkg/derive"
	"github.com/facilityhub/fmcore/pkg/metrics"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

// Recomputer executes a batch recomputation for the tenant in ctx. It is
// satisfied by *derive.Recalculator.
type Recomputer interface {
	RecomputeTable(ctx context.Context, table string) (derive.RecomputeResult, error)
}

// TenantActivator scopes a context to a tenant, rejecting tenants that may
// not be written. It is satisfied by *tenancy.Provider.
type TenantActivator interface {
	Activate(ctx context.Context, tenantID string) (context.Context, error)
}

// WorkerPool processes queued recompute jobs using a pool of goroutines.
type WorkerPool struct {
	store      *JobStore
	recomputer Recomputer
	activator  TenantActivator
	cfg        *JobConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics
	wg         sync.WaitGroup
}

// NewWorkerPool creates a new worker pool. activator may be nil, in which
// case job tenants are trusted as stored.
func NewWorkerPool(store *JobStore, recomputer Recomputer, activator TenantActivator, cfg *JobConfig, logger *slog.Logger, m *metrics.Metrics) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultJobConfig()
	}
	return &WorkerPool{
		store:      store,
		recomputer: recomputer,
		activator:  activator,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
	}
}

// Run starts the worker pool. It spawns cfg.Concurrency goroutines,
// each polling for jobs. It blocks until the context is cancelled,
// then waits for all workers to finish.
func (wp *WorkerPool) Run(ctx context.Context) {
	if wp.store == nil || !wp.cfg.Enabled {
		wp.logger.Info("job worker pool disabled")
		return
	}

	wp.logger.Info("job worker pool starting",
		"concurrency", wp.cfg.Concurrency,
		"maxRetries", wp.cfg.MaxRetries,
		"pollInterval", wp.cfg.PollInterval.String())

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		wp.cleanupLoop(ctx)
	}()

	for i := 0; i < wp.cfg.Concurrency; i++ {
		wp.wg.Add(1)
		go func(workerID int) {
			defer wp.wg.Done()
			wp.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	wp.logger.Info("job worker pool shutting down, waiting for workers to finish")
	wp.wg.Wait()
	wp.logger.Info("job worker pool stopped")
}

// workerLoop is the main loop for a single worker goroutine.
func (wp *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	wp.logger.Info("worker started", "workerID", workerID)

	for {
		select {
		case <-ctx.Done():
			wp.logger.Info("worker stopped", "workerID", workerID)
			return
		case <-ticker.C:
			wp.processOne(ctx, workerID)
		}
	}
}

// processOne tries to claim and process a single job.
func (wp *WorkerPool) processOne(ctx context.Context, workerID int) {
	job, err := wp.store.Claim(ctx, wp.cfg.MaxRetries)
	if err != nil {
		wp.logger.Error("failed to claim job", "workerID", workerID, "error", err)
		return
	}
	if job == nil {
		return
	}

	wp.logger.Info("processing job",
		"workerID", workerID,
		"jobID", job.ID,
		"tenantID", job.TenantID,
		"table", job.Table,
		"attempt", job.AttemptCount)

	jobCtx, err := wp.jobContext(ctx, job)
	if err != nil {
		wp.fail(ctx, job, err, true)
		return
	}

	start := time.Now()
	res, err := wp.recomputer.RecomputeTable(jobCtx, job.Table)
	duration := time.Since(start)
	if err != nil {
		permanent := errors.Is(err, datastore.ErrUnregistered) || errors.Is(err, derive.ErrNoDerivedFields)
		wp.logger.Error("job failed",
			"workerID", workerID,
			"jobID", job.ID,
			"error", err)
		wp.fail(ctx, job, err, permanent)
		return
	}

	wp.logger.Info("job completed",
		"workerID", workerID,
		"jobID", job.ID,
		"rowsScanned", res.Scanned,
		"rowsUpdated", res.Updated,
		"duration", duration.String())

	if err := wp.store.Complete(ctx, job.ID, res.Scanned, res.Updated, duration.Milliseconds()); err != nil {
		wp.logger.Error("failed to mark job as complete", "jobID", job.ID, "error", err)
		return
	}
	wp.metrics.JobFinished(string(JobStateSucceeded), duration.Seconds())
}

// jobContext scopes ctx to the job's tenant, acting as the requester.
func (wp *WorkerPool) jobContext(ctx context.Context, job *RecomputeJob) (context.Context, error) {
	ctx = tenancy.WithTenant(ctx, tenancy.TenantContext{
		TenantID:      job.TenantID,
		UserID:        job.RequestedBy,
		RequestID:     job.ID,
		CorrelationID: job.ID,
	})
	if wp.activator == nil {
		return ctx, nil
	}
	return wp.activator.Activate(ctx, job.TenantID)
}

func (wp *WorkerPool) fail(ctx context.Context, job *RecomputeJob, cause error, permanent bool) {
	if err := wp.store.Fail(ctx, job.ID, cause.Error(), wp.cfg.MaxRetries, permanent); err != nil {
		wp.logger.Error("failed to mark job as failed", "jobID", job.ID, "error", err)
		return
	}
	if permanent || job.AttemptCount >= wp.cfg.MaxRetries {
		wp.metrics.JobFinished(string(JobStateFailed), 0)
	}
}

// cleanupLoop periodically recovers stuck jobs and deletes old finished ones.
func (wp *WorkerPool) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wp.cleanupOnce(ctx)
		}
	}
}

func (wp *WorkerPool) cleanupOnce(ctx context.Context) {
	if wp.cfg.ClaimTimeout > 0 {
		recovered, err := wp.store.CleanupStuckJobs(ctx, wp.cfg.ClaimTimeout)
		if err != nil {
			wp.logger.Error("failed to cleanup stuck jobs", "error", err)
		} else if recovered > 0 {
			wp.logger.Info("recovered stuck jobs", "count", recovered)
		}
	}

	if wp.cfg.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -wp.cfg.RetentionDays)
		deleted, err := wp.store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			wp.logger.Error("failed to delete old jobs", "error", err)
		} else if deleted > 0 {
			wp.logger.Info("deleted old jobs", "count", deleted)
		}
	}
}
