package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/facilityhub/fmcore/pkg/models"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

// SchedulerUser is the acting user recorded on scheduled jobs.
const SchedulerUser = "scheduler"

// TenantLister lists tenants. It is satisfied by *tenants.Store.
type TenantLister interface {
	List(ctx context.Context) ([]models.Tenant, error)
}

// Scheduler periodically queues recomputation of time-dependent tables, such
// as asset depreciation, for every writable tenant.
type Scheduler struct {
	store   *JobStore
	tenants TenantLister
	cfg     *JobConfig
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(store *JobStore, tenants TenantLister, cfg *JobConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultJobConfig()
	}
	return &Scheduler{store: store, tenants: tenants, cfg: cfg, logger: logger}
}

// Run enqueues a refresh every cfg.RefreshInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.cfg.Enabled || s.cfg.RefreshInterval <= 0 || len(s.cfg.RefreshTables) == 0 {
		s.logger.Info("recompute scheduler disabled")
		return
	}
	s.logger.Info("recompute scheduler starting",
		"interval", s.cfg.RefreshInterval.String(), "tables", s.cfg.RefreshTables)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("recompute scheduler stopped")
			return
		case <-ticker.C:
			if n, err := s.EnqueueAll(ctx); err != nil {
				s.logger.Error("scheduled recompute failed", "queued", n, "error", err)
			}
		}
	}
}

// EnqueueAll queues every configured table for every writable tenant and
// returns how many jobs were queued or already pending.
func (s *Scheduler) EnqueueAll(ctx context.Context) (int, error) {
	tenants, err := s.tenants.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tenants: %w", err)
	}
	n := 0
	for _, t := range tenants {
		if !t.Status.Writable() {
			continue
		}
		tctx := tenancy.WithTenant(ctx, tenancy.TenantContext{TenantID: t.ID, UserID: SchedulerUser})
		for _, table := range s.cfg.RefreshTables {
			if _, err := s.store.Enqueue(tctx, table); err != nil {
				return n, fmt.Errorf("enqueue %s for tenant %s: %w", table, t.ID, err)
			}
			n++
		}
	}
	s.logger.Info("scheduled recompute jobs", "count", n)
	return n, nil
}
