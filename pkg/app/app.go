// Package app wires the fmcore components into one unit: the tenant-filtered
// database, the registry of tenant-owned tables and the write hooks that
// audit, historize and recalculate every change.
package app

import (
	"context"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/facilityhub/fmcore/pkg/audit"
	"github.com/facilityhub/fmcore/pkg/config"
	"github.com/facilityhub/fmcore/pkg/datastore"
	"github.com/facilityhub/fmcore/pkg/db"
	"github.com/facilityhub/fmcore/pkg/derive"
	"github.com/facilityhub/fmcore/pkg/history"
	"github.com/facilityhub/fmcore/pkg/jobs"
	"github.com/facilityhub/fmcore/pkg/metrics"
	"github.com/facilityhub/fmcore/pkg/migrations"
	"github.com/facilityhub/fmcore/pkg/models"
	"github.com/facilityhub/fmcore/pkg/tenancy"
	"github.com/facilityhub/fmcore/pkg/tenants"
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Registry *datastore.Registry
	Data     *datastore.Store
	Tenants  *tenants.Store
	Provider *tenancy.Provider
	Audit    *audit.Store
	History  *history.Store
	Recalc   *derive.Recalculator
	Jobs     *jobs.JobStore
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Registry returns the entity registry for the facility tables.
func Registry() (*datastore.Registry, error) {
	reg := datastore.NewRegistry()
	specs := []datastore.EntitySpec{
		{
			Model:         &models.User{},
			Audited:       true,
			AuditIgnore:   mapset.NewSet("last_login_at"),
			Historized:    true,
			TrackedFields: history.UserFields,
		},
		{Model: &models.School{}, Audited: true, Historized: true, TrackedFields: history.SchoolFields},
		{Model: &models.Report{}, Audited: true, Historized: true, TrackedFields: history.ReportFields},
		{Model: &models.Asset{}, Audited: true},
		{Model: &models.WorkOrder{}, Audited: true},
		{Model: &models.WorkOrderTask{}, Audited: true},
		{Model: &models.InventoryItem{}, Audited: true},
	}
	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Open connects to the configured database and wires every component on
// top of it. reg may be nil, in which case metrics are not exported.
func Open(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	entities, err := Registry()
	if err != nil {
		return nil, fmt.Errorf("build entity registry: %w", err)
	}
	gdb, err := db.Open(&cfg.Database, entities.Tables(), logger, m)
	if err != nil {
		return nil, err
	}
	return New(cfg, gdb, entities, logger, m), nil
}

// New wires the components on an already opened database whose tenant
// policy plugin is installed.
func New(cfg *config.Config, gdb *gorm.DB, entities *datastore.Registry, logger *slog.Logger, m *metrics.Metrics) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:   cfg,
		DB:       gdb,
		Registry: entities,
		Metrics:  m,
		Logger:   logger,
	}

	a.Data = datastore.NewStore(gdb, entities,
		datastore.WithLogger(logger.With("component", "datastore")),
		datastore.WithMetrics(m))

	a.Tenants = tenants.NewStore(gdb, nil, logger.With("component", "tenants"))
	a.Provider = tenancy.NewProvider(a.Tenants, &cfg.Tenancy, logger.With("component", "tenancy"))
	a.Provider.SetMetrics(m)
	a.Tenants.SetInvalidator(a.Provider)

	a.Audit = audit.NewStore(gdb, &cfg.Audit, logger.With("component", "audit"), m)
	a.History = history.NewStore(a.Data)
	a.Recalc = derive.NewRecalculator(a.Data, logger.With("component", "derive"), m)
	a.Jobs = jobs.NewJobStore(gdb)

	a.Data.OnBeforeWrite(tenants.NewQuotaGuard(), a.Recalc)
	a.Data.OnAfterWrite(
		audit.NewRecorder(a.Audit, &cfg.Audit, logger.With("component", "audit")),
		history.NewRecorder(logger.With("component", "history"), m),
		a.Recalc,
	)
	return a
}

// Migrate brings the schema up to date.
func (a *App) Migrate(ctx context.Context) error {
	return migrations.Run(ctx, a.DB, a.Logger)
}

// Tenant activates tenantID for userID, rejecting unknown tenants.
func (a *App) Tenant(ctx context.Context, tenantID, userID string) (context.Context, error) {
	return a.Provider.ActivateContext(ctx, tenancy.TenantContext{TenantID: tenantID, UserID: userID})
}

// WorkerPool returns a recompute worker pool bound to the app's stores.
func (a *App) WorkerPool() *jobs.WorkerPool {
	return jobs.NewWorkerPool(a.Jobs, a.Recalc, a.Provider, &a.Config.Job,
		a.Logger.With("component", "jobs"), a.Metrics)
}

// Scheduler returns the periodic recompute scheduler.
func (a *App) Scheduler() *jobs.Scheduler {
	return jobs.NewScheduler(a.Jobs, a.Tenants, &a.Config.Job, a.Logger.With("component", "scheduler"))
}

// ArchiveWorker returns the audit archival worker.
func (a *App) ArchiveWorker() *audit.ArchiveWorker {
	return audit.NewArchiveWorker(a.Audit, &a.Config.Audit, a.Logger.With("component", "audit-archive"))
}

// Close closes the database.
func (a *App) Close() error {
	return db.Close(a.DB)
}
