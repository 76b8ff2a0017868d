// Package migrations creates the fmcore schema. Tables and indexes come from
// GORM AutoMigrate on every dialect; on PostgreSQL the embedded SQL
// migrations then add row-level security and audit immutability triggers.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/facilityhub/fmcore/pkg/audit"
	"github.com/facilityhub/fmcore/pkg/history"
	"github.com/facilityhub/fmcore/pkg/jobs"
	"github.com/facilityhub/fmcore/pkg/models"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

// MigrationsTable records applied SQL migrations.
const MigrationsTable = "fmcore_schema_migrations"

//go:embed sql/*.sql
var sqlFiles embed.FS

// Models returns every persistent model, tenants first.
func Models() []any {
	all := []any{&models.Tenant{}}
	all = append(all, models.All()...)
	return append(all,
		&audit.Entry{},
		&audit.ArchivedEntry{},
		&history.Version{},
		&jobs.RecomputeJob{},
	)
}

// Status describes the applied SQL migration version.
type Status struct {
	Dialect string `json:"dialect"`
	Version uint   `json:"version"`
	Dirty   bool   `json:"dirty"`
}

// Run brings the schema up to date and seeds the default tenant. Callers
// running several replicas wrap it in an ha.MigrationLocker.
func Run(ctx context.Context, db *gorm.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ctx = tenancy.WithBypass(ctx, "schema migration")
	gdb := db.WithContext(ctx)

	if err := gdb.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	logger.Info("schema auto-migrated", "dialect", db.Dialector.Name(), "models", len(Models()))

	if err := seedDefaultTenant(gdb); err != nil {
		return err
	}

	if db.Dialector.Name() != "postgres" {
		logger.Info("row-level security migrations skipped", "dialect", db.Dialector.Name())
		return nil
	}
	return withMigrator(ctx, db, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply sql migrations: %w", err)
		}
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return err
		}
		logger.Info("sql migrations applied", "version", v, "dirty", dirty)
		return nil
	})
}

// Down reverts the given number of SQL migrations. It does not drop tables.
func Down(ctx context.Context, db *gorm.DB, steps int) error {
	if db.Dialector.Name() != "postgres" {
		return fmt.Errorf("sql migrations are only used on postgres, not %s", db.Dialector.Name())
	}
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	return withMigrator(ctx, db, func(m *migrate.Migrate) error {
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("revert sql migrations: %w", err)
		}
		return nil
	})
}

// CurrentStatus reports the SQL migration version; other dialects report 0.
func CurrentStatus(ctx context.Context, db *gorm.DB) (Status, error) {
	st := Status{Dialect: db.Dialector.Name()}
	if st.Dialect != "postgres" {
		return st, nil
	}
	err := withMigrator(ctx, db, func(m *migrate.Migrate) error {
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return err
		}
		st.Version, st.Dirty = v, dirty
		return nil
	})
	return st, err
}

// withMigrator runs fn against a migrator bound to one pinned connection, so
// closing the migrator leaves the pool open.
func withMigrator(ctx context.Context, db *gorm.DB, fn func(*migrate.Migrate) error) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("init migration driver: %w", err)
	}
	src, err := iofs.New(sqlFiles, "sql")
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = src.Close()
		_ = driver.Close()
		return fmt.Errorf("init migrator: %w", err)
	}
	defer m.Close()
	return fn(m)
}

func seedDefaultTenant(db *gorm.DB) error {
	t := models.Tenant{
		ID:               tenancy.DefaultTenantID,
		Name:             "Default",
		Status:           models.TenantActive,
		SubscriptionTier: models.TierBasic,
	}
	if err := db.Where("id = ?", t.ID).FirstOrCreate(&t).Error; err != nil {
		return fmt.Errorf("seed default tenant: %w", err)
	}
	return nil
}
