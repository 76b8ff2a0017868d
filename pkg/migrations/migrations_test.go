package migrations

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/facilityhub/fmcore/pkg/models"
	"github.com/facilityhub/fmcore/pkg/policy"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Use(policy.New(nil, nil, nil)))
	return db
}

func TestRunCreatesSchema(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, Run(context.Background(), db, nil))

	for _, table := range []string{
		"companies", "users", "schools", "reports", "assets", "work_orders",
		"work_order_tasks", "inventory_items", "audit_entries",
		"audit_entries_archive", "entity_versions", "recompute_jobs",
	} {
		assert.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestRunSeedsDefaultTenantOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, Run(ctx, db, nil))
	require.NoError(t, Run(ctx, db, nil), "migrations are idempotent")

	var tenants []models.Tenant
	require.NoError(t, db.Find(&tenants).Error)
	require.Len(t, tenants, 1)
	assert.Equal(t, tenancy.DefaultTenantID, tenants[0].ID)
	assert.Equal(t, models.TenantActive, tenants[0].Status)
}

func TestCurrentStatusOnSQLite(t *testing.T) {
	st, err := CurrentStatus(context.Background(), setupTestDB(t))
	require.NoError(t, err)
	assert.Equal(t, Status{Dialect: "sqlite"}, st)
}

func TestDownRequiresPostgres(t *testing.T) {
	err := Down(context.Background(), setupTestDB(t), 1)
	assert.ErrorContains(t, err, "only used on postgres")
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	src, err := iofs.New(sqlFiles, "sql")
	require.NoError(t, err)
	defer src.Close()

	v, err := src.First()
	require.NoError(t, err)
	versions := []uint{}
	for {
		versions = append(versions, v)

		up, _, err := src.ReadUp(v)
		require.NoError(t, err, "version %d has no up migration", v)
		_ = up.Close()
		down, _, err := src.ReadDown(v)
		require.NoError(t, err, "version %d has no down migration", v)
		_ = down.Close()

		next, err := src.Next(v)
		if err != nil {
			break
		}
		v = next
	}
	assert.Equal(t, []uint{1, 2, 3}, versions)
}
