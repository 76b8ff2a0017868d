package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilityhub/fmcore/pkg/config"
	"github.com/facilityhub/fmcore/pkg/db"
	"github.com/facilityhub/fmcore/pkg/models"
	"github.com/facilityhub/fmcore/pkg/tenancy"
	"github.com/facilityhub/fmcore/pkg/tenants"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Database.Type = db.TypeSQLite
	cfg.Database.DSN = ":memory:"
	cfg.Database.LogLevel = "silent"

	a, err := Open(cfg, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.Migrate(context.Background()))
	return a
}

func admin() context.Context {
	return tenancy.WithBypass(context.Background(), "test setup")
}

func TestRegistry_RegistersFacilityTables(t *testing.T) {
	reg, err := Registry()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"users", "schools", "reports", "assets", "work_orders", "work_order_tasks", "inventory_items",
	}, reg.Tables())

	users, ok := reg.Lookup("users")
	require.True(t, ok)
	assert.True(t, users.Historized)
	assert.True(t, users.AuditIgnore.Contains("last_login_at"))

	assets, ok := reg.Lookup("assets")
	require.True(t, ok)
	assert.True(t, assets.Audited)
	assert.False(t, assets.Historized)
}

func TestApp_WriteIsAuditedAndHistorized(t *testing.T) {
	a := newTestApp(t)
	ctx, err := a.Tenant(context.Background(), tenancy.DefaultTenantID, "alice")
	require.NoError(t, err)

	s := &models.School{Name: "North", Capacity: 100}
	require.NoError(t, a.Data.Create(ctx, s))
	assert.Equal(t, tenancy.DefaultTenantID, s.TenantID)

	s.Name = "North Campus"
	require.NoError(t, a.Data.Update(ctx, s, 1))

	trail, err := a.Audit.Trail(ctx, "schools", s.ID, 0)
	require.NoError(t, err)
	assert.Len(t, trail, 2)

	versions, err := a.History.Versions(ctx, "schools", s.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "North", versions[0].Snapshot["name"])
	assert.Equal(t, "alice", versions[0].ChangedBy)
}

func TestApp_DerivedFieldsAreComputed(t *testing.T) {
	a := newTestApp(t)
	ctx, err := a.Tenant(context.Background(), tenancy.DefaultTenantID, "alice")
	require.NoError(t, err)

	item := &models.InventoryItem{
		SKU:           "FLT-01",
		Name:          "Filter",
		CurrentStock:  10,
		ReservedStock: 4,
		ReorderLevel:  8,
	}
	require.NoError(t, a.Data.Create(ctx, item))
	assert.Equal(t, 6, item.AvailableStock)
	assert.True(t, item.NeedsReorder)
}

func TestApp_TenantsAreIsolated(t *testing.T) {
	a := newTestApp(t)
	acme := &models.Tenant{Name: "Acme"}
	require.NoError(t, a.Tenants.Create(admin(), acme))

	def, err := a.Tenant(context.Background(), tenancy.DefaultTenantID, "alice")
	require.NoError(t, err)
	other, err := a.Tenant(context.Background(), acme.ID, "bob")
	require.NoError(t, err)

	require.NoError(t, a.Data.Create(def, &models.School{Name: "North"}))
	require.NoError(t, a.Data.Create(other, &models.School{Name: "South"}))

	var seen []models.School
	require.NoError(t, a.Data.List(other, &seen))
	require.Len(t, seen, 1)
	assert.Equal(t, "South", seen[0].Name)
}

func TestApp_QuotaIsEnforced(t *testing.T) {
	a := newTestApp(t)
	small := &models.Tenant{Name: "Small", MaxSchools: 1}
	require.NoError(t, a.Tenants.Create(admin(), small))

	ctx, err := a.Tenant(context.Background(), small.ID, "alice")
	require.NoError(t, err)
	require.NoError(t, a.Data.Create(ctx, &models.School{Name: "Only"}))
	err = a.Data.Create(ctx, &models.School{Name: "One too many"})
	assert.ErrorIs(t, err, tenants.ErrQuotaExceeded)
}

func TestApp_SuspendedTenantIsRejected(t *testing.T) {
	a := newTestApp(t)
	acme := &models.Tenant{Name: "Acme"}
	require.NoError(t, a.Tenants.Create(admin(), acme))

	_, err := a.Tenant(context.Background(), acme.ID, "alice")
	require.NoError(t, err)

	require.NoError(t, a.Tenants.SetStatus(admin(), acme.ID, models.TenantSuspended))
	_, err = a.Tenant(context.Background(), acme.ID, "alice")
	assert.ErrorIs(t, err, tenancy.ErrInvalidTenant)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.TenantActivationsTotal.WithLabelValues("rejected")))
}
