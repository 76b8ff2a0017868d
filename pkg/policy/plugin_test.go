package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/facilityhub/fmcore/pkg/metrics"
	"github.com/facilityhub/fmcore/pkg/models"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

const (
	tenantA = "aaaaaaaa-0000-0000-0000-000000000001"
	tenantB = "bbbbbbbb-0000-0000-0000-000000000002"
)

func newTestDB(t *testing.T, m *metrics.Metrics) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.School{}, &models.Tenant{}))
	require.NoError(t, db.Use(New([]string{"schools"}, nil, m)))
	return db
}

func asTenant(id string) context.Context {
	return tenancy.WithTenant(context.Background(), tenancy.TenantContext{TenantID: id, UserID: "tester"})
}

func newSchool(name string) *models.School {
	return &models.School{
		TenantScoped: models.TenantScoped{ID: uuid.NewString(), Version: 1},
		Name:         name,
		Status:       "active",
	}
}

func TestPlugin_CreateStampsActiveTenant(t *testing.T) {
	db := newTestDB(t, nil)

	s := newSchool("North")
	require.NoError(t, db.WithContext(asTenant(tenantA)).Create(s).Error)
	assert.Equal(t, tenantA, s.TenantID)
}

func TestPlugin_CreateWithoutTenantUsesDefault(t *testing.T) {
	db := newTestDB(t, nil)

	s := newSchool("Bootstrap")
	require.NoError(t, db.WithContext(context.Background()).Create(s).Error)
	assert.Equal(t, tenancy.DefaultTenantID, s.TenantID)
}

func TestPlugin_CreateForeignTenantRejected(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	db := newTestDB(t, m)

	s := newSchool("Elsewhere")
	s.TenantID = tenantB
	err := db.WithContext(asTenant(tenantA)).Create(s).Error
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCrossTenantWrite))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TenantViolationsTotal.WithLabelValues("schools")))

	var count int64
	require.NoError(t, db.WithContext(tenancy.WithBypass(context.Background(), "test")).
		Model(&models.School{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestPlugin_ReadsAreTenantScoped(t *testing.T) {
	db := newTestDB(t, nil)

	a := newSchool("A school")
	require.NoError(t, db.WithContext(asTenant(tenantA)).Create(a).Error)
	b := newSchool("B school")
	require.NoError(t, db.WithContext(asTenant(tenantB)).Create(b).Error)

	var asA []models.School
	require.NoError(t, db.WithContext(asTenant(tenantA)).Find(&asA).Error)
	require.Len(t, asA, 1)
	assert.Equal(t, "A school", asA[0].Name)

	// B's row is invisible to A, even by primary key.
	var got models.School
	err := db.WithContext(asTenant(tenantA)).First(&got, "id = ?", b.ID).Error
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	var count int64
	require.NoError(t, db.WithContext(asTenant(tenantB)).Table("schools").Count(&count).Error)
	assert.Equal(t, int64(1), count, "table-addressed statements are filtered too")
}

func TestPlugin_WritesAreTenantScoped(t *testing.T) {
	db := newTestDB(t, nil)

	b := newSchool("B school")
	require.NoError(t, db.WithContext(asTenant(tenantB)).Create(b).Error)

	res := db.WithContext(asTenant(tenantA)).Model(&models.School{}).
		Where("id = ?", b.ID).Update("name", "hijacked")
	require.NoError(t, res.Error)
	assert.Equal(t, int64(0), res.RowsAffected)

	res = db.WithContext(asTenant(tenantA)).Unscoped().Where("id = ?", b.ID).Delete(&models.School{})
	require.NoError(t, res.Error)
	assert.Equal(t, int64(0), res.RowsAffected)

	var got models.School
	require.NoError(t, db.WithContext(asTenant(tenantB)).First(&got, "id = ?", b.ID).Error)
	assert.Equal(t, "B school", got.Name)
}

func TestPlugin_UpdateCannotMoveTenant(t *testing.T) {
	db := newTestDB(t, nil)

	a := newSchool("A school")
	require.NoError(t, db.WithContext(asTenant(tenantA)).Create(a).Error)

	err := db.WithContext(asTenant(tenantA)).Model(&models.School{}).
		Where("id = ?", a.ID).Updates(map[string]any{"tenant_id": tenantB}).Error
	assert.True(t, errors.Is(err, ErrCrossTenantWrite))
}

func TestPlugin_BypassSeesAllTenantsAndIsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	db := newTestDB(t, m)

	require.NoError(t, db.WithContext(asTenant(tenantA)).Create(newSchool("A")).Error)
	require.NoError(t, db.WithContext(asTenant(tenantB)).Create(newSchool("B")).Error)

	ctx := tenancy.WithBypass(asTenant(tenantA), "cross-tenant report")
	var all []models.School
	require.NoError(t, db.WithContext(ctx).Find(&all).Error)
	assert.Len(t, all, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PolicyBypassTotal.WithLabelValues("schools")))
}

func TestPlugin_UnownedTablesAreNotFiltered(t *testing.T) {
	db := newTestDB(t, nil)

	tenant := &models.Tenant{ID: tenantA, Name: "Acme", Status: models.TenantActive}
	require.NoError(t, db.Create(tenant).Error)

	var got models.Tenant
	require.NoError(t, db.WithContext(asTenant(tenantB)).First(&got, "id = ?", tenantA).Error)
	assert.Equal(t, "Acme", got.Name)
}
