package audit

import (
	"context"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/facilityhub/fmcore/pkg/datastore"
	"github.com/facilityhub/fmcore/pkg/models"
	"github.com/facilityhub/fmcore/pkg/policy"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

const (
	tenantA = "aaaaaaaa-0000-0000-0000-000000000001"
	tenantB = "bbbbbbbb-0000-0000-0000-000000000002"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type testEnv struct {
	db    *gorm.DB
	data  *datastore.Store
	audit *Store
	clock *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.School{}, &models.User{}, &Entry{}, &ArchivedEntry{}))

	reg := datastore.NewRegistry()
	reg.MustRegister(
		datastore.EntitySpec{Model: &models.School{}, Audited: true},
		datastore.EntitySpec{Model: &models.User{}, Audited: true, AuditIgnore: mapset.NewSet("last_login_at")},
	)
	require.NoError(t, db.Use(policy.New(reg.Tables(), nil, nil)))

	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	data := datastore.NewStore(db, reg, datastore.WithClock(clock.Now))
	store := NewStore(db, &Config{Enabled: true, BatchSize: 2}, nil, nil)
	store.now = clock.Now
	data.OnAfterWrite(NewRecorder(store, nil, nil))

	return &testEnv{db: db, data: data, audit: store, clock: clock}
}

func asUser(tenantID, userID string) context.Context {
	return tenancy.WithTenant(context.Background(), tenancy.TenantContext{
		TenantID:      tenantID,
		UserID:        userID,
		RequestID:     "req-1",
		CorrelationID: "corr-1",
	})
}

// countEntries counts audit rows across all tenants.
func (e *testEnv) countEntries(t *testing.T) int64 {
	t.Helper()
	var n int64
	ctx := tenancy.WithBypass(context.Background(), "test inspection")
	require.NoError(t, e.db.WithContext(ctx).Model(&Entry{}).Count(&n).Error)
	return n
}
