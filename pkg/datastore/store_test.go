package datastore

import (
	"context"
	"errors"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

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

// recordingHook captures the changes it sees and can be told to fail.
type recordingHook struct {
	name   string
	order  *[]string
	seen   []Change
	failOn Operation
}

func (h *recordingHook) BeforeWrite(_ *Tx, ch *Change) error {
	*h.order = append(*h.order, "before:"+h.name)
	return nil
}

func (h *recordingHook) AfterWrite(_ *Tx, ch *Change) error {
	*h.order = append(*h.order, "after:"+h.name)
	if ch.Op == h.failOn {
		return errors.New("hook exploded")
	}
	h.seen = append(h.seen, *ch)
	return nil
}

func newTestStore(t *testing.T) (*Store, *gorm.DB, *fakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.School{}, &models.User{}))

	reg := NewRegistry()
	reg.MustRegister(
		EntitySpec{Model: &models.School{}, Audited: true},
		EntitySpec{Model: &models.User{}, Audited: true, AuditIgnore: mapset.NewSet("last_login_at")},
	)
	require.NoError(t, db.Use(policy.New(reg.Tables(), nil, nil)))

	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewStore(db, reg, WithClock(clock.Now)), db, clock
}

func asTenant(id string) context.Context {
	return tenancy.WithTenant(context.Background(), tenancy.TenantContext{TenantID: id, UserID: "alice"})
}

func TestCreate_StampsBookkeeping(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := asTenant(tenantA)

	school := &models.School{Name: "North", Status: "active"}
	require.NoError(t, s.Create(ctx, school))

	assert.NotEmpty(t, school.ID)
	assert.Equal(t, tenantA, school.TenantID)
	assert.Equal(t, int64(1), school.Version)
	assert.True(t, clock.t.Equal(school.CreatedAt))
	assert.True(t, school.CreatedAt.Equal(school.UpdatedAt))
}

func TestCreate_ForeignTenantIsViolation(t *testing.T) {
	s, _, _ := newTestStore(t)

	school := &models.School{TenantScoped: models.TenantScoped{TenantID: tenantB}, Name: "Elsewhere"}
	err := s.Create(asTenant(tenantA), school)
	assert.True(t, errors.Is(err, ErrTenantViolation))
	assert.True(t, errors.Is(err, ErrNotFound), "violations read as not found")
}

func TestGet_TenantIsolation(t *testing.T) {
	s, _, _ := newTestStore(t)

	school := &models.School{Name: "North"}
	require.NoError(t, s.Create(asTenant(tenantA), school))

	var got models.School
	err := s.Get(asTenant(tenantB), &got, school.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	var list []models.School
	require.NoError(t, s.List(asTenant(tenantB), &list))
	assert.Empty(t, list)

	require.NoError(t, s.Get(asTenant(tenantA), &got, school.ID))
	assert.Equal(t, "North", got.Name)
}

func TestUpdate_WritesAndBumpsVersion(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := asTenant(tenantA)

	school := &models.School{Name: "North", Capacity: 100}
	require.NoError(t, s.Create(ctx, school))
	created := school.CreatedAt

	clock.Advance(time.Hour)
	school.Capacity = 120
	require.NoError(t, s.Update(ctx, school, 1))

	assert.Equal(t, int64(2), school.Version)
	assert.True(t, school.CreatedAt.Equal(created))
	assert.True(t, school.UpdatedAt.Equal(clock.t))

	var got models.School
	require.NoError(t, s.Get(ctx, &got, school.ID))
	assert.Equal(t, 120, got.Capacity)
	assert.Equal(t, int64(2), got.Version)
}

func TestUpdate_StaleVersion(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := asTenant(tenantA)

	school := &models.School{Name: "North"}
	require.NoError(t, s.Create(ctx, school))

	first := *school
	second := *school

	first.Name = "North A"
	require.NoError(t, s.Update(ctx, &first, 1))

	second.Name = "North B"
	err := s.Update(ctx, &second, 1)
	assert.True(t, errors.Is(err, ErrStaleWrite))

	var got models.School
	require.NoError(t, s.Get(ctx, &got, school.ID))
	assert.Equal(t, "North A", got.Name)
}

func TestUpdate_OtherTenantIsNotFound(t *testing.T) {
	s, _, _ := newTestStore(t)

	school := &models.School{Name: "North"}
	require.NoError(t, s.Create(asTenant(tenantA), school))

	copyB := *school
	copyB.TenantID = ""
	copyB.Name = "hijacked"
	err := s.Update(asTenant(tenantB), &copyB, 1)
	assert.True(t, errors.Is(err, ErrNotFound))

	moved := *school
	moved.TenantID = tenantB
	err = s.Update(asTenant(tenantA), &moved, 1)
	assert.True(t, errors.Is(err, ErrTenantViolation))
}

func TestUpdate_NoOpWritesNothing(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := asTenant(tenantA)

	var order []string
	hook := &recordingHook{name: "h", order: &order}
	s.OnAfterWrite(hook)

	school := &models.School{Name: "North"}
	require.NoError(t, s.Create(ctx, school))
	require.Len(t, hook.seen, 1)

	clock.Advance(time.Minute)
	same := *school
	require.NoError(t, s.Update(ctx, &same, 1))

	assert.Len(t, hook.seen, 1, "no-op update must not reach after-write hooks")
	assert.Equal(t, int64(1), same.Version)

	var got models.School
	require.NoError(t, s.Get(ctx, &got, school.ID))
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.UpdatedAt.Equal(school.UpdatedAt))
}

func TestUpdate_ChangedFieldsExcludeBookkeeping(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := asTenant(tenantA)

	var order []string
	hook := &recordingHook{name: "h", order: &order}
	s.OnAfterWrite(hook)

	school := &models.School{Name: "North", City: "Oslo"}
	require.NoError(t, s.Create(ctx, school))

	clock.Advance(time.Minute)
	school.City = "Bergen"
	require.NoError(t, s.Update(ctx, school, 1))

	require.Len(t, hook.seen, 2)
	ch := hook.seen[1]
	assert.Equal(t, OpUpdate, ch.Op)
	assert.ElementsMatch(t, []string{"city"}, ch.Changed.ToSlice())
	assert.Equal(t, "Oslo", ch.Before["city"])
	assert.Equal(t, "Bergen", ch.After["city"])
	assert.Equal(t, int64(2), ch.After["version"])
}

func TestHooks_RunInRegistrationOrder(t *testing.T) {
	s, _, _ := newTestStore(t)

	var order []string
	first := &recordingHook{name: "audit", order: &order}
	second := &recordingHook{name: "history", order: &order}
	s.OnBeforeWrite(first, second)
	s.OnAfterWrite(first, second)

	require.NoError(t, s.Create(asTenant(tenantA), &models.School{Name: "North"}))
	assert.Equal(t, []string{"before:audit", "before:history", "after:audit", "after:history"}, order)
}

func TestAfterWriteFailure_RollsBack(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := asTenant(tenantA)

	var order []string
	s.OnAfterWrite(&recordingHook{name: "audit", order: &order, failOn: OpInsert})

	school := &models.School{Name: "Doomed"}
	err := s.Create(ctx, school)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWriteFailed))

	var list []models.School
	require.NoError(t, s.List(ctx, &list))
	assert.Empty(t, list, "business write must be rolled back with the hook")
}

func TestDelete_SoftDeletes(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := asTenant(tenantA)

	school := &models.School{Name: "North"}
	require.NoError(t, s.Create(ctx, school))
	require.NoError(t, s.Delete(ctx, school, "closed"))

	var got models.School
	assert.True(t, errors.Is(s.Get(ctx, &got, school.ID), ErrNotFound))

	var raw models.School
	require.NoError(t, db.WithContext(ctx).Unscoped().First(&raw, "id = ?", school.ID).Error)
	state := raw.Deletion()
	assert.True(t, state.Deleted)
	assert.Equal(t, "alice", state.By)
	assert.Equal(t, "closed", state.Reason)
	assert.Equal(t, int64(2), raw.Version)

	row, err := s.Row(ctx, "schools", school.ID)
	require.NoError(t, err)
	assert.Equal(t, "closed", row["delete_reason"])
}

func TestPurge_RequiresBypass(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := asTenant(tenantA)

	school := &models.School{Name: "North"}
	require.NoError(t, s.Create(ctx, school))

	err := s.Purge(ctx, school)
	assert.True(t, errors.Is(err, ErrPrivilegeRequired))

	require.NoError(t, s.Purge(tenancy.WithBypass(ctx, "gdpr erase"), school))

	var count int64
	require.NoError(t, db.WithContext(ctx).Unscoped().Model(&models.School{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestTruncateTenant_OnlyActiveTenant(t *testing.T) {
	s, _, _ := newTestStore(t)

	require.NoError(t, s.Create(asTenant(tenantA), &models.School{Name: "A1"}))
	require.NoError(t, s.Create(asTenant(tenantA), &models.School{Name: "A2"}))
	require.NoError(t, s.Create(asTenant(tenantB), &models.School{Name: "B1"}))

	_, err := s.TruncateTenant(asTenant(tenantA), &models.School{})
	assert.True(t, errors.Is(err, ErrPrivilegeRequired))

	n, err := s.TruncateTenant(tenancy.WithBypass(asTenant(tenantA), "offboarding"), &models.School{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var left []models.School
	require.NoError(t, s.List(asTenant(tenantB), &left))
	assert.Len(t, left, 1)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(EntitySpec{Model: &models.Report{}, Historized: true,
		TrackedFields: mapset.NewSet("title", "status")}))

	spec, ok := reg.Lookup("reports")
	require.True(t, ok)
	assert.True(t, spec.Historized)

	byType, err := reg.For(&models.Report{})
	require.NoError(t, err)
	assert.Same(t, spec, byType)

	_, err = reg.For(&models.Asset{})
	assert.True(t, errors.Is(err, ErrUnregistered))

	assert.Error(t, reg.Register(EntitySpec{Model: &models.Report{}}), "duplicate table")
	assert.Error(t, reg.Register(EntitySpec{Model: &models.Tenant{}}), "tenants are not tenant-owned")
	assert.Error(t, reg.Register(EntitySpec{Model: &models.School{},
		TrackedFields: mapset.NewSet("nope")}), "unknown tracked column")
}

func TestNormalize(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.FixedZone("X", 3600))
	var nilTime *time.Time
	name := "x"

	assert.Equal(t, "2026-01-02T02:04:05.123456Z", Normalize(ts))
	assert.Nil(t, Normalize(nilTime))
	assert.Equal(t, "x", Normalize(&name))
	assert.Equal(t, int64(7), Normalize(7))
	assert.Equal(t, "active", Normalize(models.TenantActive))
	assert.Nil(t, Normalize(gorm.DeletedAt{}))
}
