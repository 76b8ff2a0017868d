package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/facilityhub/fmcore/pkg/policy"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

const (
	tenantA = "aaaaaaaa-0000-0000-0000-000000000001"
	tenantB = "bbbbbbbb-0000-0000-0000-000000000002"
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
	require.NoError(t, db.AutoMigrate(&RecomputeJob{}))
	return db
}

func asUser(tenantID, user string) context.Context {
	return tenancy.WithTenant(context.Background(), tenancy.TenantContext{TenantID: tenantID, UserID: user})
}

func bypass() context.Context {
	return tenancy.WithBypass(context.Background(), "test inspection")
}

func TestEnqueueCreatesJob(t *testing.T) {
	store := NewJobStore(setupTestDB(t))

	created, err := store.Enqueue(asUser(tenantA, "alice"), "assets")
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, created.State)
	assert.Equal(t, tenantA, created.TenantID)
	assert.Equal(t, "assets", created.Table)
	assert.Equal(t, "alice", created.RequestedBy)
	assert.Equal(t, tenantA+":assets", created.IdempotencyKey)
}

func TestEnqueueRequiresTable(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	_, err := store.Enqueue(asUser(tenantA, "alice"), " ")
	assert.Error(t, err)
}

func TestEnqueueIdempotencyReturnsDuplicate(t *testing.T) {
	store := NewJobStore(setupTestDB(t))

	created1, err := store.Enqueue(asUser(tenantA, "alice"), "assets")
	require.NoError(t, err)
	created2, err := store.Enqueue(asUser(tenantA, "bob"), "assets")
	require.NoError(t, err)
	assert.Equal(t, created1.ID, created2.ID)

	other, err := store.Enqueue(asUser(tenantB, "carol"), "assets")
	require.NoError(t, err)
	assert.NotEqual(t, created1.ID, other.ID, "tenants never share jobs")
}

func TestEnqueueIdempotencyAllowsAfterTerminal(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	ctx := asUser(tenantA, "alice")

	job1, err := store.Enqueue(ctx, "assets")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, job1.ID, 5, 1, 100))

	job2, err := store.Enqueue(ctx, "assets")
	require.NoError(t, err)
	assert.NotEqual(t, job1.ID, job2.ID)

	require.NoError(t, store.Complete(ctx, job2.ID, 5, 0, 100))
	job3, err := store.Enqueue(ctx, "assets")
	require.NoError(t, err)
	assert.NotEqual(t, job2.ID, job3.ID, "several finished jobs may release the same key")
}

func TestClaimReturnsQueuedJobOfAnyTenant(t *testing.T) {
	store := NewJobStore(setupTestDB(t))

	job, err := store.Enqueue(asUser(tenantB, "bob"), "assets")
	require.NoError(t, err)

	claimed, err := store.Claim(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, tenantB, claimed.TenantID)
	assert.Equal(t, JobStateRunning, claimed.State)
	assert.NotNil(t, claimed.StartedAt)
	assert.Equal(t, 1, claimed.AttemptCount)
}

func TestClaimReturnsNilWhenEmpty(t *testing.T) {
	store := NewJobStore(setupTestDB(t))

	claimed, err := store.Claim(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimRespectsMaxRetries(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	job, err := store.Enqueue(asUser(tenantA, "alice"), "assets")
	require.NoError(t, err)
	require.NoError(t, db.WithContext(bypass()).Model(&RecomputeJob{}).
		Where("id = ?", job.ID).Update("attempt_count", 4).Error)

	claimed, err := store.Claim(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestCompleteUpdatesJob(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	ctx := asUser(tenantA, "alice")

	job, err := store.Enqueue(ctx, "assets")
	require.NoError(t, err)
	require.NoError(t, store.Complete(context.Background(), job.ID, 10, 2, 5000))

	result, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateSucceeded, result.State)
	assert.Equal(t, int64(10), result.RowsScanned)
	assert.Equal(t, int64(2), result.RowsUpdated)
	assert.Equal(t, int64(5000), result.DurationMs)
	assert.NotNil(t, result.FinishedAt)
}

func TestFailRequeuesWhenRetriesLeft(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	ctx := asUser(tenantA, "alice")

	job, err := store.Enqueue(ctx, "assets")
	require.NoError(t, err)
	_, err = store.Claim(context.Background(), 3)
	require.NoError(t, err)

	require.NoError(t, store.Fail(context.Background(), job.ID, "transient error", 3, false))

	result, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, result.State, "should re-queue for retry")
	assert.Equal(t, "transient error", result.LastError)
}

func TestFailMarksFailedAtMaxRetries(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)
	ctx := asUser(tenantA, "alice")

	job, err := store.Enqueue(ctx, "assets")
	require.NoError(t, err)
	require.NoError(t, db.WithContext(bypass()).Model(&RecomputeJob{}).
		Where("id = ?", job.ID).Update("attempt_count", 3).Error)

	require.NoError(t, store.Fail(context.Background(), job.ID, "fatal error", 3, false))

	result, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateFailed, result.State)
	assert.Contains(t, result.Message, "Max retries exceeded")
}

func TestFailPermanentSkipsRetries(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	ctx := asUser(tenantA, "alice")

	job, err := store.Enqueue(ctx, "nonsense")
	require.NoError(t, err)
	require.NoError(t, store.Fail(context.Background(), job.ID, "unknown table", 3, true))

	result, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateFailed, result.State)
	assert.Contains(t, result.Message, "Permanent failure")
}

func TestCancelQueuedJobSucceeds(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	ctx := asUser(tenantA, "alice")

	job, err := store.Enqueue(ctx, "assets")
	require.NoError(t, err)
	require.NoError(t, store.Cancel(ctx, job.ID))

	result, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateCanceled, result.State)
	assert.Equal(t, "Canceled by alice", result.Message)
}

func TestCancelRunningJobFails(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	ctx := asUser(tenantA, "alice")

	job, err := store.Enqueue(ctx, "assets")
	require.NoError(t, err)
	_, err = store.Claim(context.Background(), 3)
	require.NoError(t, err)

	err = store.Cancel(ctx, job.ID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "running")
}

func TestCancelOtherTenantsJobIsNotFound(t *testing.T) {
	store := NewJobStore(setupTestDB(t))

	job, err := store.Enqueue(asUser(tenantA, "alice"), "assets")
	require.NoError(t, err)

	err = store.Cancel(asUser(tenantB, "mallory"), job.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(asUser(tenantB, "mallory"), job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListWithFilters(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	ctx := asUser(tenantA, "alice")

	for _, table := range []string{"assets", "inventory_items", "work_orders"} {
		_, err := store.Enqueue(ctx, table)
		require.NoError(t, err)
	}
	_, err := store.Enqueue(asUser(tenantB, "bob"), "assets")
	require.NoError(t, err)

	results, _, total, err := store.List(ctx, JobListFilter{Table: "assets"}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, results, 1)

	results, _, total, err = store.List(ctx, JobListFilter{}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, results, 3)
}

func TestListPagination(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	ctx := asUser(tenantA, "alice")

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return at }
		_, err := store.Enqueue(ctx, "table_"+string(rune('a'+i)))
		require.NoError(t, err)
	}

	results, nextToken, total, err := store.List(ctx, JobListFilter{}, 2, "")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 5, total)
	assert.NotEmpty(t, nextToken)
	assert.Equal(t, "table_e", results[0].Table)

	results2, nextToken2, _, err := store.List(ctx, JobListFilter{}, 2, nextToken)
	require.NoError(t, err)
	assert.Len(t, results2, 2)
	assert.NotEmpty(t, nextToken2)

	results3, nextToken3, _, err := store.List(ctx, JobListFilter{}, 2, nextToken2)
	require.NoError(t, err)
	assert.Len(t, results3, 1)
	assert.Empty(t, nextToken3)
	assert.Equal(t, "table_a", results3[0].Table)
}

func TestListPaginationSharedTimestamp(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	ctx := asUser(tenantA, "alice")

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return at }
	for _, table := range []string{"assets", "work_orders", "inventory_items"} {
		_, err := store.Enqueue(ctx, table)
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	token := ""
	for pages := 0; pages < 5; pages++ {
		results, next, total, err := store.List(ctx, JobListFilter{}, 1, token)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		for _, j := range results {
			seen[j.Table] = true
		}
		if next == "" {
			break
		}
		token = next
	}
	assert.Len(t, seen, 3)

	_, _, _, err := store.List(ctx, JobListFilter{}, 1, "not-a-token")
	assert.Error(t, err)
}

func TestCleanupStuckJobs(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)
	ctx := asUser(tenantA, "alice")

	job, err := store.Enqueue(ctx, "assets")
	require.NoError(t, err)
	_, err = store.Claim(context.Background(), 3)
	require.NoError(t, err)

	oldTime := time.Now().UTC().Add(-20 * time.Minute)
	require.NoError(t, db.WithContext(bypass()).Model(&RecomputeJob{}).
		Where("id = ?", job.ID).Update("started_at", oldTime).Error)

	recovered, err := store.CleanupStuckJobs(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	result, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, result.State)
}

func TestDeleteOlderThan(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)
	ctx := asUser(tenantA, "alice")

	job, err := store.Enqueue(ctx, "assets")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, job.ID, 1, 0, 100))

	oldTime := time.Now().UTC().Add(-10 * 24 * time.Hour)
	require.NoError(t, db.WithContext(bypass()).Model(&RecomputeJob{}).
		Where("id = ?", job.ID).Update("finished_at", oldTime).Error)

	deleted, err := store.DeleteOlderThan(context.Background(), time.Now().UTC().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
