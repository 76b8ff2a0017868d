// Package datastore is the single repository boundary for tenant-owned rows.
// Every write goes through a Tx, which checks tenancy and optimistic
// versions, runs the registered hooks in order inside the same database
// transaction, and either commits everything or nothing.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/facilityhub/fmcore/pkg/metrics"
	"github.com/facilityhub/fmcore/pkg/models"
	"github.com/facilityhub/fmcore/pkg/policy"
)

// Store runs units of work against the database.
type Store struct {
	db       *gorm.DB
	registry *Registry
	before   []BeforeWriteHook
	after    []AfterWriteHook
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides time.Now. Used by tests and batch recomputation.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// NewStore creates a Store over db. db must have the policy plugin installed.
func NewStore(db *gorm.DB, registry *Registry, opts ...Option) *Store {
	s := &Store{
		db:       db,
		registry: registry,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnBeforeWrite appends before-write hooks. Hooks run in registration order.
func (s *Store) OnBeforeWrite(hooks ...BeforeWriteHook) {
	s.before = append(s.before, hooks...)
}

// OnAfterWrite appends after-write hooks. Hooks run in registration order.
func (s *Store) OnAfterWrite(hooks ...AfterWriteHook) {
	s.after = append(s.after, hooks...)
}

// Registry returns the entity registry.
func (s *Store) Registry() *Registry { return s.registry }

// Logger returns the store logger.
func (s *Store) Logger() *slog.Logger { return s.logger }

// Now returns the store clock reading, in UTC at microsecond precision.
func (s *Store) Now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// DB returns the underlying handle bound to ctx. Statements issued through it
// are still tenant filtered but bypass hooks; use it for reads only.
func (s *Store) DB(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Session(&gorm.Session{NowFunc: s.Now})
}

// Transaction runs fn in one database transaction scoped to the tenant in ctx.
// Any error returned by fn rolls back every write made through the Tx,
// including audit entries, history versions and recalculations.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	return s.DB(ctx).Transaction(func(gtx *gorm.DB) error {
		if err := policy.BindSession(gtx, ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		return fn(&Tx{store: s, db: gtx, ctx: ctx})
	})
}

// Create inserts entity in its own transaction.
func (s *Store) Create(ctx context.Context, entity models.Entity) error {
	return s.Transaction(ctx, func(tx *Tx) error { return tx.Create(entity) })
}

// Update writes entity in its own transaction if its stored version is still
// expectedVersion.
func (s *Store) Update(ctx context.Context, entity models.Entity, expectedVersion int64) error {
	return s.Transaction(ctx, func(tx *Tx) error { return tx.Update(entity, expectedVersion) })
}

// Delete soft-deletes entity in its own transaction.
func (s *Store) Delete(ctx context.Context, entity models.Entity, reason string) error {
	return s.Transaction(ctx, func(tx *Tx) error { return tx.Delete(entity, reason) })
}

// Purge physically deletes entity in its own transaction. Requires a bypass.
func (s *Store) Purge(ctx context.Context, entity models.Entity) error {
	return s.Transaction(ctx, func(tx *Tx) error { return tx.Purge(entity) })
}

// TruncateTenant physically deletes every row of model's table owned by the
// active tenant. Requires a bypass.
func (s *Store) TruncateTenant(ctx context.Context, model models.Entity) (int64, error) {
	var n int64
	err := s.Transaction(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.TruncateTenant(model)
		return err
	})
	return n, err
}

// Get loads the row with id into dest.
func (s *Store) Get(ctx context.Context, dest models.Entity, id string) error {
	return s.Transaction(ctx, func(tx *Tx) error { return tx.Get(dest, id) })
}

// List loads rows matching conds into dest, a pointer to a slice of models.
func (s *Store) List(ctx context.Context, dest any, conds ...any) error {
	return s.Transaction(ctx, func(tx *Tx) error { return tx.List(dest, conds...) })
}

// Row returns the image of the row with id in table. Soft-deleted rows are
// included.
func (s *Store) Row(ctx context.Context, table, id string) (Row, error) {
	var row Row
	err := s.Transaction(ctx, func(tx *Tx) error {
		var err error
		row, err = tx.Row(table, id)
		return err
	})
	return row, err
}

// notFound maps GORM's missing-row error.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
