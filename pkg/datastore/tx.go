package datastore

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/facilityhub/fmcore/pkg/models"
	"github.com/facilityhub/fmcore/pkg/policy"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

// immutable columns are never part of an UPDATE issued by Tx.Update.
var immutable = mapset.NewSet("id", "tenant_id", "created_at", "deleted_at", "deleted_by", "delete_reason")

// Tx is one unit of work. It is not safe for concurrent use.
type Tx struct {
	store *Store
	db    *gorm.DB
	ctx   context.Context
}

// DB returns the transaction handle. Statements are tenant filtered.
func (t *Tx) DB() *gorm.DB { return t.db }

// Context returns the context the transaction was started with.
func (t *Tx) Context() context.Context { return t.ctx }

// Store returns the owning store.
func (t *Tx) Store() *Store { return t.store }

// Create inserts entity. ID, tenant, timestamps and version are stamped.
func (t *Tx) Create(entity models.Entity) error {
	spec, err := t.store.registry.For(entity)
	if err != nil {
		return err
	}
	base := entity.Scoped()
	if err := t.checkTenant(spec, base.TenantID); err != nil {
		return err
	}
	if base.TenantID == "" {
		base.TenantID = tenancy.ActiveTenant(t.ctx)
	}
	if base.ID == "" {
		base.ID = uuid.NewString()
	}
	now := t.store.Now()
	base.CreatedAt = now
	base.UpdatedAt = now
	base.Version = 1
	base.DeletedAt = gorm.DeletedAt{}
	base.DeletedBy = ""
	base.DeleteReason = ""

	ch := &Change{Op: OpInsert, Spec: spec, RecordID: base.ID, TenantID: base.TenantID, At: now, Entity: entity}
	if err := t.runBefore(ch); err != nil {
		return err
	}
	if err := t.db.Create(entity).Error; err != nil {
		return t.fail(spec, "insert", err)
	}
	if err := t.reload(spec, entity, false); err != nil {
		return t.fail(spec, "reload", err)
	}
	ch.After = spec.Snapshot(entity)
	return t.runAfter(ch)
}

// Update writes entity if the stored row is still at expectedVersion. An
// update that changes nothing but bookkeeping columns writes nothing. On
// success entity holds the committed row, including its new version.
func (t *Tx) Update(entity models.Entity, expectedVersion int64) error {
	return t.update(entity, expectedVersion, false)
}

// UpdateDerived writes derived columns computed by the recalculator. It skips
// the version check and the reset of derived outputs.
func (t *Tx) UpdateDerived(entity models.Entity) error {
	return t.update(entity, 0, true)
}

func (t *Tx) update(entity models.Entity, expectedVersion int64, derived bool) error {
	spec, err := t.store.registry.For(entity)
	if err != nil {
		return err
	}
	base := entity.Scoped()
	if err := t.checkTenant(spec, base.TenantID); err != nil {
		return err
	}
	prior, err := t.load(spec, base.ID, false)
	if err != nil {
		return err
	}
	pbase := prior.Scoped()
	if base.TenantID != "" && base.TenantID != pbase.TenantID {
		t.store.metrics.TenantViolation(spec.Table)
		return ErrTenantViolation
	}
	if !derived && pbase.Version != expectedVersion {
		t.store.metrics.StaleWrite(spec.Table)
		return fmt.Errorf("%w: %s %s at version %d, expected %d",
			ErrStaleWrite, spec.Table, base.ID, pbase.Version, expectedVersion)
	}

	base.TenantID = pbase.TenantID
	base.CreatedAt = pbase.CreatedAt
	base.UpdatedAt = pbase.UpdatedAt
	base.Version = pbase.Version
	base.DeletedAt = pbase.DeletedAt
	base.DeletedBy = pbase.DeletedBy
	base.DeleteReason = pbase.DeleteReason

	ch := &Change{
		Op: OpUpdate, Spec: spec, RecordID: base.ID, TenantID: base.TenantID,
		Entity: entity, Prior: prior, Before: spec.Snapshot(prior), Derived: derived,
	}
	if err := t.runBefore(ch); err != nil {
		return err
	}
	if Diff(ch.Before, spec.Snapshot(entity), Bookkeeping).Cardinality() == 0 {
		return nil
	}

	now := t.store.Now()
	ch.At = now
	base.UpdatedAt = now
	base.Version = pbase.Version + 1

	target := spec.New()
	target.Scoped().ID = base.ID
	res := t.db.Model(target).
		Where(clause.Eq{Column: clause.Column{Name: "version"}, Value: pbase.Version}).
		Updates(spec.values(entity, immutable))
	if res.Error != nil {
		return t.fail(spec, "update", res.Error)
	}
	if res.RowsAffected == 0 {
		t.store.metrics.StaleWrite(spec.Table)
		return fmt.Errorf("%w: %s %s", ErrStaleWrite, spec.Table, base.ID)
	}
	if err := t.reload(spec, entity, false); err != nil {
		return t.fail(spec, "reload", err)
	}
	ch.After = spec.Snapshot(entity)
	ch.Changed = Diff(ch.Before, ch.After, Bookkeeping)
	return t.runAfter(ch)
}

// Delete soft-deletes entity, recording the acting user and reason. The
// entity's Version is the expected stored version.
func (t *Tx) Delete(entity models.Entity, reason string) error {
	spec, err := t.store.registry.For(entity)
	if err != nil {
		return err
	}
	base := entity.Scoped()
	if err := t.checkTenant(spec, base.TenantID); err != nil {
		return err
	}
	prior, err := t.load(spec, base.ID, false)
	if err != nil {
		return err
	}
	pbase := prior.Scoped()
	if pbase.Version != base.Version {
		t.store.metrics.StaleWrite(spec.Table)
		return fmt.Errorf("%w: %s %s at version %d, expected %d",
			ErrStaleWrite, spec.Table, base.ID, pbase.Version, base.Version)
	}

	now := t.store.Now()
	ch := &Change{
		Op: OpDelete, Spec: spec, RecordID: base.ID, TenantID: pbase.TenantID, At: now,
		Entity: entity, Prior: prior, Before: spec.Snapshot(prior), Reason: reason,
	}
	if err := t.runBefore(ch); err != nil {
		return err
	}

	target := spec.New()
	target.Scoped().ID = base.ID
	res := t.db.Model(target).
		Where(clause.Eq{Column: clause.Column{Name: "version"}, Value: pbase.Version}).
		Updates(map[string]any{
			"deleted_at":    now,
			"deleted_by":    tenancy.ActingUser(t.ctx),
			"delete_reason": reason,
			"updated_at":    now,
			"version":       pbase.Version + 1,
		})
	if res.Error != nil {
		return t.fail(spec, "delete", res.Error)
	}
	if res.RowsAffected == 0 {
		t.store.metrics.StaleWrite(spec.Table)
		return fmt.Errorf("%w: %s %s", ErrStaleWrite, spec.Table, base.ID)
	}
	if err := t.reload(spec, entity, true); err != nil {
		return t.fail(spec, "reload", err)
	}
	ch.After = spec.Snapshot(entity)
	return t.runAfter(ch)
}

// Purge physically deletes entity, soft-deleted or not. The context must
// carry a tenancy bypass.
func (t *Tx) Purge(entity models.Entity) error {
	spec, err := t.store.registry.For(entity)
	if err != nil {
		return err
	}
	if _, ok := tenancy.BypassFromContext(t.ctx); !ok {
		return ErrPrivilegeRequired
	}
	base := entity.Scoped()
	prior, err := t.load(spec, base.ID, true)
	if err != nil {
		return err
	}

	ch := &Change{
		Op: OpDelete, Spec: spec, RecordID: base.ID, TenantID: prior.Scoped().TenantID,
		At: t.store.Now(), Entity: prior, Prior: prior, Before: spec.Snapshot(prior), Purge: true,
	}
	if err := t.runBefore(ch); err != nil {
		return err
	}
	target := spec.New()
	target.Scoped().ID = base.ID
	if err := t.db.Unscoped().Delete(target).Error; err != nil {
		return t.fail(spec, "purge", err)
	}
	return t.runAfter(ch)
}

// TruncateTenant physically deletes all rows of model's table that belong to
// the active tenant and returns how many were removed. The context must carry
// a tenancy bypass.
func (t *Tx) TruncateTenant(model models.Entity) (int64, error) {
	spec, err := t.store.registry.For(model)
	if err != nil {
		return 0, err
	}
	if _, ok := tenancy.BypassFromContext(t.ctx); !ok {
		return 0, ErrPrivilegeRequired
	}
	tenant := tenancy.ActiveTenant(t.ctx)
	ch := &Change{Op: OpTruncate, Spec: spec, TenantID: tenant, At: t.store.Now()}
	if err := t.runBefore(ch); err != nil {
		return 0, err
	}
	res := t.db.Unscoped().Where(clause.Eq{Column: clause.Column{Name: "tenant_id"}, Value: tenant}).Delete(spec.New())
	if res.Error != nil {
		return 0, t.fail(spec, "truncate", res.Error)
	}
	ch.Count = res.RowsAffected
	if err := t.runAfter(ch); err != nil {
		return 0, err
	}
	return ch.Count, nil
}

// Get loads the live row with id into dest.
func (t *Tx) Get(dest models.Entity, id string) error {
	if _, err := t.store.registry.For(dest); err != nil {
		return err
	}
	return notFound(t.db.First(dest, "id = ?", id).Error)
}

// List loads live rows matching conds into dest, oldest first.
func (t *Tx) List(dest any, conds ...any) error {
	return t.db.Order("created_at").Find(dest, conds...).Error
}

// Row returns the image of the row with id in table, including soft-deleted
// rows.
func (t *Tx) Row(table, id string) (Row, error) {
	spec, ok := t.store.registry.Lookup(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregistered, table)
	}
	e, err := t.load(spec, id, true)
	if err != nil {
		return nil, err
	}
	return spec.Snapshot(e), nil
}

func (t *Tx) load(spec *EntitySpec, id string, unscoped bool) (models.Entity, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	e := spec.New()
	q := t.db
	if unscoped {
		q = q.Unscoped()
	}
	if err := q.First(e, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// reload replaces entity with the stored row.
func (t *Tx) reload(spec *EntitySpec, entity models.Entity, unscoped bool) error {
	fresh, err := t.load(spec, entity.Scoped().ID, unscoped)
	if err != nil {
		return err
	}
	reflect.ValueOf(entity).Elem().Set(reflect.ValueOf(fresh).Elem())
	return nil
}

// checkTenant rejects entities naming a tenant other than the active one.
func (t *Tx) checkTenant(spec *EntitySpec, tenantID string) error {
	if tenantID == "" || tenantID == tenancy.ActiveTenant(t.ctx) {
		return nil
	}
	if _, ok := tenancy.BypassFromContext(t.ctx); ok {
		return nil
	}
	t.store.metrics.TenantViolation(spec.Table)
	return ErrTenantViolation
}

func (t *Tx) runBefore(ch *Change) error {
	for _, h := range t.store.before {
		if err := h.BeforeWrite(t, ch); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) runAfter(ch *Change) error {
	for _, h := range t.store.after {
		if err := h.AfterWrite(t, ch); err != nil {
			if isCallerError(err) {
				return err
			}
			return t.fail(ch.Spec, "after-write", err)
		}
	}
	return nil
}

// fail logs and wraps a storage or hook failure.
func (t *Tx) fail(spec *EntitySpec, stage string, err error) error {
	if errors.Is(err, policy.ErrCrossTenantWrite) {
		t.store.metrics.TenantViolation(spec.Table)
		return ErrTenantViolation
	}
	if isCallerError(err) {
		return err
	}
	t.store.metrics.WriteFailure(spec.Table, stage)
	t.store.logger.Error("write failed",
		"table", spec.Table, "stage", stage, "tenantID", tenancy.ActiveTenant(t.ctx), "error", err)
	return fmt.Errorf("%w: %s %s: %v", ErrWriteFailed, stage, spec.Table, err)
}

// isCallerError reports errors that already carry caller-facing meaning and
// are returned unchanged, even from nested writes.
func isCallerError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStaleWrite) ||
		errors.Is(err, ErrPrivilegeRequired) ||
		errors.Is(err, ErrWriteFailed)
}
