// Package policy enforces tenant isolation at the data layer. Plugin is a
// GORM plugin that injects the active tenant predicate into every statement
// on a tenant-owned table, so no call site can forget it. On PostgreSQL the
// same predicate is additionally enforced by row-level security bound with
// BindSession.
package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/facilityhub/fmcore/pkg/metrics"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

// TenantColumn is the tenant discriminator on every tenant-owned table.
const TenantColumn = "tenant_id"

// ErrCrossTenantWrite is returned when a statement names a tenant other than
// the active one.
var ErrCrossTenantWrite = errors.New("row belongs to another tenant")

const filteredKey = "fmcore:tenant_filtered"

// Plugin injects tenant predicates into GORM statements.
type Plugin struct {
	tables  mapset.Set[string]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Plugin. tables lists tenant-owned tables that may be
// addressed by name without a model (db.Table("assets")); statements with a
// model are detected from the model's schema.
func New(tables []string, logger *slog.Logger, m *metrics.Metrics) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		tables:  mapset.NewSet(tables...),
		logger:  logger,
		metrics: m,
	}
}

// Name implements gorm.Plugin.
func (p *Plugin) Name() string { return "fmcore:tenant_policy" }

// Initialize implements gorm.Plugin.
func (p *Plugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Query().Before("gorm:query").Register("fmcore:tenant_query", p.filter); err != nil {
		return fmt.Errorf("register query callback: %w", err)
	}
	if err := cb.Row().Before("gorm:row").Register("fmcore:tenant_row", p.filter); err != nil {
		return fmt.Errorf("register row callback: %w", err)
	}
	if err := cb.Update().Before("gorm:update").Register("fmcore:tenant_update", p.filterUpdate); err != nil {
		return fmt.Errorf("register update callback: %w", err)
	}
	if err := cb.Delete().Before("gorm:delete").Register("fmcore:tenant_delete", p.filter); err != nil {
		return fmt.Errorf("register delete callback: %w", err)
	}
	if err := cb.Create().Before("gorm:create").Register("fmcore:tenant_create", p.stamp); err != nil {
		return fmt.Errorf("register create callback: %w", err)
	}
	return nil
}

func (p *Plugin) owned(stmt *gorm.Statement) bool {
	if stmt.Schema != nil {
		return stmt.Schema.LookUpField(TenantColumn) != nil
	}
	return p.tables.Contains(stmt.Table)
}

// bypassed reports whether the statement runs privileged, logging it if so.
func (p *Plugin) bypassed(stmt *gorm.Statement, action string) bool {
	b, ok := tenancy.BypassFromContext(stmt.Context)
	if !ok {
		return false
	}
	p.logger.Info("tenant filter bypassed",
		"table", stmt.Table, "action", action, "reason", b.Reason,
		"user", tenancy.ActingUser(stmt.Context))
	p.metrics.PolicyBypass(stmt.Table)
	return true
}

func (p *Plugin) filter(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	stmt := db.Statement
	if !p.owned(stmt) {
		return
	}
	if _, done := stmt.Settings.Load(filteredKey); done {
		return
	}
	stmt.Settings.Store(filteredKey, true)
	if p.bypassed(stmt, "filter") {
		return
	}

	stmt.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{
			Column: clause.Column{Table: stmt.Table, Name: TenantColumn},
			Value:  tenancy.ActiveTenant(stmt.Context),
		},
	}})
}

// filterUpdate rejects attempts to move a row to another tenant, then
// filters like any other statement.
func (p *Plugin) filterUpdate(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	stmt := db.Statement
	if p.owned(stmt) {
		if dest, ok := stmt.Dest.(map[string]any); ok {
			if v, ok := dest[TenantColumn]; ok && fmt.Sprint(v) != tenancy.ActiveTenant(stmt.Context) {
				if _, bypass := tenancy.BypassFromContext(stmt.Context); !bypass {
					p.metrics.TenantViolation(stmt.Table)
					_ = db.AddError(fmt.Errorf("%w: update of %s", ErrCrossTenantWrite, stmt.Table))
					return
				}
			}
		}
	}
	p.filter(db)
}

// stamp sets tenant_id on created rows and rejects rows naming another tenant.
func (p *Plugin) stamp(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	stmt := db.Statement
	if stmt.Schema == nil {
		return
	}
	field := stmt.Schema.LookUpField(TenantColumn)
	if field == nil {
		return
	}

	switch stmt.ReflectValue.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < stmt.ReflectValue.Len(); i++ {
			if !p.stampOne(db, field, reflect.Indirect(stmt.ReflectValue.Index(i))) {
				return
			}
		}
	case reflect.Struct:
		p.stampOne(db, field, stmt.ReflectValue)
	}
}

func (p *Plugin) stampOne(db *gorm.DB, field *schema.Field, rv reflect.Value) bool {
	stmt := db.Statement
	active := tenancy.ActiveTenant(stmt.Context)

	current, zero := field.ValueOf(stmt.Context, rv)
	if zero {
		if err := field.Set(stmt.Context, rv, active); err != nil {
			_ = db.AddError(fmt.Errorf("stamp tenant on %s: %w", stmt.Table, err))
			return false
		}
		return true
	}
	if fmt.Sprint(current) == active {
		return true
	}
	if p.bypassed(stmt, "create") {
		return true
	}
	p.metrics.TenantViolation(stmt.Table)
	_ = db.AddError(fmt.Errorf("%w: insert into %s", ErrCrossTenantWrite, stmt.Table))
	return false
}
