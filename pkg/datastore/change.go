package datastore

import (
	"reflect"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/facilityhub/fmcore/pkg/models"
)

// Operation is the kind of a tracked write.
type Operation string

const (
	OpInsert   Operation = "INSERT"
	OpUpdate   Operation = "UPDATE"
	OpDelete   Operation = "DELETE"
	OpTruncate Operation = "TRUNCATE"
)

// Change describes one write as seen by hooks.
//
// Before-write hooks see Entity as the candidate row and may modify it;
// After is nil. After-write hooks see Entity as the committed row with After
// and Changed filled in.
type Change struct {
	Op       Operation
	Spec     *EntitySpec
	RecordID string
	TenantID string
	At       time.Time

	Entity models.Entity
	Prior  models.Entity

	Before  Row
	After   Row
	Changed mapset.Set[string]

	// Derived marks writes issued by the recalculator itself.
	Derived bool
	// Purge marks a physical delete.
	Purge bool
	// Reason is the caller-supplied delete reason.
	Reason string
	// Count is the number of rows removed by a truncate.
	Count int64
}

// Table returns the table the change applies to.
func (c *Change) Table() string { return c.Spec.Table }

// Value returns the candidate (or committed) value of column.
func (c *Change) Value(column string) any {
	if c.Entity == nil {
		return nil
	}
	v, _ := c.Spec.Value(c.Entity, column)
	return v
}

// PriorValue returns the pre-write value of column, or nil on insert.
func (c *Change) PriorValue(column string) any {
	if c.Prior == nil {
		return nil
	}
	v, _ := c.Spec.Value(c.Prior, column)
	return v
}

// SetValue assigns column on the candidate row. Only meaningful in
// before-write hooks.
func (c *Change) SetValue(column string, value any) error {
	return c.Spec.SetValue(c.Entity, column, value)
}

// AnyChanged reports whether any of columns differs from the prior row.
// Inserts report true.
func (c *Change) AnyChanged(columns ...string) bool {
	if c.Op == OpInsert || c.Prior == nil {
		return true
	}
	for _, col := range columns {
		if !reflect.DeepEqual(Normalize(c.Value(col)), Normalize(c.PriorValue(col))) {
			return true
		}
	}
	return false
}

// BeforeWriteHook runs inside the transaction before the statement is issued.
// An error aborts the write and is returned to the caller unchanged.
type BeforeWriteHook interface {
	BeforeWrite(tx *Tx, ch *Change) error
}

// AfterWriteHook runs inside the transaction after the statement succeeded.
// An error rolls the whole transaction back and surfaces as ErrWriteFailed.
type AfterWriteHook interface {
	AfterWrite(tx *Tx, ch *Change) error
}
