package datastore

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm/schema"

	"github.com/facilityhub/fmcore/pkg/models"
)

// EntitySpec describes how writes to one tenant-owned table are tracked.
type EntitySpec struct {
	// Table is filled from the model when empty.
	Table string
	// Model is a pointer to a zero value of the row type, e.g. &models.Asset{}.
	Model models.Entity
	// Audited enables the change audit recorder.
	Audited bool
	// AuditIgnore lists columns whose changes alone are not audited.
	AuditIgnore mapset.Set[string]
	// Historized enables the temporal history store.
	Historized bool
	// TrackedFields is the allow-list of columns that create a history version.
	TrackedFields mapset.Set[string]

	schema *schema.Schema
	typ    reflect.Type
}

// New returns a pointer to a fresh zero row of the spec's type.
func (s *EntitySpec) New() models.Entity {
	return reflect.New(s.typ).Interface().(models.Entity)
}

// Columns returns the spec's column names in schema order.
func (s *EntitySpec) Columns() []string {
	return append([]string(nil), s.schema.DBNames...)
}

// Registry maps tables and row types to their EntitySpec.
type Registry struct {
	mu      sync.RWMutex
	byTable map[string]*EntitySpec
	byType  map[reflect.Type]*EntitySpec
	cache   sync.Map
	namer   schema.Namer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byTable: make(map[string]*EntitySpec),
		byType:  make(map[reflect.Type]*EntitySpec),
		namer:   schema.NamingStrategy{},
	}
}

// Register parses spec.Model and adds it. The model must carry a tenant_id
// column.
func (r *Registry) Register(spec EntitySpec) error {
	if spec.Model == nil {
		return fmt.Errorf("register %q: model is required", spec.Table)
	}
	sch, err := schema.Parse(spec.Model, &r.cache, r.namer)
	if err != nil {
		return fmt.Errorf("parse model %T: %w", spec.Model, err)
	}
	if sch.LookUpField("tenant_id") == nil {
		return fmt.Errorf("model %T has no tenant_id column", spec.Model)
	}
	if spec.Table == "" {
		spec.Table = sch.Table
	}
	if spec.AuditIgnore == nil {
		spec.AuditIgnore = mapset.NewSet[string]()
	}
	if spec.TrackedFields == nil {
		spec.TrackedFields = mapset.NewSet[string]()
	}
	for _, col := range spec.TrackedFields.ToSlice() {
		if _, ok := sch.FieldsByDBName[col]; !ok {
			return fmt.Errorf("%s: tracked field %q is not a column", spec.Table, col)
		}
	}
	spec.schema = sch
	spec.typ = sch.ModelType

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byTable[spec.Table]; exists {
		return fmt.Errorf("table %q already registered", spec.Table)
	}
	s := spec
	r.byTable[s.Table] = &s
	r.byType[s.typ] = &s
	return nil
}

// MustRegister is Register that panics on error. Used for static wiring.
func (r *Registry) MustRegister(specs ...EntitySpec) {
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the spec registered for table.
func (r *Registry) Lookup(table string) (*EntitySpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byTable[table]
	return s, ok
}

// For returns the spec for the type of entity.
func (r *Registry) For(entity any) (*EntitySpec, error) {
	t := reflect.TypeOf(entity)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnregistered, entity)
	}
	return s, nil
}

// Tables returns the registered table names, sorted.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byTable))
	for t := range r.byTable {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
