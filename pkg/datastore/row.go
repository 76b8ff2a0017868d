package datastore

import (
	"context"
	"database/sql/driver"
	"fmt"
	"reflect"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/shopspring/decimal"

	"github.com/facilityhub/fmcore/pkg/models"
)

// Row is a column-name image of a row. Values are normalized so that images
// taken from memory and from the database compare equal: times are UTC
// RFC 3339 strings at microsecond precision, decimals are strings, integers
// are int64 and nil pointers are nil.
type Row map[string]any

// Bookkeeping is the set of columns maintained by the store itself.
var Bookkeeping = mapset.NewSet(models.BookkeepingColumns...)

// Snapshot returns the Row image of entity.
func (s *EntitySpec) Snapshot(entity models.Entity) Row {
	rv := reflect.Indirect(reflect.ValueOf(entity))
	ctx := context.Background()
	out := make(Row, len(s.schema.DBNames))
	for _, name := range s.schema.DBNames {
		field := s.schema.FieldsByDBName[name]
		v, _ := field.ValueOf(ctx, rv)
		out[name] = Normalize(v)
	}
	return out
}

// Value returns the raw Go value of column on entity.
func (s *EntitySpec) Value(entity models.Entity, column string) (any, bool) {
	field, ok := s.schema.FieldsByDBName[column]
	if !ok {
		return nil, false
	}
	v, _ := field.ValueOf(context.Background(), reflect.Indirect(reflect.ValueOf(entity)))
	return v, true
}

// SetValue assigns value to column on entity.
func (s *EntitySpec) SetValue(entity models.Entity, column string, value any) error {
	field, ok := s.schema.FieldsByDBName[column]
	if !ok {
		return fmt.Errorf("%s has no column %q", s.Table, column)
	}
	return field.Set(context.Background(), reflect.Indirect(reflect.ValueOf(entity)), value)
}

// values returns raw column values of entity, minus skip, for an UPDATE.
func (s *EntitySpec) values(entity models.Entity, skip mapset.Set[string]) map[string]any {
	rv := reflect.Indirect(reflect.ValueOf(entity))
	ctx := context.Background()
	out := make(map[string]any, len(s.schema.DBNames))
	for _, name := range s.schema.DBNames {
		if skip.Contains(name) {
			continue
		}
		v, _ := s.schema.FieldsByDBName[name].ValueOf(ctx, rv)
		out[name] = v
	}
	return out
}

// Normalize converts a column value to its Row representation.
func Normalize(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	}

	switch x := v.(type) {
	case time.Time:
		return x.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)
	case decimal.Decimal:
		return x.String()
	case []byte:
		return string(x)
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return fmt.Sprint(v)
		}
		return Normalize(dv)
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

// Diff returns the columns whose values differ between before and after,
// ignoring skip.
func Diff(before, after Row, skip mapset.Set[string]) mapset.Set[string] {
	changed := mapset.NewSet[string]()
	for col, av := range after {
		if skip != nil && skip.Contains(col) {
			continue
		}
		if !reflect.DeepEqual(before[col], av) {
			changed.Add(col)
		}
	}
	for col := range before {
		if _, ok := after[col]; !ok && (skip == nil || !skip.Contains(col)) {
			changed.Add(col)
		}
	}
	return changed
}

// Only returns the subset of r limited to cols.
func (r Row) Only(cols mapset.Set[string]) Row {
	out := make(Row, cols.Cardinality())
	for col, v := range r {
		if cols.Contains(col) {
			out[col] = v
		}
	}
	return out
}
