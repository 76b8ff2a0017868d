package audit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/participle/v2"
	"gorm.io/gorm"
)

// Filter is a parsed audit search expression:
//
//	field op value (AND field op value)*
//
// e.g. `table_name = "assets" AND created_at >= "2026-01-01T00:00:00Z"`.
type Filter struct {
	Conditions []*Condition `parser:"@@ ( 'AND' @@ )*"`
}

// Condition is one comparison.
type Condition struct {
	Field string `parser:"@Ident"`
	Op    string `parser:"@( '!' '=' | '<' '=' | '>' '=' | '=' | '<' | '>' )"`
	Value Value  `parser:"@@"`
}

// Value is a literal operand.
type Value struct {
	String *string `parser:"  @String"`
	Int    *int64  `parser:"| @Int"`
	Ident  *string `parser:"| @Ident"`
}

func (v Value) text() string {
	switch {
	case v.String != nil:
		return *v.String
	case v.Int != nil:
		return strconv.FormatInt(*v.Int, 10)
	case v.Ident != nil:
		return *v.Ident
	}
	return ""
}

var filterParser = participle.MustBuild[Filter](
	participle.Unquote("String"),
	participle.CaseInsensitive("Ident"),
	participle.UseLookahead(2),
)

// filterColumns are the searchable columns.
var filterColumns = map[string]bool{
	"table_name":     true,
	"record_id":      true,
	"operation":      true,
	"actor_id":       true,
	"created_at":     true,
	"request_id":     true,
	"correlation_id": true,
}

// ParseFilter parses expr. An empty expression matches everything.
func ParseFilter(expr string) (*Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return &Filter{}, nil
	}
	f, err := filterParser.ParseString("", expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	for _, c := range f.Conditions {
		c.Field = strings.ToLower(c.Field)
		if !filterColumns[c.Field] {
			return nil, fmt.Errorf("invalid filter: unknown field %q", c.Field)
		}
	}
	return f, nil
}

// Apply adds the filter's conditions to q. Field names and operators come
// from fixed sets, values are always bound.
func (f *Filter) Apply(q *gorm.DB) (*gorm.DB, error) {
	for _, c := range f.Conditions {
		var arg any = c.Value.text()
		switch c.Field {
		case "created_at":
			t, err := time.Parse(time.RFC3339Nano, c.Value.text())
			if err != nil {
				return nil, fmt.Errorf("invalid filter: created_at must be RFC 3339: %w", err)
			}
			arg = t.UTC()
		case "operation":
			arg = strings.ToUpper(c.Value.text())
		}
		q = q.Where(fmt.Sprintf("%s %s ?", c.Field, c.Op), arg)
	}
	return q, nil
}
