package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		want    []string // field+op+value per condition
		wantErr bool
	}{
		{name: "empty", expr: "", want: nil},
		{name: "single equality", expr: `table_name = "assets"`, want: []string{"table_name=assets"}},
		{
			name: "conjunction with range",
			expr: `actor_id = "alice" AND created_at >= "2026-01-01T00:00:00Z"`,
			want: []string{"actor_id=alice", "created_at>=2026-01-01T00:00:00Z"},
		},
		{name: "lowercase and keyword", expr: `operation != DELETE and table_name = "users"`, want: []string{"operation!=DELETE", "table_name=users"}},
		{name: "less than", expr: `created_at < "2026-01-01T00:00:00Z"`, want: []string{"created_at<2026-01-01T00:00:00Z"}},
		{name: "unknown field", expr: `password = "x"`, wantErr: true},
		{name: "missing value", expr: `table_name =`, wantErr: true},
		{name: "dangling and", expr: `table_name = "a" AND`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFilter(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			var got []string
			for _, c := range f.Conditions {
				got = append(got, c.Field+c.Op+c.Value.text())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
