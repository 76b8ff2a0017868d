package tenancy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

const tenantA = "7f1c2a9e-3b1d-4c8a-9e2f-0a1b2c3d4e5f"

func TestSingleTenantResolver(t *testing.T) {
	resolver := SingleTenantResolver{}

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"tenant header ignored", tenantA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			if tt.header != "" {
				r.Header.Set(TenantHeader, tt.header)
			}
			tc, err := resolver.Resolve(r)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.TenantID != DefaultTenantID {
				t.Errorf("TenantID = %q, want %q", tc.TenantID, DefaultTenantID)
			}
		})
	}
}

func TestHeaderTenantResolver(t *testing.T) {
	resolver := HeaderTenantResolver{}

	tests := []struct {
		name      string
		header    string
		wantID    string
		wantError bool
	}{
		{name: "valid uuid", header: tenantA, wantID: tenantA},
		{name: "uppercase uuid normalized", header: "7F1C2A9E-3B1D-4C8A-9E2F-0A1B2C3D4E5F", wantID: tenantA},
		{name: "surrounding whitespace", header: "  " + tenantA + " ", wantID: tenantA},
		{name: "missing header", wantError: true},
		{name: "not a uuid", header: "team-a", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			if tt.header != "" {
				r.Header.Set(TenantHeader, tt.header)
			}
			tc, err := resolver.Resolve(r)
			if tt.wantError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.TenantID != tt.wantID {
				t.Errorf("TenantID = %q, want %q", tc.TenantID, tt.wantID)
			}
		})
	}
}

func TestResolver_CorrelationFallsBackToRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	r.Header.Set(UserHeader, "bob")
	r = r.WithContext(context.WithValue(r.Context(), middleware.RequestIDKey, "req-42"))

	tc, err := SingleTenantResolver{}.Resolve(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tc.UserID != "bob" {
		t.Errorf("UserID = %q, want bob", tc.UserID)
	}
	if tc.RequestID != "req-42" || tc.CorrelationID != "req-42" {
		t.Errorf("RequestID/CorrelationID = %q/%q, want req-42/req-42", tc.RequestID, tc.CorrelationID)
	}

	r.Header.Set(CorrelationHeader, "corr-7")
	tc, _ = SingleTenantResolver{}.Resolve(r)
	if tc.CorrelationID != "corr-7" {
		t.Errorf("CorrelationID = %q, want corr-7", tc.CorrelationID)
	}
}

func TestNewResolver(t *testing.T) {
	if _, ok := NewResolver(ModeSingle).(SingleTenantResolver); !ok {
		t.Error("ModeSingle should return SingleTenantResolver")
	}
	if _, ok := NewResolver(ModeHeader).(HeaderTenantResolver); !ok {
		t.Error("ModeHeader should return HeaderTenantResolver")
	}
}
