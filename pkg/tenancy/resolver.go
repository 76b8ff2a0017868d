package tenancy

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// TenantHeader is the HTTP header used for tenant resolution.
const TenantHeader = "X-Tenant-ID"

// UserHeader carries the authenticated user id set by the auth layer.
const UserHeader = "X-User-ID"

// CorrelationHeader carries a caller-supplied correlation id.
const CorrelationHeader = "X-Correlation-ID"

// TenantResolver resolves the tenant context from an HTTP request.
type TenantResolver interface {
	Resolve(r *http.Request) (TenantContext, error)
}

// SingleTenantResolver always resolves to DefaultTenantID.
type SingleTenantResolver struct{}

// Resolve returns a TenantContext for the default tenant, keeping the
// request's user and correlation identifiers.
func (s SingleTenantResolver) Resolve(r *http.Request) (TenantContext, error) {
	tc := requestIdentity(r)
	tc.TenantID = DefaultTenantID
	return tc, nil
}

// HeaderTenantResolver reads the tenant id from the X-Tenant-ID header.
// In multi-tenant mode the header is always required.
type HeaderTenantResolver struct{}

// Resolve extracts the tenant id from the request. Returns an error if the
// header is missing or not a UUID.
func (h HeaderTenantResolver) Resolve(r *http.Request) (TenantContext, error) {
	id := strings.TrimSpace(r.Header.Get(TenantHeader))
	if id == "" {
		return TenantContext{}, fmt.Errorf("tenant is required in multi-tenant mode (use %s header)", TenantHeader)
	}
	if err := validateTenantID(id); err != nil {
		return TenantContext{}, err
	}

	tc := requestIdentity(r)
	tc.TenantID = strings.ToLower(id)
	return tc, nil
}

// NewResolver returns the resolver for the given mode.
func NewResolver(mode TenancyMode) TenantResolver {
	if mode == ModeHeader {
		return HeaderTenantResolver{}
	}
	return SingleTenantResolver{}
}

// requestIdentity collects user, request and correlation ids. The correlation
// id falls back to the chi request id.
func requestIdentity(r *http.Request) TenantContext {
	requestID := middleware.GetReqID(r.Context())
	correlationID := strings.TrimSpace(r.Header.Get(CorrelationHeader))
	if correlationID == "" {
		correlationID = requestID
	}
	return TenantContext{
		UserID:        strings.TrimSpace(r.Header.Get(UserHeader)),
		RequestID:     requestID,
		CorrelationID: correlationID,
	}
}

func validateTenantID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("tenant id %q is invalid: must be a UUID", id)
	}
	return nil
}
