package tenancy

import (
	"context"
	"strings"
)

// DefaultTenantID is the well-known tenant used by system and bootstrap
// operations when no tenant has been activated.
const DefaultTenantID = "00000000-0000-0000-0000-000000000001"

// SystemUser is the actor recorded for writes without an authenticated user.
const SystemUser = "system"

// ctxKey is an unexported type used as the context key for TenantContext.
type ctxKey struct{}

// bypassKey is the context key for a privileged bypass.
type bypassKey struct{}

// TenantContext carries the active tenant and acting user through a unit of work.
type TenantContext struct {
	TenantID      string
	UserID        string
	RequestID     string
	CorrelationID string
}

// WithTenant returns a new context with the given TenantContext attached.
func WithTenant(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext retrieves the TenantContext from the context.
// Returns the zero value and false if no tenant is set.
func FromContext(ctx context.Context) (TenantContext, bool) {
	if ctx == nil {
		return TenantContext{}, false
	}
	tc, ok := ctx.Value(ctxKey{}).(TenantContext)
	return tc, ok
}

// ActiveTenant returns the tenant the operation acts on, falling back to
// DefaultTenantID when none was activated.
func ActiveTenant(ctx context.Context) string {
	tc, ok := FromContext(ctx)
	if !ok || tc.TenantID == "" {
		return DefaultTenantID
	}
	return tc.TenantID
}

// ActingUser returns the user recorded as the author of a change.
func ActingUser(ctx context.Context) string {
	tc, ok := FromContext(ctx)
	if !ok || tc.UserID == "" {
		return SystemUser
	}
	return tc.UserID
}

// Bypass describes an explicit, audited opt-out of tenant row filtering.
type Bypass struct {
	Reason string
}

// WithBypass marks ctx as privileged. Statements issued with the returned
// context skip tenant filtering; every such statement is logged with reason.
// An empty reason is not accepted and returns ctx unchanged.
func WithBypass(ctx context.Context, reason string) context.Context {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ctx
	}
	return context.WithValue(ctx, bypassKey{}, Bypass{Reason: reason})
}

// BypassFromContext reports whether ctx carries a privileged bypass.
func BypassFromContext(ctx context.Context) (Bypass, bool) {
	if ctx == nil {
		return Bypass{}, false
	}
	b, ok := ctx.Value(bypassKey{}).(Bypass)
	return b, ok
}
