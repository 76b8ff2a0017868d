package tenancy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/facilityhub/fmcore/pkg/cache"
	"github.com/facilityhub/fmcore/pkg/metrics"
)

// ErrInvalidTenant is returned when activating a tenant that does not exist
// or whose status does not permit writes.
var ErrInvalidTenant = errors.New("invalid tenant")

// ErrTenantNotFound is returned by a TenantLookup for unknown tenants.
var ErrTenantNotFound = errors.New("tenant not found")

// TenantInfo is the subset of tenant state the provider needs.
type TenantInfo struct {
	ID       string
	Name     string
	Status   string
	Writable bool
}

// TenantLookup loads tenant state by id.
type TenantLookup interface {
	LookupTenant(ctx context.Context, id string) (TenantInfo, error)
}

// Provider activates tenants for a unit of work.
type Provider struct {
	lookup  TenantLookup
	cache   *cache.LRUCache[TenantInfo]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProvider creates a Provider. Lookups are cached per cfg.
func NewProvider(lookup TenantLookup, cfg *Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Provider{
		lookup: lookup,
		cache:  cache.NewLRUCache[TenantInfo](cfg.CacheSize, cfg.CacheTTL),
		logger: logger,
	}
}

// SetMetrics records activation outcomes in m.
func (p *Provider) SetMetrics(m *metrics.Metrics) { p.metrics = m }

// Activate returns a context scoped to tenantID, keeping any user and
// correlation ids already present on ctx. It fails with ErrInvalidTenant
// before any business data is touched.
func (p *Provider) Activate(ctx context.Context, tenantID string) (context.Context, error) {
	tc, _ := FromContext(ctx)
	tc.TenantID = tenantID
	return p.ActivateContext(ctx, tc)
}

// ActivateContext validates tc.TenantID and attaches tc to ctx.
func (p *Provider) ActivateContext(ctx context.Context, tc TenantContext) (context.Context, error) {
	if tc.TenantID == "" {
		return ctx, fmt.Errorf("%w: empty tenant id", ErrInvalidTenant)
	}

	info, ok := p.cache.Get(tc.TenantID)
	if !ok {
		var err error
		info, err = p.lookup.LookupTenant(ctx, tc.TenantID)
		if err != nil {
			if errors.Is(err, ErrTenantNotFound) {
				p.metrics.TenantActivation("unknown")
				return ctx, fmt.Errorf("%w: %s", ErrInvalidTenant, tc.TenantID)
			}
			p.metrics.TenantActivation("error")
			return ctx, fmt.Errorf("lookup tenant %s: %w", tc.TenantID, err)
		}
		p.cache.Set(tc.TenantID, info)
	}

	if !info.Writable {
		p.logger.Warn("tenant activation rejected",
			"tenantID", info.ID, "status", info.Status)
		p.metrics.TenantActivation("rejected")
		return ctx, fmt.Errorf("%w: tenant %s is %s", ErrInvalidTenant, info.ID, info.Status)
	}

	p.metrics.TenantActivation("ok")
	return WithTenant(ctx, tc), nil
}

// Invalidate drops any cached state for tenantID. Called on status changes.
func (p *Provider) Invalidate(tenantID string) {
	p.cache.Invalidate(tenantID)
}
