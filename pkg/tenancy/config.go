// Package tenancy resolves and carries the active tenant for a unit of work.
// It supports a single-tenant mode (everything runs as the default tenant)
// and a header-based multi-tenant mode.
package tenancy

import "time"

// TenancyMode controls how tenant context is resolved.
type TenancyMode string

const (
	// ModeSingle uses DefaultTenantID for all requests.
	ModeSingle TenancyMode = "single"
	// ModeHeader requires X-Tenant-ID per request (multi-tenant).
	ModeHeader TenancyMode = "header"
)

// Config controls tenant resolution and the lookup cache.
type Config struct {
	Mode      TenancyMode   `mapstructure:"mode"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	CacheSize int           `mapstructure:"cache_size"`
}

// DefaultConfig returns the default tenancy configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:      ModeHeader,
		CacheTTL:  30 * time.Second,
		CacheSize: 1000,
	}
}
