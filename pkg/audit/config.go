package audit

import (
	"os"
	"strconv"
	"time"
)

// Config controls the audit recorder and archival.
type Config struct {
	Enabled          bool          `mapstructure:"enabled"`            // Record audit entries
	ArchiveAfterDays int           `mapstructure:"archive_after_days"` // Default 365
	ArchiveInterval  time.Duration `mapstructure:"archive_interval"`   // Default 24h
	BatchSize        int           `mapstructure:"batch_size"`         // Default 500
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:          true,
		ArchiveAfterDays: 365,
		ArchiveInterval:  24 * time.Hour,
		BatchSize:        500,
	}
}

// ConfigFromEnv loads config from environment variables.
// FMCORE_AUDIT_ENABLED, FMCORE_AUDIT_ARCHIVE_AFTER_DAYS,
// FMCORE_AUDIT_ARCHIVE_INTERVAL, FMCORE_AUDIT_BATCH_SIZE
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("FMCORE_AUDIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}

	if v := os.Getenv("FMCORE_AUDIT_ARCHIVE_AFTER_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.ArchiveAfterDays = days
		}
	}

	if v := os.Getenv("FMCORE_AUDIT_ARCHIVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ArchiveInterval = d
		}
	}

	if v := os.Getenv("FMCORE_AUDIT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}

	return cfg
}
