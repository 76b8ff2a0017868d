package jobs

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// JobConfig controls job queue and worker behavior.
type JobConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`      // Max concurrent workers. Default 3.
	MaxRetries      int           `mapstructure:"max_retries"`      // Max retry attempts per job. Default 3.
	PollInterval    time.Duration `mapstructure:"poll_interval"`    // How often workers poll for new jobs. Default 5s.
	ClaimTimeout    time.Duration `mapstructure:"claim_timeout"`    // Max time a job can be "running" before it is considered stuck. Default 10m.
	RetentionDays   int           `mapstructure:"retention_days"`   // How long to keep finished jobs. Default 7.
	Enabled         bool          `mapstructure:"enabled"`          // Whether the job system is active. Default true.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"` // How often time-dependent tables are recomputed. Default 24h.
	RefreshTables   []string      `mapstructure:"refresh_tables"`   // Tables recomputed on each refresh. Default assets.
}

// DefaultJobConfig returns the default job configuration.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Concurrency:     3,
		MaxRetries:      3,
		PollInterval:    5 * time.Second,
		ClaimTimeout:    10 * time.Minute,
		RetentionDays:   7,
		Enabled:         true,
		RefreshInterval: 24 * time.Hour,
		RefreshTables:   []string{"assets"},
	}
}

// JobConfigFromEnv loads config from environment variables.
// FMCORE_JOB_CONCURRENCY, FMCORE_JOB_MAX_RETRIES, FMCORE_JOB_POLL_INTERVAL_SECONDS,
// FMCORE_JOB_CLAIM_TIMEOUT_MINUTES, FMCORE_JOB_RETENTION_DAYS, FMCORE_JOB_ENABLED,
// FMCORE_JOB_REFRESH_INTERVAL_HOURS, FMCORE_JOB_REFRESH_TABLES (comma separated)
func JobConfigFromEnv() *JobConfig {
	cfg := DefaultJobConfig()

	if v := os.Getenv("FMCORE_JOB_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	if v := os.Getenv("FMCORE_JOB_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}

	if v := os.Getenv("FMCORE_JOB_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("FMCORE_JOB_CLAIM_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClaimTimeout = time.Duration(n) * time.Minute
		}
	}

	if v := os.Getenv("FMCORE_JOB_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}

	if v := os.Getenv("FMCORE_JOB_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("FMCORE_JOB_REFRESH_INTERVAL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RefreshInterval = time.Duration(n) * time.Hour
		}
	}

	if v := os.Getenv("FMCORE_JOB_REFRESH_TABLES"); v != "" {
		var tables []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}
		cfg.RefreshTables = tables
	}

	return cfg
}
