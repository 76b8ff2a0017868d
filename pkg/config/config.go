// Package config loads fmcore configuration with viper. Values come, in
// increasing precedence, from each package's defaults (including its legacy
// FMCORE_* variables), an optional YAML file, FMCORE_<SECTION>_<KEY>
// environment variables and bound command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/facilityhub/fmcore/pkg/audit"
	"github.com/facilityhub/fmcore/pkg/db"
	"github.com/facilityhub/fmcore/pkg/ha"
	"github.com/facilityhub/fmcore/pkg/jobs"
	"github.com/facilityhub/fmcore/pkg/logging"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "FMCORE"

// Config holds all fmcore configuration.
type Config struct {
	Database db.Config      `mapstructure:"database"`
	Log      logging.Config `mapstructure:"log"`
	Tenancy  tenancy.Config `mapstructure:"tenancy"`
	Audit    audit.Config   `mapstructure:"audit"`
	Job      jobs.JobConfig `mapstructure:"job"`
	HA       ha.Config      `mapstructure:"ha"`
	Server   ServerConfig   `mapstructure:"server"`
}

// ServerConfig holds the worker's operational HTTP endpoint settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// FlagBinding maps a config key to a command-line flag name.
type FlagBinding struct {
	Key  string
	Flag string
}

// Load reads configuration. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet, bindings ...FlagBinding) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for _, b := range bindings {
			f := flags.Lookup(b.Flag)
			if f == nil {
				return nil, fmt.Errorf("unknown flag %q bound to %s", b.Flag, b.Key)
			}
			if err := v.BindPFlag(b.Key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", b.Flag, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if _, err := db.Dialector(&c.Database); err != nil {
		return err
	}
	switch c.Tenancy.Mode {
	case tenancy.ModeSingle, tenancy.ModeHeader:
	default:
		return fmt.Errorf("tenancy.mode must be %q or %q, got %q", tenancy.ModeSingle, tenancy.ModeHeader, c.Tenancy.Mode)
	}
	if c.Job.Enabled && c.Job.Concurrency <= 0 {
		return fmt.Errorf("job.concurrency must be positive, got %d", c.Job.Concurrency)
	}
	if c.Audit.ArchiveAfterDays <= 0 {
		return fmt.Errorf("audit.archive_after_days must be positive, got %d", c.Audit.ArchiveAfterDays)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := db.DefaultConfig()
	v.SetDefault("database.type", d.Type)
	v.SetDefault("database.dsn", d.DSN)
	v.SetDefault("database.max_open_conns", d.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.ConnMaxLifetime)
	v.SetDefault("database.slow_threshold", d.SlowThreshold)
	v.SetDefault("database.log_level", d.LogLevel)

	l := logging.DefaultConfig()
	v.SetDefault("log.level", l.Level)
	v.SetDefault("log.format", l.Format)

	t := tenancy.DefaultConfig()
	v.SetDefault("tenancy.mode", string(t.Mode))
	v.SetDefault("tenancy.cache_ttl", t.CacheTTL)
	v.SetDefault("tenancy.cache_size", t.CacheSize)

	a := audit.ConfigFromEnv()
	v.SetDefault("audit.enabled", a.Enabled)
	v.SetDefault("audit.archive_after_days", a.ArchiveAfterDays)
	v.SetDefault("audit.archive_interval", a.ArchiveInterval)
	v.SetDefault("audit.batch_size", a.BatchSize)

	j := jobs.JobConfigFromEnv()
	v.SetDefault("job.concurrency", j.Concurrency)
	v.SetDefault("job.max_retries", j.MaxRetries)
	v.SetDefault("job.poll_interval", j.PollInterval)
	v.SetDefault("job.claim_timeout", j.ClaimTimeout)
	v.SetDefault("job.retention_days", j.RetentionDays)
	v.SetDefault("job.enabled", j.Enabled)
	v.SetDefault("job.refresh_interval", j.RefreshInterval)
	v.SetDefault("job.refresh_tables", j.RefreshTables)

	h := ha.ConfigFromEnv()
	v.SetDefault("ha.leader_election_enabled", h.LeaderElectionEnabled)
	v.SetDefault("ha.lease_name", h.LeaseName)
	v.SetDefault("ha.lease_namespace", h.LeaseNamespace)
	v.SetDefault("ha.lease_duration", h.LeaseDuration)
	v.SetDefault("ha.renew_deadline", h.RenewDeadline)
	v.SetDefault("ha.retry_period", h.RetryPeriod)
	v.SetDefault("ha.migration_lock_enabled", h.MigrationLockEnabled)
	v.SetDefault("ha.migration_lock_timeout", h.MigrationLockTimeout)
	v.SetDefault("ha.identity", h.Identity)

	v.SetDefault("server.addr", ":9090")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
}
