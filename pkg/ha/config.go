// Package ha provides high-availability primitives for running several
// fmcore-worker replicas against one database: a migration lock and
// Kubernetes Lease-based leader election for singleton loops.
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Lock and lease names used by fmcore binaries.
const (
	MigrationLockName = "fmcore-migration"
	WorkerLeaseName   = "fmcore-worker-leader"
)

// Config holds configuration for high-availability features.
type Config struct {
	// LeaderElectionEnabled controls whether Lease-based election is active.
	// When false the instance behaves as the sole leader.
	LeaderElectionEnabled bool `mapstructure:"leader_election_enabled"`

	LeaseName      string        `mapstructure:"lease_name"`
	LeaseNamespace string        `mapstructure:"lease_namespace"`
	LeaseDuration  time.Duration `mapstructure:"lease_duration"`
	RenewDeadline  time.Duration `mapstructure:"renew_deadline"`
	RetryPeriod    time.Duration `mapstructure:"retry_period"`

	// MigrationLockEnabled serializes schema changes across replicas.
	MigrationLockEnabled bool `mapstructure:"migration_lock_enabled"`
	// MigrationLockTimeout bounds how long a replica waits for the lock on
	// databases without advisory locks.
	MigrationLockTimeout time.Duration `mapstructure:"migration_lock_timeout"`

	// Identity is the unique identity of this instance, from POD_NAME or the
	// hostname.
	Identity string `mapstructure:"identity"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	ns := os.Getenv("POD_NAMESPACE")
	if ns == "" {
		ns = "fmcore"
	}
	return &Config{
		LeaderElectionEnabled: false,
		LeaseName:             WorkerLeaseName,
		LeaseNamespace:        ns,
		LeaseDuration:         15 * time.Second,
		RenewDeadline:         10 * time.Second,
		RetryPeriod:           2 * time.Second,
		MigrationLockEnabled:  true,
		MigrationLockTimeout:  30 * time.Second,
		Identity:              defaultIdentity(),
	}
}

// ConfigFromEnv reads HA configuration from environment variables, falling
// back to defaults for any unset variable.
//
// Environment variables:
//   - FMCORE_LEADER_ELECTION_ENABLED: "true" or "false" (default: "false")
//   - FMCORE_LEADER_LEASE_NAME: Lease resource name (default: "fmcore-worker-leader")
//   - FMCORE_LEADER_LEASE_NAMESPACE: Lease namespace (default from POD_NAMESPACE or "fmcore")
//   - FMCORE_LEADER_LEASE_DURATION: seconds (default: 15)
//   - FMCORE_LEADER_RENEW_DEADLINE: seconds (default: 10)
//   - FMCORE_LEADER_RETRY_PERIOD: seconds (default: 2)
//   - FMCORE_MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
//   - FMCORE_MIGRATION_LOCK_TIMEOUT: seconds (default: 30)
//   - POD_NAME: pod identity for leader election
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("FMCORE_LEADER_ELECTION_ENABLED"); v != "" {
		cfg.LeaderElectionEnabled = parseBool(v)
	}
	if v := os.Getenv("FMCORE_LEADER_LEASE_NAME"); v != "" {
		cfg.LeaseName = v
	}
	if v := os.Getenv("FMCORE_LEADER_LEASE_NAMESPACE"); v != "" {
		cfg.LeaseNamespace = v
	}
	setSeconds(&cfg.LeaseDuration, "FMCORE_LEADER_LEASE_DURATION")
	setSeconds(&cfg.RenewDeadline, "FMCORE_LEADER_RENEW_DEADLINE")
	setSeconds(&cfg.RetryPeriod, "FMCORE_LEADER_RETRY_PERIOD")
	if v := os.Getenv("FMCORE_MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.MigrationLockEnabled = parseBool(v)
	}
	setSeconds(&cfg.MigrationLockTimeout, "FMCORE_MIGRATION_LOCK_TIMEOUT")
	if v := os.Getenv("POD_NAME"); v != "" {
		cfg.Identity = v
	}

	return cfg
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func setSeconds(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		*dst = time.Duration(secs) * time.Second
	}
}

func defaultIdentity() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
