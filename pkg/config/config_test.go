package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilityhub/fmcore/pkg/tenancy"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, tenancy.ModeHeader, cfg.Tenancy.Mode)
	assert.Equal(t, 365, cfg.Audit.ArchiveAfterDays)
	assert.Equal(t, 24*time.Hour, cfg.Audit.ArchiveInterval)
	assert.Equal(t, []string{"assets"}, cfg.Job.RefreshTables)
	assert.Equal(t, "fmcore-worker-leader", cfg.HA.LeaseName)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fmcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  type: postgres
  dsn: host=db user=fm dbname=fm
tenancy:
  mode: single
job:
  concurrency: 8
  refresh_tables: [assets, inventory_items]
`), 0o600))

	t.Setenv("FMCORE_JOB_CONCURRENCY", "2")
	t.Setenv("FMCORE_AUDIT_ARCHIVE_INTERVAL", "12h")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "host=db user=fm dbname=fm", cfg.Database.DSN)
	assert.Equal(t, tenancy.ModeSingle, cfg.Tenancy.Mode)
	assert.Equal(t, 2, cfg.Job.Concurrency, "environment overrides the file")
	assert.Equal(t, []string{"assets", "inventory_items"}, cfg.Job.RefreshTables)
	assert.Equal(t, 12*time.Hour, cfg.Audit.ArchiveInterval)
}

func TestLoadBindsFlags(t *testing.T) {
	flags := pflag.NewFlagSet("fmctl", pflag.ContinueOnError)
	flags.String("db-type", "", "")
	flags.String("db-dsn", "", "")
	require.NoError(t, flags.Parse([]string{"--db-type=mysql", "--db-dsn=fm:pw@tcp(db:3306)/fm"}))

	cfg, err := Load("", flags,
		FlagBinding{Key: "database.type", Flag: "db-type"},
		FlagBinding{Key: "database.dsn", Flag: "db-dsn"})
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Type)
	assert.Equal(t, "fm:pw@tcp(db:3306)/fm", cfg.Database.DSN)

	_, err = Load("", flags, FlagBinding{Key: "database.dsn", Flag: "missing"})
	assert.ErrorContains(t, err, "unknown flag")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unsupported database", map[string]string{"FMCORE_DATABASE_TYPE": "oracle"}, "unsupported database type"},
		{"bad tenancy mode", map[string]string{"FMCORE_TENANCY_MODE": "subdomain"}, "tenancy.mode"},
		{"no workers", map[string]string{"FMCORE_JOB_CONCURRENCY": "0"}, "job.concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("", nil)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.ErrorContains(t, err, "failed to read config file")
}
