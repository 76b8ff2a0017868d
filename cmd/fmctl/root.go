package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/facilityhub/fmcore/pkg/app"
	"github.com/facilityhub/fmcore/pkg/config"
	"github.com/facilityhub/fmcore/pkg/logging"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

// defaultUser is recorded as the actor of writes made without --user.
const defaultUser = "fmctl"

var flagBindings = []config.FlagBinding{
	{Key: "database.type", Flag: "db-type"},
	{Key: "database.dsn", Flag: "db-dsn"},
	{Key: "log.level", Flag: "log-level"},
	{Key: "log.format", Flag: "log-format"},
}

type rootOptions struct {
	configPath string
	output     string
	tenant     string
	user       string
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "fmctl",
		Short: "Administer an fmcore database",
		Long: `fmctl runs administrative tasks against an fmcore database.

Tenant-scoped commands (audit, history, recompute) act on the tenant named by
--tenant, or the default tenant when it is omitted. Tenant management commands
run with the tenancy policy bypassed and are recorded as such.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "Path to a YAML config file")
	pf.StringVarP(&o.output, "output", "o", "table", "Output format: table, json, yaml")
	pf.StringVarP(&o.tenant, "tenant", "t", "", "Tenant ID (default: the default tenant)")
	pf.StringVar(&o.user, "user", defaultUser, "User recorded as the actor of writes")
	pf.String("db-type", "", "Database type: postgres, mysql or sqlite")
	pf.String("db-dsn", "", "Database connection string")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: json or console")

	cmd.AddCommand(
		newMigrateCmd(o),
		newTenantsCmd(o),
		newAuditCmd(o),
		newHistoryCmd(o),
		newRecomputeCmd(o),
	)
	return cmd
}

// open loads configuration and wires the application. The returned function
// releases it.
func (o *rootOptions) open(cmd *cobra.Command) (*app.App, func(), error) {
	cfg, err := config.Load(o.configPath, cmd.Root().PersistentFlags(), flagBindings...)
	if err != nil {
		return nil, nil, err
	}
	logger, syncLog, err := logging.New(&cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Open(cfg, logger, nil)
	if err != nil {
		syncLog()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to close database", "error", err)
		}
		syncLog()
	}, nil
}

func (o *rootOptions) tenantID() string {
	if o.tenant == "" {
		return tenancy.DefaultTenantID
	}
	return o.tenant
}

// readContext scopes ctx to --tenant for queries. Tenants that may not be
// written are still readable.
func (o *rootOptions) readContext(ctx context.Context, a *app.App) (context.Context, error) {
	if _, err := a.Tenants.Get(ctx, o.tenantID()); err != nil {
		return nil, err
	}
	return tenancy.WithTenant(ctx, tenancy.TenantContext{TenantID: o.tenantID(), UserID: o.user}), nil
}

// writeContext activates --tenant for writes, rejecting inactive tenants.
func (o *rootOptions) writeContext(ctx context.Context, a *app.App) (context.Context, error) {
	return a.Tenant(ctx, o.tenantID(), o.user)
}

// adminContext bypasses the tenancy policy for cmd.
func (o *rootOptions) adminContext(cmd *cobra.Command) context.Context {
	ctx := tenancy.WithTenant(cmd.Context(), tenancy.TenantContext{TenantID: tenancy.DefaultTenantID, UserID: o.user})
	return tenancy.WithBypass(ctx, cmd.CommandPath())
}

func (o *rootOptions) structured() bool {
	return o.output == "json" || o.output == "yaml"
}

func (o *rootOptions) validateOutput() error {
	switch o.output {
	case "table", "json", "yaml":
		return nil
	}
	return fmt.Errorf("unsupported output format %q (use table, json or yaml)", o.output)
}

// run opens the application, runs fn and releases it.
func (o *rootOptions) run(cmd *cobra.Command, fn func(a *app.App) error) error {
	if err := o.validateOutput(); err != nil {
		return err
	}
	a, closeApp, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer closeApp()
	return fn(a)
}
