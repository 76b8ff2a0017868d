package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/facilityhub/fmcore/pkg/app"
	"github.com/facilityhub/fmcore/pkg/ha"
	"github.com/facilityhub/fmcore/pkg/migrations"
)

func newMigrateCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date",
		Long: `Create or update all tables, seed the default tenant and, on PostgreSQL,
apply the row-level security and audit immutability migrations.

The run holds the migration lock, so it is safe alongside starting workers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(a *app.App) error {
				ctx := cmd.Context()
				locker := ha.NewMigrationLocker(a.DB, &a.Config.HA, a.Logger)
				if err := locker.WithLock(ctx, func() error { return a.Migrate(ctx) }); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				return printStatus(cmd, o, a)
			})
		},
	}
	cmd.AddCommand(newMigrateStatusCmd(o), newMigrateDownCmd(o))
	return cmd
}

func newMigrateStatusCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the applied SQL migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(a *app.App) error {
				return printStatus(cmd, o, a)
			})
		},
	}
}

func newMigrateDownCmd(o *rootOptions) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert SQL migrations (PostgreSQL only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(a *app.App) error {
				ctx := cmd.Context()
				locker := ha.NewMigrationLocker(a.DB, &a.Config.HA, a.Logger)
				if err := locker.WithLock(ctx, func() error {
					return migrations.Down(ctx, a.DB, steps)
				}); err != nil {
					return err
				}
				return printStatus(cmd, o, a)
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to revert")
	return cmd
}

func printStatus(cmd *cobra.Command, o *rootOptions, a *app.App) error {
	st, err := migrations.CurrentStatus(cmd.Context(), a.DB)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	if o.structured() {
		return printOutput(cmd.OutOrStdout(), o.output, st)
	}
	printTable(cmd.OutOrStdout(), []string{"Dialect", "Version", "Dirty"}, [][]string{
		{st.Dialect, strconv.FormatUint(uint64(st.Version), 10), strconv.FormatBool(st.Dirty)},
	})
	return nil
}
