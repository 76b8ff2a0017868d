package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/facilityhub/fmcore/pkg/app"
	"github.com/facilityhub/fmcore/pkg/models"
)

func newTenantsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tenants",
		Aliases: []string{"tenant"},
		Short:   "Manage tenants",
	}
	cmd.AddCommand(newTenantsCreateCmd(o), newTenantsListCmd(o), newTenantsSetStatusCmd(o), newTenantsDeleteCmd(o))
	return cmd
}

func newTenantsCreateCmd(o *rootOptions) *cobra.Command {
	var t models.Tenant
	var status, tier string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t.Status = models.TenantStatus(status)
			t.SubscriptionTier = models.SubscriptionTier(tier)
			return o.run(cmd, func(a *app.App) error {
				if err := a.Tenants.Create(o.adminContext(cmd), &t); err != nil {
					return err
				}
				return printTenants(cmd, o, []models.Tenant{t})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&t.ID, "id", "", "Tenant ID (default: generated)")
	f.StringVar(&t.Name, "name", "", "Tenant name")
	f.StringVar(&status, "status", "", "Initial status (default: active)")
	f.StringVar(&tier, "tier", "", "Subscription tier (default: basic)")
	f.IntVar(&t.MaxUsers, "max-users", 0, "User limit, 0 for unlimited")
	f.IntVar(&t.MaxSchools, "max-schools", 0, "School limit, 0 for unlimited")
	f.IntVar(&t.MaxSupervisors, "max-supervisors", 0, "Supervisor limit, 0 for unlimited")
	f.IntVar(&t.MaxTechnicians, "max-technicians", 0, "Technician limit, 0 for unlimited")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTenantsListCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(a *app.App) error {
				list, err := a.Tenants.List(cmd.Context())
				if err != nil {
					return err
				}
				return printTenants(cmd, o, list)
			})
		},
	}
}

func newTenantsSetStatusCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Change a tenant's status",
		Long: `Change a tenant's status. Only active and trial tenants accept writes;
the change applies to the next activation of the tenant.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(a *app.App) error {
				ctx := o.adminContext(cmd)
				if err := a.Tenants.SetStatus(ctx, args[0], models.TenantStatus(args[1])); err != nil {
					return err
				}
				t, err := a.Tenants.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printTenants(cmd, o, []models.Tenant{*t})
			})
		},
	}
}

func newTenantsDeleteCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a tenant",
		Long: `Soft-delete a tenant. The tenant is marked inactive and can no longer be
activated; its data is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(a *app.App) error {
				if err := a.Tenants.Delete(o.adminContext(cmd), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s deleted\n", args[0])
				return nil
			})
		},
	}
}

func printTenants(cmd *cobra.Command, o *rootOptions, list []models.Tenant) error {
	if o.structured() {
		return printOutput(cmd.OutOrStdout(), o.output, list)
	}
	rows := make([][]string, 0, len(list))
	for _, t := range list {
		rows = append(rows, []string{
			t.ID,
			truncate(t.Name, 40),
			string(t.Status),
			string(t.SubscriptionTier),
			limit(t.MaxUsers),
			limit(t.MaxSchools),
			formatTime(t.CreatedAt),
		})
	}
	printTable(cmd.OutOrStdout(), []string{"ID", "Name", "Status", "Tier", "Users", "Schools", "Created"}, rows)
	if len(list) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No tenants found.")
	}
	return nil
}

func limit(n int) string {
	if n <= 0 {
		return "-"
	}
	return strconv.Itoa(n)
}
