package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/facilityhub/fmcore/pkg/app"
	"github.com/facilityhub/fmcore/pkg/jobs"
)

func newRecomputeCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute derived fields",
		Long: `Queue or run a recomputation of the derived fields of a table for one
tenant, for example to refresh asset depreciation after the calendar moved on.
Queued jobs are executed by fmcore-worker.`,
	}
	cmd.AddCommand(
		newRecomputeRunCmd(o),
		newRecomputeListCmd(o),
		newRecomputeCancelCmd(o),
		newRecomputeTablesCmd(o),
	)
	return cmd
}

func newRecomputeRunCmd(o *rootOptions) *cobra.Command {
	var sync bool
	cmd := &cobra.Command{
		Use:   "run <table>",
		Short: "Queue a recomputation, or run it in place with --sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(a *app.App) error {
				ctx, err := o.writeContext(cmd.Context(), a)
				if err != nil {
					return err
				}
				if sync {
					res, err := a.Recalc.RecomputeTable(ctx, args[0])
					if err != nil {
						return err
					}
					if o.structured() {
						return printOutput(cmd.OutOrStdout(), o.output, map[string]any{
							"table": args[0], "scanned": res.Scanned, "updated": res.Updated,
						})
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Recomputed %s: scanned %d rows, updated %d.\n",
						args[0], res.Scanned, res.Updated)
					return nil
				}
				job, err := a.Jobs.Enqueue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJobs(cmd, o, []jobs.RecomputeJob{*job})
			})
		},
	}
	cmd.Flags().BoolVar(&sync, "sync", false, "Run the recomputation now instead of queueing a job")
	return cmd
}

func newRecomputeListCmd(o *rootOptions) *cobra.Command {
	var filter jobs.JobListFilter
	var pageSize int
	var pageToken string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recompute jobs of the tenant, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(a *app.App) error {
				ctx, err := o.readContext(cmd.Context(), a)
				if err != nil {
					return err
				}
				list, next, total, err := a.Jobs.List(ctx, filter, pageSize, pageToken)
				if err != nil {
					return err
				}
				if o.structured() {
					return printOutput(cmd.OutOrStdout(), o.output, map[string]any{
						"items":         list,
						"nextPageToken": next,
						"size":          len(list),
						"totalSize":     total,
					})
				}
				return printJobs(cmd, o, list)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.Table, "table", "", "Only jobs for this table")
	f.StringVar(&filter.State, "state", "", "Only jobs in this state")
	f.StringVar(&filter.RequestedBy, "requested-by", "", "Only jobs requested by this user")
	f.IntVar(&pageSize, "page-size", 20, "Jobs per page")
	f.StringVar(&pageToken, "page-token", "", "Token from a previous page")
	return cmd
}

func newRecomputeCancelCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued recompute job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(a *app.App) error {
				ctx, err := o.readContext(cmd.Context(), a)
				if err != nil {
					return err
				}
				if err := a.Jobs.Cancel(ctx, args[0]); err != nil {
					return err
				}
				job, err := a.Jobs.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJobs(cmd, o, []jobs.RecomputeJob{*job})
			})
		},
	}
}

func newRecomputeTablesCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables that have derived fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(a *app.App) error {
				tables := a.Recalc.Tables()
				if o.structured() {
					return printOutput(cmd.OutOrStdout(), o.output, tables)
				}
				rows := make([][]string, 0, len(tables))
				for _, t := range tables {
					rows = append(rows, []string{t})
				}
				printTable(cmd.OutOrStdout(), []string{"Table"}, rows)
				return nil
			})
		},
	}
}

func printJobs(cmd *cobra.Command, o *rootOptions, list []jobs.RecomputeJob) error {
	if o.structured() {
		return printOutput(cmd.OutOrStdout(), o.output, list)
	}
	rows := make([][]string, 0, len(list))
	for _, j := range list {
		rows = append(rows, []string{
			j.ID,
			j.Table,
			string(j.State),
			j.RequestedBy,
			formatTime(j.RequestedAt),
			strconv.Itoa(j.AttemptCount),
			truncate(j.Message, 48),
		})
	}
	printTable(cmd.OutOrStdout(), []string{"ID", "Table", "State", "Requested By", "Requested", "Attempts", "Message"}, rows)
	return nil
}
