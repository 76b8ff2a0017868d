package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/facilityhub/fmcore/pkg/app"
	"github.com/facilityhub/fmcore/pkg/audit"
)

func newAuditCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and archive the audit log",
	}
	cmd.AddCommand(
		newAuditTrailCmd(o),
		newAuditActivityCmd(o),
		newAuditSearchCmd(o),
		newAuditGetCmd(o),
		newAuditArchiveCmd(o),
	)
	return cmd
}

func newAuditTrailCmd(o *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "trail <table> <record-id>",
		Short: "Show the change trail of one record, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(a *app.App) error {
				ctx, err := o.readContext(cmd.Context(), a)
				if err != nil {
					return err
				}
				entries, err := a.Audit.Trail(ctx, args[0], args[1], limit)
				if err != nil {
					return err
				}
				return printEntries(cmd, o, entries)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries")
	return cmd
}

func newAuditActivityCmd(o *rootOptions) *cobra.Command {
	var since, until string
	cmd := &cobra.Command{
		Use:   "activity <user-id>",
		Short: "Show the changes made by a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			start, err := parseTime(since, now)
			if err != nil {
				return err
			}
			var end time.Time
			if until != "" {
				if end, err = parseTime(until, now); err != nil {
					return err
				}
			}
			return o.run(cmd, func(a *app.App) error {
				ctx, err := o.readContext(cmd.Context(), a)
				if err != nil {
					return err
				}
				entries, err := a.Audit.UserActivity(ctx, args[0], start, end)
				if err != nil {
					return err
				}
				return printEntries(cmd, o, entries)
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "24h", "Start time (RFC 3339, YYYY-MM-DD or a duration ago)")
	cmd.Flags().StringVar(&until, "until", "", "End time, exclusive (default: now)")
	return cmd
}

func newAuditSearchCmd(o *rootOptions) *cobra.Command {
	var pageSize int
	var pageToken string
	cmd := &cobra.Command{
		Use:   "search <filter>",
		Short: "Search audit entries",
		Long: `Search audit entries with a filter expression such as

  table_name = "assets" AND operation = UPDATE AND created_at >= "2026-01-01T00:00:00Z"

Fields: table_name, record_id, operation, actor_id, created_at, request_id,
correlation_id. Operators: = != < <= > >=.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr := strings.Join(args, " ")
			return o.run(cmd, func(a *app.App) error {
				ctx, err := o.readContext(cmd.Context(), a)
				if err != nil {
					return err
				}
				entries, next, total, err := a.Audit.Search(ctx, expr, pageSize, pageToken)
				if err != nil {
					return err
				}
				if o.structured() {
					return printOutput(cmd.OutOrStdout(), o.output, map[string]any{
						"items":         entries,
						"nextPageToken": next,
						"size":          len(entries),
						"totalSize":     total,
					})
				}
				if err := printEntries(cmd, o, entries); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nShowing %d of %d entries.\n", len(entries), total)
				if next != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Next page: --page-token %s\n", next)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Entries per page")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Token from a previous page")
	return cmd
}

func newAuditGetCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <entry-id>",
		Short: "Show one audit entry with its before and after values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(a *app.App) error {
				ctx, err := o.readContext(cmd.Context(), a)
				if err != nil {
					return err
				}
				e, err := a.Audit.GetByID(ctx, args[0])
				if err != nil {
					return err
				}
				format := o.output
				if format == "table" {
					format = "yaml"
				}
				return printOutput(cmd.OutOrStdout(), format, e)
			})
		},
	}
}

func newAuditArchiveCmd(o *rootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move old entries of all tenants to the archive table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(a *app.App) error {
				if days <= 0 {
					days = a.Config.Audit.ArchiveAfterDays
				}
				res, err := a.Audit.Archive(o.adminContext(cmd), days)
				if err != nil {
					return err
				}
				if o.structured() {
					return printOutput(cmd.OutOrStdout(), o.output, res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Archived %d entries older than %d days.\n", res.Archived, days)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Archive entries older than this many days (default: audit.archive_after_days)")
	return cmd
}

func printEntries(cmd *cobra.Command, o *rootOptions, entries []audit.Entry) error {
	if o.structured() {
		return printOutput(cmd.OutOrStdout(), o.output, entries)
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			formatTime(e.CreatedAt),
			e.Operation,
			e.Table,
			e.RecordID,
			e.ActorID,
			truncate(strings.Join(e.ChangedFields, ","), 48),
			e.ID,
		})
	}
	printTable(cmd.OutOrStdout(), []string{"Time", "Op", "Table", "Record", "Actor", "Changed", "Entry"}, rows)
	return nil
}
