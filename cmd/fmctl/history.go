package main

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/facilityhub/fmcore/pkg/app"
)

func newHistoryCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past versions of historized records",
	}
	cmd.AddCommand(newHistoryListCmd(o), newHistoryAtCmd(o))
	return cmd
}

func newHistoryListCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <table> <record-id>",
		Short: "List the versions of a record, oldest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(a *app.App) error {
				ctx, err := o.readContext(cmd.Context(), a)
				if err != nil {
					return err
				}
				versions, err := a.History.Versions(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if o.structured() {
					return printOutput(cmd.OutOrStdout(), o.output, versions)
				}
				rows := make([][]string, 0, len(versions))
				for _, v := range versions {
					rows = append(rows, []string{
						strconv.FormatInt(v.VersionNo, 10),
						formatTime(v.ValidFrom),
						formatTime(v.ValidTo),
						v.ChangedBy,
						strings.Join(v.ChangedFields, ","),
					})
				}
				printTable(cmd.OutOrStdout(), []string{"Version", "Valid From", "Valid To", "Changed By", "Changed"}, rows)
				return nil
			})
		},
	}
}

func newHistoryAtCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "at <table> <record-id> <time>",
		Short: "Show a record as it was at a point in time",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseTime(args[2], time.Now())
			if err != nil {
				return err
			}
			return o.run(cmd, func(a *app.App) error {
				ctx, err := o.readContext(cmd.Context(), a)
				if err != nil {
					return err
				}
				row, err := a.History.VersionAt(ctx, args[0], args[1], at)
				if err != nil {
					return err
				}
				if o.structured() {
					return printOutput(cmd.OutOrStdout(), o.output, row)
				}
				cols := make([]string, 0, len(row))
				for c := range row {
					cols = append(cols, c)
				}
				sort.Strings(cols)
				rows := make([][]string, 0, len(cols))
				for _, c := range cols {
					rows = append(rows, []string{c, formatValue(row[c])})
				}
				printTable(cmd.OutOrStdout(), []string{"Field", "Value"}, rows)
				return nil
			})
		},
	}
}
