package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-analytics-cache/profiler"
	"github.com/goliatone/go-analytics-cache/view"
)

func newExplainCmd(opts *rootOptions) *cobra.Command {
	var viewName string

	cmd := &cobra.Command{
		Use:   "explain [sql]",
		Short: "Show the query plan of a statement or of a view's live aggregation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (viewName == "") == (len(args) == 0) {
				return errors.New("pass either a SQL statement or --view")
			}

			ctx := cmd.Context()
			c, err := opts.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			p := profiler.New(c.DB(), profiler.WithLogger(opts.logger))

			var plan *profiler.PlanSummary
			if viewName != "" {
				def, ok := c.View(viewName)
				if !ok {
					return fmt.Errorf("unknown view %q", viewName)
				}
				q, err := view.LiveQuery(c.DB(), def)
				if err != nil {
					return err
				}
				plan = p.AnalyzeSelect(ctx, q)
			} else {
				plan = p.Analyze(ctx, strings.Join(args, " "))
			}
			if plan == nil {
				return errors.New("query plan unavailable, see the log for details")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s plan for: %s\n", plan.Dialect, plan.Query)
			depth := map[int]int{}
			for _, st := range plan.Stages {
				d := depth[st.Parent] + 1
				depth[st.ID] = d
				fmt.Fprintf(out, "%s%s\n", strings.Repeat("  ", d), st.Detail)
			}
			if plan.IndexScan {
				fmt.Fprintln(out, "every table access uses an index")
				return nil
			}
			for _, s := range plan.Scans {
				fmt.Fprintf(out, "scan without index: %s\n", s)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&viewName, "view", "", "explain the live aggregation of this view")
	return cmd
}
