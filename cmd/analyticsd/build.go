package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-analytics-cache/view"
)

func newBuildCmd(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "build [view...]",
		Short: "Build materialized views now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("name at least one view or pass --all")
			}

			ctx := cmd.Context()
			c, err := opts.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			var defs []view.Definition
			if all {
				defs = c.Views()
			} else {
				for _, name := range args {
					def, ok := c.View(name)
					if !ok {
						return fmt.Errorf("unknown view %q", name)
					}
					defs = append(defs, def)
				}
			}

			results, buildErr := c.Builder().BuildAll(ctx, defs)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VIEW\tTARGET\tROWS\tPARTITIONS\tDURATION\tERROR")
			for _, r := range results {
				errText := ""
				if r.Err != nil {
					errText = r.Err.Error()
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", r.View, r.Target, r.Rows, r.Partitions, r.Duration.Round(time.Millisecond), errText)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return buildErr
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "build every configured view")
	return cmd
}
