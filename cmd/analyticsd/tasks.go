package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newTasksCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the scheduled refresh tasks and their next fire time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tQUEUE\tCADENCE\tNEXT")
			for _, st := range c.Scheduler().Statuses() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Name, st.Queue, st.Schedule, st.NextFire.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}
