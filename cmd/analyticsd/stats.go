package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-analytics-cache/stats"
)

type productReport struct {
	Product      string               `json:"product"`
	Stats        stats.ProductStats   `json:"stats"`
	Distribution []stats.RatingBucket `json:"distribution"`
	Keywords     []stats.Keyword      `json:"keywords,omitempty"`
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var keywords int
	var platforms bool

	cmd := &cobra.Command{
		Use:   "stats <product id or name>",
		Short: "Print the stats of a product, or the platform rollup with --platforms",
		Args: func(cmd *cobra.Command, args []string) error {
			if platforms {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if platforms {
				rows, err := c.Stats().PlatformSummary(ctx)
				if err != nil {
					return err
				}
				return enc.Encode(rows)
			}

			product := args[0]
			if _, err := uuid.Parse(product); err != nil {
				p, err := c.Catalog().ProductByName(ctx, product)
				if err != nil {
					return fmt.Errorf("product %q: %w", product, err)
				}
				product = p.ID.String()
			}

			report := productReport{Product: product}
			if report.Stats, err = c.Stats().GetStats(ctx, product); err != nil {
				return err
			}
			if report.Distribution, err = c.Stats().RatingDistribution(ctx, product); err != nil {
				return err
			}
			if keywords > 0 {
				if report.Keywords, err = c.Stats().Keywords(ctx, product, keywords); err != nil {
					return err
				}
			}
			return enc.Encode(report)
		},
	}
	cmd.Flags().IntVarP(&keywords, "keywords", "k", 0, "also extract the top n keywords")
	cmd.Flags().BoolVar(&platforms, "platforms", false, "print the platform rollup instead")
	return cmd
}
