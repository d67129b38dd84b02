package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-analytics-cache/store"
)

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <dataset.json>",
		Short: "Load products and reviews from a JSON dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := store.ReadDatasetFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			c, err := opts.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Catalog().Seed(ctx, ds); err != nil {
				return fmt.Errorf("seed %s: %w", args[0], err)
			}
			opts.logger.WithFields(logrus.Fields{
				"products": len(ds.Products),
				"reviews":  len(ds.Reviews),
			}).Info("dataset loaded")
			return nil
		},
	}
}
