package main

import (
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-analytics-cache/internal/valkeystore"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var buildFirst bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the refresh scheduler and its queue workers until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := opts.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			log := opts.logger.WithField("component", "serve")

			if broker, ok := c.Broker().(*valkeystore.Broker); ok {
				for _, q := range opts.cfg.Scheduler.Queues {
					n, err := broker.Recover(ctx, q.Name)
					if err != nil {
						log.WithError(err).WithField("queue", q.Name).Warn("could not recover in flight messages")
						continue
					}
					if n > 0 {
						log.WithFields(logrus.Fields{"queue": q.Name, "messages": n}).Info("recovered in flight messages")
					}
				}
			}

			if buildFirst {
				for _, name := range c.Scheduler().Tasks() {
					if err := c.Scheduler().RunNow(ctx, name); err != nil {
						return err
					}
				}
			}

			log.WithFields(logrus.Fields{
				"tasks":  len(c.Scheduler().Tasks()),
				"broker": opts.cfg.Scheduler.Broker,
				"cache":  opts.cfg.Cache.Backend,
			}).Info("scheduler started")

			err = c.Scheduler().Run(ctx)
			log.Info("scheduler stopped")
			return err
		},
	}
	cmd.Flags().BoolVar(&buildFirst, "build-now", false, "enqueue every task once at startup")
	return cmd
}
