package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-analytics-cache/internal/config"
	"github.com/goliatone/go-analytics-cache/pkg/di"
)

type rootOptions struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *logrus.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "analyticsd",
		Short:         "Precomputed review analytics: cached reads, materialized views and their refresh schedule",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default ./analytics.{yaml,json,toml})")
	flags.StringSliceVar(&opts.envFiles, "env-file", nil, "env files loaded before the config (default ./.env)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level, overrides log.level")
	flags.StringVar(&opts.logFormat, "log-format", "", "text or json, overrides log.format")

	cmd.AddCommand(
		newServeCmd(opts),
		newBuildCmd(opts),
		newStatsCmd(opts),
		newExplainCmd(opts),
		newSeedCmd(opts),
		newTasksCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath, o.envFiles...)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if err := cfg.Log.Validate(); err != nil {
		return fmt.Errorf("log flags: %w", err)
	}

	o.cfg = cfg
	o.logger = newLogger(cfg.Log)
	return nil
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// container builds the DI container and makes sure the source tables exist.
func (o *rootOptions) container(ctx context.Context) (*di.Container, error) {
	c, err := di.NewContainer(ctx, *o.cfg, di.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	if err := c.Migrate(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return c, nil
}
