package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pagehive/hopper/internal/config"
	"github.com/pagehive/hopper/internal/queueset"
	"github.com/pagehive/hopper/internal/server"
	"github.com/pagehive/hopper/internal/worker"
)

// newServeCmd creates and configures the 'serve' subcommand. It runs the
// HTTP API, the worker pool, and the config watcher until interrupted.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the dispatch service",
		Long: `Starts the queue dispatch service: the configured queue backends are
subscribed, the worker pool begins pulling requests according to the
dispatch weights, and the HTTP API accepts submissions. Weight changes in
the config file take effect without a restart.`,

		RunE: runServeCommand,
	}
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	if err := config.ReadInto(v, cfgFile); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(v)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	app, err := server.Build(cmd.Context(), &cfg, defaultProcessor())
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	if cfgFile != "" {
		config.Watch(v, app.Settings(), zap.L().Named("config"))
	}

	if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run application: %w", err)
	}
	return nil
}

// defaultProcessor acknowledges every request after logging it. Deployments
// embed the server package and inject their own fetch pipeline; the stock
// binary is useful for smoke-testing queue topologies and weights.
func defaultProcessor() worker.Processor {
	return worker.ProcessorFunc(func(_ context.Context, req *queueset.Request) (worker.Outcome, error) {
		zap.L().Info("request received",
			zap.String("request_id", req.ID),
			zap.String("type", req.Type),
			zap.String("url", req.URL),
		)
		return worker.OutcomeDone, nil
	})
}
