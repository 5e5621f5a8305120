// Package cmd defines and implements the CLI commands for the hopper
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hopper",
		Short: "Weighted queue dispatch for distributed crawling.",
		Long: `hopper multiplexes crawl requests over a set of named queue backends
(memory, Redis, Postgres, Pub/Sub, AMQP) and dispatches them to workers
according to configurable per-queue weights.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./hopper.yaml)")

	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "command execution failed: %v\n", err)
		os.Exit(1)
	}
}
