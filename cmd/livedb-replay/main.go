// Command livedb-replay plays a YAML scenario of local writes, server writes
// and connectivity changes against live queries, and prints every change set
// delivered to them as a JSON line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "livedb-replay [scenario.yaml]",
		Short: "Replays a scenario against live queries and prints their change sets",
		Long: `Seeds an in-memory server, subscribes the scenario's queries (partial ones
through the sync client), replays the steps and prints one JSON line per
delivered change set. Configuration comes from LIVEDB_* environment variables
and can be overridden with flags.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := LoadScenario(args[0])
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()

			return Replay(ctx, sc, cfg, logger, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "local database file, or :memory:")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "log every write and delivered change set")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (console, json)")
	f.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "initial delay between download attempts")
	f.Uint64Var(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "download retries before giving up, 0 for no limit")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall replay timeout")
	return cmd
}
