package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xraph/jobdispatch/id"
)

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "jobdispatch",
		Short:        "Submit, inspect and run dispatched jobs",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfg.Store, "store", a.cfg.Store, "store backend (memory, postgres, bun, sqlite)")
	flags.StringVar(&a.cfg.DSN, "dsn", a.cfg.DSN, "database connection string, or file path for sqlite")
	flags.StringVar(&a.cfg.RedisAddr, "redis-addr", a.cfg.RedisAddr, "redis address for lifecycle events and worker wake-up")
	flags.IntVar(&a.cfg.OffPeakStart, "offpeak-start", a.cfg.OffPeakStart, "hour the off-peak window opens")
	flags.IntVar(&a.cfg.OffPeakEnd, "offpeak-end", a.cfg.OffPeakEnd, "hour the off-peak window closes")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&a.cfg.LogFormat, "log-format", a.cfg.LogFormat, "log format (text, json)")

	rootCmd.AddCommand(
		submitCmd(a),
		showCmd(a),
		listCmd(a),
		queueCmd(a),
		statsCmd(a),
		historyCmd(a),
		cancelCmd(a),
		retryCmd(a),
		pauseCmd(a),
		resumeCmd(a),
		priorityCmd(a),
		workerCmd(a),
		migrateCmd(a),
		configCmd(a),
	)
	return rootCmd
}

func parseJobID(s string) (id.JobID, error) {
	jobID, err := id.ParseJobID(s)
	if err != nil {
		return id.JobID{}, fmt.Errorf("invalid job id %q: %w", s, err)
	}
	return jobID, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
