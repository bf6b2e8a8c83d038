package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func workerCmd(a *app) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run worker processes",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Claim and execute jobs until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if a.sub != nil {
				go func() {
					if err := a.sub.Run(ctx); err != nil {
						a.logger.Warn("redis wake-up subscription ended", "error", err)
					}
				}()
			}

			if err := a.eng.Start(ctx); err != nil {
				return err
			}
			a.logger.Info("worker started",
				"worker_id", a.eng.Pool().WorkerID(),
				"concurrency", a.cfg.Concurrency,
				"store", a.cfg.Store,
			)
			fmt.Fprintln(cmd.ErrOrStderr(), "Press Ctrl+C to shut down gracefully.")

			<-ctx.Done()
			a.logger.Info("shutting down worker", "cause", context.Cause(ctx))

			// The engine bounds the wait by its shutdown timeout.
			return a.eng.Stop(context.WithoutCancel(ctx))
		},
	}
	startCmd.Flags().IntVar(&a.cfg.Concurrency, "concurrency", a.cfg.Concurrency, "number of concurrent claim loops")
	startCmd.Flags().StringVar(&a.cfg.WorkerID, "worker-id", a.cfg.WorkerID, "worker identity recorded on claimed jobs")

	workerCmd.AddCommand(startCmd)
	return workerCmd
}

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s store migrated\n", a.cfg.Store)
			return nil
		},
	}
}

func configCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		// Does not need a store connection.
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.cfg.validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(cmd.OutOrStdout(), a.cfg.redacted())
		},
	}
}
