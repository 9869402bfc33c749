package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"contentpulse/internal/app"
	"contentpulse/internal/config"
	"contentpulse/internal/logging"
)

func main() {
	root := &cobra.Command{
		Use:           "contentpulse",
		Short:         "Content ingestion, deduplication and retention scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), ingestCmd(), reconcileCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildApp() (*app.Application, error) {
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	return app.New(cfg, logger)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(ctx)
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion pass across all active sources and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			summaries, err := a.IngestOnce(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range summaries {
				fmt.Printf("%-24s %-10s seen=%d filtered=%d duplicate=%d created=%d errors=%d\n",
					s.SourceID, s.Outcome, s.Seen, s.Filtered, s.Duplicate, s.Created, s.Errors)
			}
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one retention reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.ReconcileOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("deleted=%d remaining=%d cap=%d\n",
				result.DeletedCount, result.FinalCount, result.MaxLimit)
			return nil
		},
	}
}
