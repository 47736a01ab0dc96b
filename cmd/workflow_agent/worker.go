package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonathan/seo-workflows/internal/config"
	"github.com/spf13/cobra"
)

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run pipeline workers without the API",
	Long:  `Drain the job queue with a pool of workers until interrupted. Also runs the orphan reaper.`,
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().IntVarP(&workerCount, "workers", "w", 0, "Number of concurrent jobs (defaults to WORKER_COUNT or 2)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(config.NeedDatabase, config.NeedStorage, config.NeedLLM)
	if err != nil {
		return err
	}
	if workerCount > 0 {
		cfg.Worker.Count = workerCount
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.startWorkers(ctx, cfg, logger); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down workers", slog.Int("workers", cfg.Worker.Count))
	return nil
}
