package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonathan/seo-workflows/internal/config"
	"github.com/jonathan/seo-workflows/internal/server"
	"github.com/jonathan/seo-workflows/internal/server/ratelimit"
	"github.com/spf13/cobra"
)

var (
	servePort      int
	serveNoWorkers bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that accepts job submissions and serves job progress and files.

Unless --no-workers is given, the same process also runs the worker pool and the orphan reaper.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (defaults to PORT or 8080)")
	serveCmd.Flags().BoolVar(&serveNoWorkers, "no-workers", false, "Only serve the API; run jobs in separate worker processes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(config.NeedDatabase, config.NeedStorage, config.NeedLLM, config.NeedAuth)
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !serveNoWorkers {
		if err := rt.startWorkers(ctx, cfg, logger); err != nil {
			return fmt.Errorf("failed to start workers: %w", err)
		}
	}

	srv, err := server.New(server.Config{
		Port: cfg.Server.Port,
		RateLimit: ratelimit.Config{
			Enabled: cfg.RateLimit.Enabled,
			Rules:   ratelimit.SubmissionRules(cfg.RateLimit.SubmissionsPerHour, cfg.RateLimit.Burst),
		},
	}, server.Deps{
		Jobs:   rt.orch,
		Files:  rt.store,
		Tokens: server.NewJWTService(cfg.Auth),
		Health: rt.db.Ping,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start(ctx)
}
