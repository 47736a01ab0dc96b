package main

import (
	"context"
	"fmt"

	"github.com/jonathan/seo-workflows/internal/config"
	"github.com/jonathan/seo-workflows/internal/db"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the job ledger schema",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(config.NeedDatabase)
	if err != nil {
		return err
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	logger.Info("schema up to date")
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
	return nil
}
