package main

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jonathan/seo-workflows/internal/artifacts"
	"github.com/jonathan/seo-workflows/internal/config"
	"github.com/jonathan/seo-workflows/internal/db"
	"github.com/jonathan/seo-workflows/internal/observability"
	"github.com/jonathan/seo-workflows/internal/pipeline"
	"github.com/jonathan/seo-workflows/internal/types"
	"github.com/spf13/cobra"
)

var (
	jobsOwner string
	jobsLimit int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List an owner's jobs, or show one job in detail",
	Long: `Without arguments, prints the owner's most recent jobs as a table.
With a job id, prints that job's steps and, when storage is configured, its files.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVar(&jobsOwner, "owner", "", "Owner ID whose jobs to show (required)")
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", pipeline.DefaultListLimit, "Maximum number of jobs to list")
	_ = jobsCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(jobsCmd)
}

// jobReader is the part of the ledger the jobs command reads
type jobReader interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*types.Job, error)
	ListJobs(ctx context.Context, ownerID uuid.UUID, limit int) ([]*types.Job, error)
}

type fileLister interface {
	List(ctx context.Context, ownerID, jobID uuid.UUID) ([]artifacts.FileInfo, error)
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(config.NeedDatabase)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	var files fileLister
	if len(args) == 1 && cfg.Require(config.NeedStorage) == nil {
		backend, err := artifacts.NewMinIOBackend(ctx, artifacts.MinIOConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("failed to open artifact storage: %w", err)
		}
		files = artifacts.NewStore(backend, nil, logger)
	}

	return showJobs(ctx, cmd.OutOrStdout(), database, files, jobsOwner, jobsLimit, args)
}

func showJobs(ctx context.Context, out io.Writer, jobs jobReader, files fileLister, ownerArg string, limit int, args []string) error {
	ownerID, err := uuid.Parse(ownerArg)
	if err != nil {
		return fmt.Errorf("invalid --owner %q: %w", ownerArg, err)
	}
	printer := observability.NewPrinter(out)

	if len(args) == 0 {
		list, err := jobs.ListJobs(ctx, ownerID, pipeline.ClampLimit(limit))
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		printer.PrintJobs(list)
		return nil
	}

	jobID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", args[0], err)
	}
	job, err := jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.OwnerID != ownerID {
		return types.ErrJobNotFound
	}
	printer.PrintJob(job)

	if files != nil {
		infos, err := files.List(ctx, ownerID, jobID)
		if err != nil {
			return err
		}
		printer.PrintFiles(infos)
	}
	return nil
}
