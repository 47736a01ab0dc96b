package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonathan/seo-workflows/internal/artifacts"
	"github.com/jonathan/seo-workflows/internal/config"
	"github.com/jonathan/seo-workflows/internal/content"
	"github.com/jonathan/seo-workflows/internal/db"
	"github.com/jonathan/seo-workflows/internal/fetch"
	"github.com/jonathan/seo-workflows/internal/llm"
	"github.com/jonathan/seo-workflows/internal/logging"
	"github.com/jonathan/seo-workflows/internal/pipeline"
	"github.com/jonathan/seo-workflows/internal/pipeline/steps"
	"github.com/jonathan/seo-workflows/internal/research"
	"github.com/jonathan/seo-workflows/internal/types"
)

// loadConfig resolves the configuration and checks the settings a command needs
func loadConfig(needs ...string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Require(needs...); err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// runtime is the job machinery shared by serve and worker
type runtime struct {
	db     *db.DB
	store  *artifacts.Store
	orch   *pipeline.Orchestrator
	llm    llm.Client
	pool   *pipeline.Pool
	reaper *pipeline.Reaper
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	rt := &runtime{db: database}

	backend, err := artifacts.NewMinIOBackend(ctx, artifacts.MinIOConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open artifact storage: %w", err)
	}
	rt.store = artifacts.NewStore(backend, database, logger)

	rt.llm, err = llm.NewClient(ctx, llm.DefaultConfig(), cfg.LLM.APIKey)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	pipelines, err := bindPipelines(ctx, cfg, rt.llm, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.orch, err = pipeline.New(pipeline.Options{
		Ledger:     database,
		Queue:      database,
		Artifacts:  rt.store,
		OnProgress: pipeline.LogProgress(logger),
		Pipelines:  pipelines,
		JobTimeout: cfg.Worker.JobTimeout.Std(),
		Logger:     logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func bindPipelines(ctx context.Context, cfg *config.Config, client llm.Client, logger *slog.Logger) (map[types.PipelineType]*steps.Pipeline, error) {
	fetcher := fetch.NewCachedFetcher(
		fetch.NewPageFetcher(fetch.PageFetcherConfig{BrowserFallback: cfg.Fetch.UseBrowser, Logger: logger}),
		fetch.CachedFetcherConfig{CacheTTL: cfg.Fetch.CacheTTL.Std()},
	)

	deps := content.Deps{
		LLM:         client,
		Fetcher:     fetcher,
		CallTimeout: cfg.LLM.CallTimeout.Std(),
		Logger:      logger,
	}
	if cfg.Image.APIKey != "" {
		images, err := content.NewHTTPImageClient(content.ImageConfig{Endpoint: cfg.Image.Endpoint, APIKey: cfg.Image.APIKey})
		if err != nil {
			return nil, err
		}
		deps.Images = images
	} else {
		logger.Warn("IMAGE_API_KEY not set, articles will be published without featured images")
	}

	if cfg.Search.Enabled() {
		search, err := research.NewCustomSearch(ctx, cfg.Search.APIKey, cfg.Search.EngineID)
		if err != nil {
			return nil, err
		}
		deps.Search = search
	}

	s, err := content.New(deps)
	if err != nil {
		return nil, err
	}
	return steps.BindAll(s.Bindings())
}

// startWorkers launches the worker pool and the orphan reaper
func (rt *runtime) startWorkers(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	rt.pool = pipeline.NewPool(rt.orch, rt.db, pipeline.PoolOptions{
		Workers:      cfg.Worker.Count,
		PollInterval: cfg.Worker.PollInterval.Std(),
		Logger:       logger,
	})
	reaper, err := pipeline.NewReaper(rt.db, pipeline.ReaperOptions{
		Schedule: cfg.Worker.ReaperSchedule,
		MaxAge:   pipeline.MaxAgeFor(cfg.Worker.JobTimeout.Std()),
		Requeuer: rt.db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	rt.reaper = reaper

	// recover jobs orphaned by a previous crash before taking new work
	if n, err := reaper.Sweep(ctx); err != nil {
		logger.Warn("startup orphan sweep failed", logging.Error(err))
	} else if n > 0 {
		logger.Info("failed orphaned jobs at startup", slog.Int("count", n))
	}
	if depth, err := rt.db.QueueDepth(ctx); err == nil {
		logger.Info("starting workers", slog.Int("workers", cfg.Worker.Count), slog.Int("queued_jobs", depth))
	}
	reaper.Start()
	return rt.pool.Start(ctx)
}

// Close stops workers and releases connections
func (rt *runtime) Close() {
	if rt.pool != nil {
		rt.pool.Stop()
	}
	if rt.reaper != nil {
		rt.reaper.Stop()
	}
	if rt.llm != nil {
		_ = rt.llm.Close()
	}
	if rt.db != nil {
		rt.db.Close()
	}
}
