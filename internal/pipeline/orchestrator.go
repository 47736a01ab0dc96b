// Package pipeline runs content workflow jobs: it creates job records, executes
// the fixed step sequences on background workers and finalizes the ledger.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/seo-workflows/internal/logging"
	"github.com/jonathan/seo-workflows/internal/pipeline/steps"
	"github.com/jonathan/seo-workflows/internal/types"
)

// DefaultJobTimeout bounds one job run when no timeout is configured
const DefaultJobTimeout = 30 * time.Minute

// Default and maximum page sizes for ListJobs
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Options configures an Orchestrator
type Options struct {
	Ledger    Ledger
	Queue     Queue
	Artifacts ArtifactStore
	// Progress defaults to a LedgerSink over Ledger
	Progress   ProgressSink
	OnProgress ProgressCallback
	Pipelines  map[types.PipelineType]*steps.Pipeline
	JobTimeout time.Duration
	Logger     *slog.Logger
	// Now is used for timestamps; defaults to time.Now
	Now func() time.Time
}

// Orchestrator owns the lifecycle of jobs
type Orchestrator struct {
	ledger     Ledger
	queue      Queue
	artifacts  ArtifactStore
	progress   ProgressSink
	onProgress ProgressCallback
	pipelines  map[types.PipelineType]*steps.Pipeline
	jobTimeout time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an orchestrator
func New(opts Options) (*Orchestrator, error) {
	if opts.Ledger == nil {
		return nil, errors.New("pipeline: ledger is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("pipeline: queue is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("pipeline: artifact store is required")
	}
	for _, pt := range types.PipelineTypes {
		if opts.Pipelines[pt] == nil {
			return nil, fmt.Errorf("pipeline: no executors bound for %s", pt)
		}
	}

	o := &Orchestrator{
		ledger:     opts.Ledger,
		queue:      opts.Queue,
		artifacts:  opts.Artifacts,
		progress:   opts.Progress,
		onProgress: opts.OnProgress,
		pipelines:  opts.Pipelines,
		jobTimeout: opts.JobTimeout,
		logger:     logging.NewComponentLogger(opts.Logger, "orchestrator"),
		now:        opts.Now,
	}
	if o.progress == nil {
		o.progress = NewLedgerSink(opts.Ledger)
	}
	if o.jobTimeout <= 0 {
		o.jobTimeout = DefaultJobTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// JobTimeout returns the soft per-job deadline
func (o *Orchestrator) JobTimeout() time.Duration {
	return o.jobTimeout
}

// Submit validates the input, records a pending job and queues it. The job
// runs later on a worker; Submit never executes steps itself.
func (o *Orchestrator) Submit(ctx context.Context, pipeline types.PipelineType, input json.RawMessage, ownerID uuid.UUID) (uuid.UUID, error) {
	payload, err := types.DecodePayload(pipeline, input)
	if err != nil {
		return uuid.Nil, err
	}
	job, err := o.createJob(ctx, pipeline, input, ownerID, payload.PrimaryKeyword(), 0, nil)
	if err != nil {
		return uuid.Nil, err
	}
	return job.ID, nil
}

// Resubmit creates a new job from a failed or cancelled one with the same input
func (o *Orchestrator) Resubmit(ctx context.Context, jobID, ownerID uuid.UUID) (uuid.UUID, error) {
	old, err := o.GetJob(ctx, jobID, ownerID)
	if err != nil {
		return uuid.Nil, err
	}
	if old.Status != types.JobStatusFailed && old.Status != types.JobStatusCancelled {
		return uuid.Nil, fmt.Errorf("%w: cannot retry a %s job", types.ErrInvalidTransition, old.Status)
	}
	parent := old.ID
	job, err := o.createJob(ctx, old.PipelineType, old.Input, ownerID, old.Keyword, old.RetryCount+1, &parent)
	if err != nil {
		return uuid.Nil, err
	}
	o.logger.Info("job resubmitted",
		slog.String(logging.FieldJobID, job.ID.String()),
		slog.String("parent_job_id", parent.String()),
		slog.Int("retry_count", job.RetryCount),
	)
	return job.ID, nil
}

func (o *Orchestrator) createJob(ctx context.Context, pipeline types.PipelineType, input json.RawMessage, ownerID uuid.UUID, keyword string, retries int, parent *uuid.UUID) (*types.Job, error) {
	p, ok := o.pipelines[pipeline]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidPipeline, pipeline)
	}

	now := o.now()
	id := uuid.New()
	job := &types.Job{
		ID:           id,
		OwnerID:      ownerID,
		ParentJobID:  parent,
		PipelineType: pipeline,
		Status:       types.JobStatusPending,
		TotalSteps:   p.TotalSteps(),
		Steps:        p.InitialDetails(),
		Input:        append(json.RawMessage(nil), input...),
		Keyword:      keyword,
		StoragePath:  types.StoragePathFor(ownerID, id),
		RetryCount:   retries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.ledger.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if err := o.queue.Enqueue(ctx, id); err != nil {
		// a pending job nobody will pick up is withdrawn
		if cerr := o.ledger.CancelJob(context.WithoutCancel(ctx), id, o.now()); cerr != nil {
			o.logger.Error("failed to withdraw unqueued job", slog.String(logging.FieldJobID, id.String()), logging.Error(cerr))
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	o.logger.Info("job submitted",
		slog.String(logging.FieldJobID, id.String()),
		slog.String(logging.FieldPipeline, string(pipeline)),
		slog.String("owner_id", ownerID.String()),
	)
	return job, nil
}

// GetJob returns a snapshot of a job owned by ownerID. Jobs owned by anyone
// else are reported as not found.
func (o *Orchestrator) GetJob(ctx context.Context, jobID, ownerID uuid.UUID) (*types.Job, error) {
	job, err := o.ledger.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, types.ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns an owner's most recent jobs
func (o *Orchestrator) ListJobs(ctx context.Context, ownerID uuid.UUID, limit int) ([]*types.Job, error) {
	return o.ledger.ListJobs(ctx, ownerID, ClampLimit(limit))
}

// ClampLimit normalizes a requested page size
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// Cancel requests cancellation of a pending or processing job. A running job
// stops at its next step boundary.
func (o *Orchestrator) Cancel(ctx context.Context, jobID, ownerID uuid.UUID) error {
	if _, err := o.GetJob(ctx, jobID, ownerID); err != nil {
		return err
	}
	if err := o.ledger.CancelJob(ctx, jobID, o.now()); err != nil {
		return err
	}
	o.logger.Info("job cancelled", slog.String(logging.FieldJobID, jobID.String()))
	return nil
}

// Abort fails a processing job from outside the run loop, used when a worker
// recovers from an unexpected fault.
func (o *Orchestrator) Abort(ctx context.Context, jobID uuid.UUID, reason string) error {
	err := o.ledger.FailJob(context.WithoutCancel(ctx), jobID, types.JobFailure{
		Code:    types.ErrorCodeInternal,
		Message: reason,
	}, o.now())
	if errors.Is(err, types.ErrInvalidTransition) {
		return nil
	}
	return err
}
