package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/seo-workflows/internal/artifacts"
	"github.com/jonathan/seo-workflows/internal/types"
)

// Ledger is the durable store of job records.
//
// Every transition is optimistic: it applies only when the job is still in the
// expected state and returns types.ErrInvalidTransition otherwise. Lookups of
// unknown jobs return types.ErrJobNotFound.
type Ledger interface {
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*types.Job, error)
	// ListJobs returns an owner's jobs, most recent first
	ListJobs(ctx context.Context, ownerID uuid.UUID, limit int) ([]*types.Job, error)

	// StartJob moves a pending job to processing
	StartJob(ctx context.Context, jobID uuid.UUID, startedAt time.Time) error
	// UpdateStep records progress on a processing job. current_step and
	// progress_percent never move backwards.
	UpdateStep(ctx context.Context, jobID uuid.UUID, update types.StepUpdate) error
	CompleteJob(ctx context.Context, jobID uuid.UUID, outcome types.JobOutcome, at time.Time) error
	FailJob(ctx context.Context, jobID uuid.UUID, failure types.JobFailure, at time.Time) error
	// CancelJob moves a pending or processing job to cancelled
	CancelJob(ctx context.Context, jobID uuid.UUID, at time.Time) error

	// AddArtifactStats atomically increments the artifact counters of a
	// processing job. Terminal jobs reject it with types.ErrInvalidTransition.
	AddArtifactStats(ctx context.Context, jobID uuid.UUID, files int, bytes int64) error
	// FailStaleJobs fails processing jobs started before cutoff and returns their ids
	FailStaleJobs(ctx context.Context, cutoff time.Time, failure types.JobFailure, at time.Time) ([]uuid.UUID, error)
}

// Queue hands job ids to workers in submission order
type Queue interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) error
	// Dequeue claims the oldest queued job. ok is false when the queue is empty.
	Dequeue(ctx context.Context) (jobID uuid.UUID, ok bool, err error)
}

// Requeuer restores the queue entry of a pending job whose worker died after
// dequeueing it and before starting it
type Requeuer interface {
	// RequeueStalePending enqueues pending jobs created before cutoff that have
	// no queue entry and returns their ids
	RequeueStalePending(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// ArtifactStore persists step outputs
type ArtifactStore interface {
	Put(ctx context.Context, ownerID, jobID uuid.UUID, filename string, content []byte, compress bool) (*artifacts.Object, error)
}
