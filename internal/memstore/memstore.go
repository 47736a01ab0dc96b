// Package memstore provides in-process implementations of the job ledger and
// queue, used by tests and single-process development runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/seo-workflows/internal/types"
)

// Ledger keeps job records in memory. Every read returns a deep copy.
type Ledger struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*types.Job
	// history records every status a job has held, in order
	history map[uuid.UUID][]types.JobStatus
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		jobs:    make(map[uuid.UUID]*types.Job),
		history: make(map[uuid.UUID][]types.JobStatus),
	}
}

func (l *Ledger) CreateJob(_ context.Context, job *types.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	l.jobs[job.ID] = job.Clone()
	l.history[job.ID] = []types.JobStatus{job.Status}
	return nil
}

func (l *Ledger) GetJob(_ context.Context, jobID uuid.UUID) (*types.Job, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	job, ok := l.jobs[jobID]
	if !ok {
		return nil, types.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (l *Ledger) ListJobs(_ context.Context, ownerID uuid.UUID, limit int) ([]*types.Job, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*types.Job
	for _, job := range l.jobs {
		if job.OwnerID == ownerID {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// transition applies fn to a job whose status is one of from
func (l *Ledger) transition(jobID uuid.UUID, fn func(job *types.Job), from ...types.JobStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[jobID]
	if !ok {
		return types.ErrJobNotFound
	}
	allowed := false
	for _, s := range from {
		if job.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: job is %s", types.ErrInvalidTransition, job.Status)
	}
	before := job.Status
	fn(job)
	if job.Status != before {
		l.history[jobID] = append(l.history[jobID], job.Status)
	}
	return nil
}

func (l *Ledger) StartJob(_ context.Context, jobID uuid.UUID, startedAt time.Time) error {
	return l.transition(jobID, func(job *types.Job) {
		job.Status = types.JobStatusProcessing
		job.StartedAt = &startedAt
		job.UpdatedAt = startedAt
	}, types.JobStatusPending)
}

func (l *Ledger) UpdateStep(_ context.Context, jobID uuid.UUID, u types.StepUpdate) error {
	return l.transition(jobID, func(job *types.Job) {
		if u.CurrentStep > job.CurrentStep {
			job.CurrentStep = min(u.CurrentStep, job.TotalSteps)
		}
		if u.Progress > job.Progress {
			job.Progress = min(u.Progress, 100)
		}
		if u.Steps != nil {
			job.Steps = u.Steps.Clone()
		}
		job.Usage = u.Usage
		job.UpdatedAt = time.Now()
	}, types.JobStatusProcessing)
}

func (l *Ledger) CompleteJob(_ context.Context, jobID uuid.UUID, o types.JobOutcome, at time.Time) error {
	return l.transition(jobID, func(job *types.Job) {
		job.Status = types.JobStatusCompleted
		job.Progress = 100
		job.CurrentStep = job.TotalSteps
		job.Title = o.Title
		job.ArticlesCount = o.ArticlesCount
		job.GenerationSeconds = o.GenerationSeconds
		if o.Steps != nil {
			job.Steps = o.Steps.Clone()
		}
		job.Usage = o.Usage
		job.CompletedAt = &at
		job.UpdatedAt = at
	}, types.JobStatusProcessing)
}

func (l *Ledger) FailJob(_ context.Context, jobID uuid.UUID, f types.JobFailure, at time.Time) error {
	return l.transition(jobID, func(job *types.Job) {
		applyFailure(job, f, at)
	}, types.JobStatusProcessing)
}

func applyFailure(job *types.Job, f types.JobFailure, at time.Time) {
	job.Status = types.JobStatusFailed
	job.ErrorCode = f.Code
	job.ErrorMessage = f.Message
	if f.Steps != nil {
		job.Steps = f.Steps.Clone()
	}
	if f.GenerationSeconds > 0 {
		job.GenerationSeconds = f.GenerationSeconds
	}
	job.CompletedAt = &at
	job.UpdatedAt = at
}

func (l *Ledger) CancelJob(_ context.Context, jobID uuid.UUID, at time.Time) error {
	return l.transition(jobID, func(job *types.Job) {
		job.Status = types.JobStatusCancelled
		job.CompletedAt = &at
		job.UpdatedAt = at
	}, types.JobStatusPending, types.JobStatusProcessing)
}

func (l *Ledger) AddArtifactStats(_ context.Context, jobID uuid.UUID, files int, bytes int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[jobID]
	if !ok {
		return types.ErrJobNotFound
	}
	if job.Status != types.JobStatusProcessing {
		return fmt.Errorf("%w: job is %s", types.ErrInvalidTransition, job.Status)
	}
	job.FilesCount += files
	job.TotalSizeBytes += bytes
	return nil
}

func (l *Ledger) FailStaleJobs(_ context.Context, cutoff time.Time, f types.JobFailure, at time.Time) ([]uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []uuid.UUID
	for id, job := range l.jobs {
		if job.Status != types.JobStatusProcessing || job.StartedAt == nil || !job.StartedAt.Before(cutoff) {
			continue
		}
		applyFailure(job, f, at)
		l.history[id] = append(l.history[id], job.Status)
		ids = append(ids, id)
	}
	return ids, nil
}

// History returns the sequence of statuses a job has held
func (l *Ledger) History(jobID uuid.UUID) []types.JobStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]types.JobStatus(nil), l.history[jobID]...)
}

// Queue is a FIFO of job ids
type Queue struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(_ context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, jobID)
	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (uuid.UUID, bool, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return uuid.Nil, false, nil
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, true, nil
}

// Len returns the number of queued jobs
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

func (q *Queue) contains(jobID uuid.UUID) bool {
	for _, id := range q.ids {
		if id == jobID {
			return true
		}
	}
	return false
}

// Requeuer restores lost queue entries of pending jobs held by a Ledger
type Requeuer struct {
	ledger *Ledger
	queue  *Queue
}

// NewRequeuer links a ledger to the queue its jobs are dispatched from
func NewRequeuer(ledger *Ledger, queue *Queue) *Requeuer {
	return &Requeuer{ledger: ledger, queue: queue}
}

func (r *Requeuer) RequeueStalePending(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	type candidate struct {
		id      uuid.UUID
		created time.Time
	}
	r.ledger.mu.RLock()
	var stale []candidate
	for _, job := range r.ledger.jobs {
		if job.Status == types.JobStatusPending && job.CreatedAt.Before(cutoff) {
			stale = append(stale, candidate{id: job.ID, created: job.CreatedAt})
		}
	}
	r.ledger.mu.RUnlock()
	sort.Slice(stale, func(i, j int) bool { return stale[i].created.Before(stale[j].created) })

	r.queue.mu.Lock()
	defer r.queue.mu.Unlock()
	var ids []uuid.UUID
	for _, c := range stale {
		if r.queue.contains(c.id) {
			continue
		}
		r.queue.ids = append(r.queue.ids, c.id)
		ids = append(ids, c.id)
	}
	return ids, nil
}
