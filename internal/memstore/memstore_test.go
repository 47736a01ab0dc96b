package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/seo-workflows/internal/types"
)

func newJob(owner uuid.UUID, created time.Time) *types.Job {
	return &types.Job{
		ID:           uuid.New(),
		OwnerID:      owner,
		PipelineType: types.PipelineRewrite,
		Status:       types.JobStatusPending,
		TotalSteps:   3,
		CreatedAt:    created,
	}
}

func TestLedgerTransitions(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	job := newJob(uuid.New(), time.Now())
	require.NoError(t, l.CreateJob(ctx, job))

	// progress before start is rejected
	err := l.UpdateStep(ctx, job.ID, types.StepUpdate{CurrentStep: 1})
	assert.True(t, errors.Is(err, types.ErrInvalidTransition))

	require.NoError(t, l.StartJob(ctx, job.ID, time.Now()))
	assert.True(t, errors.Is(l.StartJob(ctx, job.ID, time.Now()), types.ErrInvalidTransition))

	require.NoError(t, l.UpdateStep(ctx, job.ID, types.StepUpdate{CurrentStep: 2, Progress: 66}))
	// stale duplicates never move state backwards
	require.NoError(t, l.UpdateStep(ctx, job.ID, types.StepUpdate{CurrentStep: 1, Progress: 33}))
	got, err := l.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStep)
	assert.Equal(t, 66, got.Progress)

	// current_step is clamped to total_steps
	require.NoError(t, l.UpdateStep(ctx, job.ID, types.StepUpdate{CurrentStep: 9}))
	got, _ = l.GetJob(ctx, job.ID)
	assert.Equal(t, 3, got.CurrentStep)

	at := time.Now()
	require.NoError(t, l.CompleteJob(ctx, job.ID, types.JobOutcome{Title: "t", ArticlesCount: 1}, at))
	got, _ = l.GetJob(ctx, job.ID)
	assert.Equal(t, types.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)

	// terminal
	assert.True(t, errors.Is(l.FailJob(ctx, job.ID, types.JobFailure{Message: "x"}, at), types.ErrInvalidTransition))
	assert.True(t, errors.Is(l.CancelJob(ctx, job.ID, at), types.ErrInvalidTransition))

	assert.Equal(t, []types.JobStatus{types.JobStatusPending, types.JobStatusProcessing, types.JobStatusCompleted}, l.History(job.ID))
}

func TestLedgerCancelPending(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	job := newJob(uuid.New(), time.Now())
	require.NoError(t, l.CreateJob(ctx, job))

	require.NoError(t, l.CancelJob(ctx, job.ID, time.Now()))
	assert.True(t, errors.Is(l.StartJob(ctx, job.ID, time.Now()), types.ErrInvalidTransition))
}

func TestLedgerGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	job := newJob(uuid.New(), time.Now())
	job.Steps = types.StepDetails{{Name: "a", Status: types.StepStatusPending}}
	require.NoError(t, l.CreateJob(ctx, job))

	got, _ := l.GetJob(ctx, job.ID)
	got.Steps[0].Status = types.StepStatusFailed
	got.Status = types.JobStatusFailed

	again, _ := l.GetJob(ctx, job.ID)
	assert.Equal(t, types.StepStatusPending, again.Steps[0].Status)
	assert.Equal(t, types.JobStatusPending, again.Status)
}

func TestLedgerListJobs(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	owner := uuid.New()
	base := time.Now()
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		j := newJob(owner, base.Add(time.Duration(i)*time.Minute))
		ids = append(ids, j.ID)
		require.NoError(t, l.CreateJob(ctx, j))
	}
	require.NoError(t, l.CreateJob(ctx, newJob(uuid.New(), base)))

	jobs, err := l.ListJobs(ctx, owner, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[4], jobs[0].ID)
	assert.Equal(t, ids[3], jobs[1].ID)
	assert.Equal(t, ids[2], jobs[2].ID)
}

func TestLedgerFailStaleJobs(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	now := time.Now()

	stale := newJob(uuid.New(), now)
	fresh := newJob(uuid.New(), now)
	pending := newJob(uuid.New(), now)
	for _, j := range []*types.Job{stale, fresh, pending} {
		require.NoError(t, l.CreateJob(ctx, j))
	}
	require.NoError(t, l.StartJob(ctx, stale.ID, now.Add(-2*time.Hour)))
	require.NoError(t, l.StartJob(ctx, fresh.ID, now))

	ids, err := l.FailStaleJobs(ctx, now.Add(-time.Hour), types.JobFailure{Code: types.ErrorCodeOrphaned, Message: "abandoned"}, now)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stale.ID}, ids)

	got, _ := l.GetJob(ctx, stale.ID)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Equal(t, types.ErrorCodeOrphaned, got.ErrorCode)

	got, _ = l.GetJob(ctx, fresh.ID)
	assert.Equal(t, types.JobStatusProcessing, got.Status)
}

func TestLedgerArtifactStatsRequireProcessing(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name    string
		prepare func(l *Ledger, id uuid.UUID)
		wantErr error
		want    int
	}{
		{
			name: "processing",
			prepare: func(l *Ledger, id uuid.UUID) {
				require.NoError(t, l.StartJob(ctx, id, time.Now()))
			},
			want: 2,
		},
		{
			name:    "pending",
			prepare: func(*Ledger, uuid.UUID) {},
			wantErr: types.ErrInvalidTransition,
		},
		{
			name: "cancelled",
			prepare: func(l *Ledger, id uuid.UUID) {
				require.NoError(t, l.StartJob(ctx, id, time.Now()))
				require.NoError(t, l.AddArtifactStats(ctx, id, 1, 10))
				require.NoError(t, l.CancelJob(ctx, id, time.Now()))
			},
			wantErr: types.ErrInvalidTransition,
			want:    1,
		},
		{
			name: "completed",
			prepare: func(l *Ledger, id uuid.UUID) {
				require.NoError(t, l.StartJob(ctx, id, time.Now()))
				require.NoError(t, l.CompleteJob(ctx, id, types.JobOutcome{ArticlesCount: 1}, time.Now()))
			},
			wantErr: types.ErrInvalidTransition,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l := NewLedger()
			job := newJob(uuid.New(), time.Now())
			require.NoError(t, l.CreateJob(ctx, job))
			tc.prepare(l, job.ID)
			before, err := l.GetJob(ctx, job.ID)
			require.NoError(t, err)

			err = l.AddArtifactStats(ctx, job.ID, 1, 10)
			got, _ := l.GetJob(ctx, job.ID)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, before.FilesCount, got.FilesCount)
				assert.Equal(t, before.TotalSizeBytes, got.TotalSizeBytes)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.want, got.FilesCount)
		})
	}

	err := NewLedger().AddArtifactStats(ctx, uuid.New(), 1, 1)
	assert.ErrorIs(t, err, types.ErrJobNotFound)
}

func TestLedgerNotFound(t *testing.T) {
	l := NewLedger()
	_, err := l.GetJob(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, types.ErrJobNotFound))
}

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()
	a, b := uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(ctx, a))
	require.NoError(t, q.Enqueue(ctx, b))

	id, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a, id)

	id, ok, _ = q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, b, id)

	_, ok, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequeuerRestoresLostEntries(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	q := NewQueue()
	now := time.Now()

	lost := newJob(uuid.New(), now.Add(-2*time.Hour))
	queued := newJob(uuid.New(), now.Add(-3*time.Hour))
	recent := newJob(uuid.New(), now)
	started := newJob(uuid.New(), now.Add(-time.Hour))
	for _, j := range []*types.Job{lost, queued, recent, started} {
		require.NoError(t, l.CreateJob(ctx, j))
	}
	require.NoError(t, q.Enqueue(ctx, queued.ID))
	require.NoError(t, l.StartJob(ctx, started.ID, now))

	r := NewRequeuer(l, q)
	ids, err := r.RequeueStalePending(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{lost.ID}, ids)
	assert.Equal(t, 2, q.Len())

	ids, err = r.RequeueStalePending(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)
}
