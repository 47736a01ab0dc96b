package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/seo-workflows/internal/memstore"
	"github.com/jonathan/seo-workflows/internal/types"
)

func TestReaperFailsOrphanedJobs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	now := time.Now()

	orphan, err := h.orch.Submit(ctx, types.PipelineRewrite, rewriteInput, h.owner)
	require.NoError(t, err)
	live, err := h.orch.Submit(ctx, types.PipelineRewrite, rewriteInput, h.owner)
	require.NoError(t, err)
	require.NoError(t, h.ledger.StartJob(ctx, orphan, now.Add(-2*time.Hour)))
	require.NoError(t, h.ledger.StartJob(ctx, live, now.Add(-time.Minute)))

	reaper, err := NewReaper(h.ledger, ReaperOptions{MaxAge: time.Hour, Now: func() time.Time { return now }})
	require.NoError(t, err)

	n, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := h.orch.GetJob(ctx, orphan, h.owner)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Equal(t, types.ErrorCodeOrphaned, job.ErrorCode)
	assert.NotEmpty(t, job.ErrorMessage)

	job, err = h.orch.GetJob(ctx, live, h.owner)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusProcessing, job.Status)
}

func TestReaperRequeuesDequeuedButUnstartedJobs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	now := time.Now().Add(time.Hour)

	lost, err := h.orch.Submit(ctx, types.PipelineRewrite, rewriteInput, h.owner)
	require.NoError(t, err)
	waiting, err := h.orch.Submit(ctx, types.PipelineRewrite, rewriteInput, h.owner)
	require.NoError(t, err)
	running, err := h.orch.Submit(ctx, types.PipelineRewrite, rewriteInput, h.owner)
	require.NoError(t, err)

	// a worker claims lost and dies before starting it
	id, ok, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, lost, id)
	// running was claimed and started normally
	for h.queue.Len() > 0 {
		id, _, err = h.queue.Dequeue(ctx)
		require.NoError(t, err)
		if id == running {
			require.NoError(t, h.ledger.StartJob(ctx, running, now))
		}
	}
	require.NoError(t, h.queue.Enqueue(ctx, waiting))

	reaper, err := NewReaper(h.ledger, ReaperOptions{
		MaxAge:   time.Hour,
		Requeuer: memstore.NewRequeuer(h.ledger, h.queue),
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)

	n, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.Equal(t, 2, h.queue.Len())

	first, _, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	second, _, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, waiting, first)
	assert.Equal(t, lost, second)

	// queued jobs are never enqueued twice
	require.NoError(t, h.queue.Enqueue(ctx, waiting))
	require.NoError(t, h.queue.Enqueue(ctx, lost))
	_, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.queue.Len())

	// the requeued job runs to completion
	require.NoError(t, h.orch.Run(ctx, lost))
	job, err := h.orch.GetJob(ctx, lost, h.owner)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, job.Status)
}

func TestReaperSkipsRecentPendingJobs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	id, err := h.orch.Submit(ctx, types.PipelineRewrite, rewriteInput, h.owner)
	require.NoError(t, err)
	_, _, err = h.queue.Dequeue(ctx)
	require.NoError(t, err)

	reaper, err := NewReaper(h.ledger, ReaperOptions{Requeuer: memstore.NewRequeuer(h.ledger, h.queue)})
	require.NoError(t, err)
	_, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, h.queue.Len(), "job %s is still inside the grace window", id)
}

func TestReaperSchedule(t *testing.T) {
	h := newHarness(t, nil)
	_, err := NewReaper(h.ledger, ReaperOptions{Schedule: "not a schedule"})
	assert.Error(t, err)

	r, err := NewReaper(h.ledger, ReaperOptions{Schedule: "*/5 * * * *"})
	require.NoError(t, err)
	r.Start()
	r.Stop()
}

func TestMaxAgeFor(t *testing.T) {
	assert.Equal(t, 35*time.Minute, MaxAgeFor(30*time.Minute))
}
