package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonathan/seo-workflows/internal/logging"
	"github.com/jonathan/seo-workflows/internal/types"
)

// DefaultReaperSchedule runs the orphan sweep every minute
const DefaultReaperSchedule = "@every 1m"

// requeueGrace is how long a pending job may go without a queue entry before
// the reaper puts it back
const requeueGrace = time.Minute

// reaperGrace is added to the job timeout before a processing job counts as orphaned
const reaperGrace = 5 * time.Minute

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ReaperOptions configures a Reaper
type ReaperOptions struct {
	Schedule string
	// MaxAge is how long a job may stay processing; defaults to the default job timeout plus grace
	MaxAge time.Duration
	// Requeuer, when set, restores pending jobs that lost their queue entry
	Requeuer Requeuer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Reaper fails jobs left processing by a worker that died, and requeues jobs a
// worker dequeued but never started
type Reaper struct {
	ledger   Ledger
	requeuer Requeuer
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time
	cron     *cron.Cron
}

// NewReaper creates a reaper and registers its schedule
func NewReaper(ledger Ledger, opts ReaperOptions) (*Reaper, error) {
	schedule := opts.Schedule
	if schedule == "" {
		schedule = DefaultReaperSchedule
	}
	sched, err := scheduleParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}

	r := &Reaper{
		ledger:   ledger,
		requeuer: opts.Requeuer,
		maxAge:   opts.MaxAge,
		logger:   logging.NewComponentLogger(opts.Logger, "reaper"),
		now:      opts.Now,
		cron:     cron.New(cron.WithParser(scheduleParser)),
	}
	if r.maxAge <= 0 {
		r.maxAge = DefaultJobTimeout + reaperGrace
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.cron.Schedule(sched, cron.FuncJob(func() {
		if _, err := r.Sweep(context.Background()); err != nil {
			r.logger.Error("orphan sweep failed", logging.Error(err))
		}
	}))
	return r, nil
}

// MaxAgeFor returns the orphan cutoff for a given job timeout
func MaxAgeFor(jobTimeout time.Duration) time.Duration {
	return jobTimeout + reaperGrace
}

// Start begins the schedule
func (r *Reaper) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running sweep
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

// Sweep fails every job that has been processing longer than the max age and
// returns how many it failed. With a Requeuer it also re-enqueues stale
// pending jobs that have no queue entry.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	ids, err := r.ledger.FailStaleJobs(ctx, now.Add(-r.maxAge), types.JobFailure{
		Code:    types.ErrorCodeOrphaned,
		Message: fmt.Sprintf("job did not finish within %s and was abandoned", r.maxAge),
	}, now)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	for _, id := range ids {
		r.logger.Warn("failed orphaned job", slog.String(logging.FieldJobID, id.String()))
	}

	if r.requeuer != nil {
		requeued, err := r.requeuer.RequeueStalePending(ctx, now.Add(-requeueGrace))
		if err != nil {
			return len(ids), fmt.Errorf("failed to requeue pending jobs: %w", err)
		}
		for _, id := range requeued {
			r.logger.Warn("requeued pending job without queue entry", slog.String(logging.FieldJobID, id.String()))
		}
	}
	return len(ids), nil
}
