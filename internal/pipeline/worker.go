package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/seo-workflows/internal/logging"
)

// DefaultPollInterval is how long an idle worker waits before polling the queue again
const DefaultPollInterval = time.Second

// Runner executes queued jobs
type Runner interface {
	Run(ctx context.Context, jobID uuid.UUID) error
	Abort(ctx context.Context, jobID uuid.UUID, reason string) error
}

// PoolOptions configures a worker pool
type PoolOptions struct {
	Workers      int
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Pool is a fixed set of workers draining the job queue
type Pool struct {
	runner  Runner
	queue   Queue
	workers int
	poll    time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a worker pool
func NewPool(runner Runner, queue Queue, opts PoolOptions) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Pool{
		runner:  runner,
		queue:   queue,
		workers: workers,
		poll:    poll,
		logger:  logging.NewComponentLogger(opts.Logger, "worker"),
	}
}

// Start launches the workers
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(p.workers)
	for n := 1; n <= p.workers; n++ {
		go p.loop(runCtx, n)
	}
	p.logger.Info("worker pool started", slog.Int("workers", p.workers))
	return nil
}

// Stop signals the workers and waits for in-flight jobs to return
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, n int) {
	defer p.wg.Done()
	logger := p.logger.With(slog.Int("worker", n))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, ok, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to fetch next job", logging.Error(err))
			p.wait(ctx)
			continue
		}
		if !ok {
			p.wait(ctx)
			continue
		}

		if err := p.runSafely(ctx, jobID); err != nil {
			logger.Error("job run failed", slog.String(logging.FieldJobID, jobID.String()), logging.Error(err))
		}
	}
}

// runSafely keeps one job's unexpected fault from taking the worker down
func (p *Pool) runSafely(ctx context.Context, jobID uuid.UUID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("recovered panic while running job",
				slog.String(logging.FieldJobID, jobID.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			if aerr := p.runner.Abort(ctx, jobID, "internal error while running job"); aerr != nil {
				err = fmt.Errorf("failed to abort job after panic: %w", aerr)
			}
		}
	}()
	return p.runner.Run(ctx, jobID)
}

func (p *Pool) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.poll):
	}
}
