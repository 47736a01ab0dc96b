package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/seo-workflows/internal/logging"
	"github.com/jonathan/seo-workflows/internal/pipeline/steps"
	"github.com/jonathan/seo-workflows/internal/types"
)

// errStopped marks a run that ended because the job left the processing state
// (cancelled, or failed by the reaper) while it was running.
var errStopped = errors.New("job is no longer processing")

// jobRun holds the mutable state of one job execution
type jobRun struct {
	o        *Orchestrator
	job      *types.Job
	pipeline *steps.Pipeline
	logger   *slog.Logger
	started  time.Time

	// mu serializes detail mutations and progress reports during fan-out
	mu      sync.Mutex
	details types.StepDetails
	usage   types.Usage
	current int

	prior    map[string]any
	title    string
	articles int
}

// Run executes a queued job. It returns an error only when the job could not
// be finalized in the ledger; step failures are recorded on the job.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.ledger.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	p, ok := o.pipelines[job.PipelineType]
	if !ok {
		return fmt.Errorf("%w: %q", types.ErrInvalidPipeline, job.PipelineType)
	}

	logger := o.logger.With(
		slog.String(logging.FieldJobID, jobID.String()),
		slog.String(logging.FieldPipeline, string(job.PipelineType)),
	)

	started := o.now()
	if err := o.ledger.StartJob(ctx, jobID, started); err != nil {
		if errors.Is(err, types.ErrInvalidTransition) {
			logger.Info("job no longer pending, skipping")
			return nil
		}
		return fmt.Errorf("failed to start job: %w", err)
	}
	logger.Info("job started", slog.Int("total_steps", p.TotalSteps()))

	details := job.Steps.Clone()
	if len(details) != p.TotalSteps() {
		details = p.InitialDetails()
	}
	r := &jobRun{
		o:        o,
		job:      job,
		pipeline: p,
		logger:   logger,
		started:  started,
		details:  details,
		prior:    make(map[string]any, p.TotalSteps()),
	}

	runCtx, cancel := context.WithTimeout(ctx, o.jobTimeout)
	defer cancel()
	return r.execute(ctx, runCtx)
}

// execute walks the steps. ctx is the worker context used for ledger writes,
// runCtx additionally carries the job deadline and is handed to executors.
func (r *jobRun) execute(ctx, runCtx context.Context) error {
	for i, step := range r.pipeline.Bound {
		if err := r.checkpoint(ctx, runCtx); err != nil {
			return r.stop(ctx, runCtx, err)
		}

		r.mu.Lock()
		r.current = i + 1
		r.details[i].Status = types.StepStatusInProgress
		r.mu.Unlock()
		if err := r.report(ctx, step.Name); err != nil {
			return r.stop(ctx, runCtx, err)
		}
		r.logger.Info("step started", slog.String(logging.FieldStep, step.Name), slog.Int("current_step", i+1))

		var res steps.Result
		var err error
		if step.FanOut > 0 {
			res, err = r.fanOut(ctx, runCtx, i, step)
		} else {
			res, err = r.invoke(runCtx, step, r.input(0))
		}
		if err != nil {
			return r.stop(ctx, runCtx, err)
		}

		r.mu.Lock()
		r.details[i].ElapsedMs = res.Elapsed.Milliseconds()
		r.usage = r.usage.Add(res.Usage)
		r.mu.Unlock()

		if !res.Success {
			r.logStepFailure(step.Name, res)
			r.mu.Lock()
			r.details[i].Status = types.StepStatusFailed
			r.details[i].Error = res.Error
			r.mu.Unlock()
			return r.fail(ctx, res.ErrorCode, res.Error)
		}

		// artifacts land before the boundary becomes visible. The ledger refuses
		// to count them once the job has left processing, which discards the
		// outputs of a step that was cancelled while it ran.
		if err := r.persist(ctx, step.Name, res.Artifacts); err != nil {
			if errors.Is(err, types.ErrInvalidTransition) {
				return r.stop(ctx, runCtx, err)
			}
			r.logger.Error("artifact persistence failed", slog.String(logging.FieldStep, step.Name), logging.Error(err))
			msg := fmt.Sprintf("failed to store artifacts of %s: %v", step.Name, err)
			r.mu.Lock()
			r.details[i].Status = types.StepStatusFailed
			r.details[i].Error = msg
			r.mu.Unlock()
			return r.fail(ctx, types.ErrorCodeStorage, msg)
		}

		r.mu.Lock()
		r.details[i].Status = types.StepStatusCompleted
		r.mu.Unlock()
		if err := r.report(ctx, step.Name); err != nil {
			return r.stop(ctx, runCtx, err)
		}

		r.prior[step.Name] = res.Data
		if res.Title != "" {
			r.title = res.Title
		}
		if res.ArticlesCount > 0 {
			r.articles = res.ArticlesCount
		}
		r.logger.Info("step completed",
			slog.String(logging.FieldStep, step.Name),
			slog.Duration("elapsed", res.Elapsed),
			slog.Int("artifacts", len(res.Artifacts)),
		)
	}
	return r.complete(ctx)
}

// checkpoint runs at every step boundary: it stops on cancellation, an
// expired job deadline or a record that is no longer processing.
func (r *jobRun) checkpoint(ctx, runCtx context.Context) error {
	if err := runCtx.Err(); err != nil {
		return err
	}
	cur, err := r.o.ledger.GetJob(ctx, r.job.ID)
	if err != nil {
		return fmt.Errorf("failed to read job state: %w", err)
	}
	if cur.Status != types.JobStatusProcessing {
		return errStopped
	}
	return nil
}

// stop converts an interruption into the final job state
func (r *jobRun) stop(ctx, runCtx context.Context, err error) error {
	switch {
	case errors.Is(err, errStopped), errors.Is(err, types.ErrInvalidTransition):
		r.logger.Info("job stopped at step boundary", slog.Int("current_step", r.current))
		return nil
	case ctx.Err() != nil:
		return r.fail(ctx, types.ErrorCodeInternal, "worker shut down before the job finished")
	case errors.Is(err, context.DeadlineExceeded) || runCtx.Err() != nil:
		r.logger.Warn("job timed out", slog.Duration("timeout", r.o.jobTimeout))
		return r.fail(ctx, types.ErrorCodeTimeout, fmt.Sprintf("job exceeded timeout of %s", r.o.jobTimeout))
	default:
		r.logger.Error("ledger write failed", logging.Error(err))
		return r.fail(ctx, types.ErrorCodeStorage, "failed to record job progress")
	}
}

// invoke runs one executor against the job deadline. A step that never
// returns is abandoned once runCtx expires.
func (r *jobRun) invoke(runCtx context.Context, step steps.Step, in *steps.Input) (steps.Result, error) {
	done := make(chan steps.Result, 1)
	go func() {
		done <- steps.Invoke(runCtx, step.Name, step.Exec, in)
	}()
	select {
	case res := <-done:
		return res, nil
	case <-runCtx.Done():
		return steps.Result{}, runCtx.Err()
	}
}

func (r *jobRun) input(branch int) *steps.Input {
	return &steps.Input{
		JobID:        r.job.ID,
		OwnerID:      r.job.OwnerID,
		PipelineType: r.job.PipelineType,
		Payload:      r.job.Input,
		Prior:        maps.Clone(r.prior),
		Branch:       branch,
	}
}

// fanOut runs every branch of a fan-out step concurrently and joins them.
// Branch outcomes are recorded on the step detail; the step succeeds when at
// least MinSuccess branches succeed.
func (r *jobRun) fanOut(ctx, runCtx context.Context, idx int, step steps.Step) (steps.Result, error) {
	start := time.Now()

	r.mu.Lock()
	branches := make([]types.BranchDetail, step.FanOut)
	for b := range branches {
		branches[b] = types.BranchDetail{Index: b + 1, Status: types.StepStatusPending}
	}
	r.details[idx].Branches = branches
	r.mu.Unlock()

	results := make([]steps.Result, step.FanOut)
	var reportErr error
	var errMu sync.Mutex
	setBranch := func(b int, status types.StepStatus, msg string) {
		r.mu.Lock()
		r.details[idx].Branches[b-1].Status = status
		r.details[idx].Branches[b-1].Error = msg
		err := r.reportLocked(ctx, step.Name)
		r.mu.Unlock()
		if err != nil {
			errMu.Lock()
			if reportErr == nil {
				reportErr = err
			}
			errMu.Unlock()
		}
	}

	// the group only joins the branches; failures are recorded per branch and
	// never cancel siblings
	var g errgroup.Group
	for b := 1; b <= step.FanOut; b++ {
		g.Go(func() error {
			setBranch(b, types.StepStatusInProgress, "")
			res, err := r.invoke(runCtx, step, r.input(b))
			if err != nil {
				res = steps.Result{Success: false, Error: err.Error(), ErrorCode: types.ErrorCodeTimeout}
			}
			results[b-1] = res
			if res.Success {
				setBranch(b, types.StepStatusCompleted, "")
			} else {
				r.logStepFailure(fmt.Sprintf("%s[%d]", step.Name, b), res)
				setBranch(b, types.StepStatusFailed, res.Error)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := runCtx.Err(); err != nil {
		return steps.Result{}, err
	}
	if reportErr != nil {
		return steps.Result{}, reportErr
	}

	agg := steps.Result{Elapsed: time.Since(start)}
	outputs := make(steps.BranchOutputs, step.FanOut)
	for b, res := range results {
		agg.Usage = agg.Usage.Add(res.Usage)
		if !res.Success {
			continue
		}
		outputs[b+1] = res.Data
		agg.Artifacts = append(agg.Artifacts, res.Artifacts...)
	}

	if len(outputs) < step.MinSuccess || len(outputs) == 0 {
		agg.Success = false
		agg.ErrorCode = types.ErrorCodeAllBranchesFailed
		agg.Error = fmt.Sprintf("%s: %d of %d branches failed", step.Name, step.FanOut-len(outputs), step.FanOut)
		agg.Artifacts = nil
		return agg, nil
	}
	agg.Success = true
	agg.Data = outputs
	return agg, nil
}

// report publishes the current state of the run through the progress sink
func (r *jobRun) report(ctx context.Context, step string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reportLocked(ctx, step)
}

func (r *jobRun) reportLocked(ctx context.Context, step string) error {
	completed := 0
	status := ""
	for _, d := range r.details {
		if d.Status == types.StepStatusCompleted {
			completed++
		}
		if d.Name == step {
			status = string(d.Status)
		}
	}
	update := types.StepUpdate{
		CurrentStep: r.current,
		Progress:    r.pipeline.CumulativeProgress(completed),
		Steps:       r.details.Clone(),
		Usage:       r.usage,
	}
	if err := r.o.progress.Report(ctx, r.job.ID, update); err != nil {
		return err
	}
	if r.o.onProgress != nil {
		r.o.onProgress(ProgressEvent{
			JobID:       r.job.ID,
			Step:        step,
			Status:      status,
			CurrentStep: update.CurrentStep,
			Progress:    update.Progress,
		})
	}
	return nil
}

func (r *jobRun) persist(ctx context.Context, step string, files []steps.Artifact) error {
	for _, a := range files {
		obj, err := r.o.artifacts.Put(ctx, r.job.OwnerID, r.job.ID, a.Filename, a.Content, a.Compress)
		if err != nil {
			return err
		}
		r.logger.Debug("artifact saved", slog.String(logging.FieldStep, step), slog.String("object", obj.Ref))
	}
	return nil
}

func (r *jobRun) complete(ctx context.Context) error {
	r.mu.Lock()
	outcome := types.JobOutcome{
		Title:             r.title,
		ArticlesCount:     r.articles,
		GenerationSeconds: r.o.now().Sub(r.started).Seconds(),
		Steps:             r.details.Clone(),
		Usage:             r.usage,
	}
	r.mu.Unlock()
	if outcome.ArticlesCount == 0 {
		outcome.ArticlesCount = 1
	}

	err := r.o.ledger.CompleteJob(context.WithoutCancel(ctx), r.job.ID, outcome, r.o.now())
	if errors.Is(err, types.ErrInvalidTransition) {
		r.logger.Info("job left processing before completion was recorded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	r.logger.Info("job completed",
		slog.Float64("generation_seconds", outcome.GenerationSeconds),
		slog.Int("articles_count", outcome.ArticlesCount),
	)
	return nil
}

func (r *jobRun) fail(ctx context.Context, code, message string) error {
	if code == "" {
		code = types.ErrorCodeStepFailed
	}
	if message == "" {
		message = "job failed"
	}
	r.mu.Lock()
	failure := types.JobFailure{
		Code:              code,
		Message:           message,
		Steps:             r.details.Clone(),
		GenerationSeconds: r.o.now().Sub(r.started).Seconds(),
	}
	r.mu.Unlock()

	err := r.o.ledger.FailJob(context.WithoutCancel(ctx), r.job.ID, failure, r.o.now())
	if errors.Is(err, types.ErrInvalidTransition) {
		r.logger.Info("job left processing before failure was recorded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	r.logger.Warn("job failed", slog.String("error_code", code), slog.String("error_message", message))
	return nil
}

func (r *jobRun) logStepFailure(step string, res steps.Result) {
	if info, ok := res.Data.(steps.PanicInfo); ok {
		r.logger.Error("step panicked",
			slog.String(logging.FieldStep, step),
			slog.String("panic", info.Value),
			slog.String("stack", info.Stack),
		)
		return
	}
	r.logger.Warn("step failed",
		slog.String(logging.FieldStep, step),
		slog.String("error_code", res.ErrorCode),
		slog.String("error", res.Error),
	)
}
