package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/seo-workflows/internal/types"
)

// -----------------------------------------------------------------------------
// Job Ledger Methods
// -----------------------------------------------------------------------------

const jobColumns = `id, owner_id, parent_job_id, pipeline_type, status, current_step, total_steps,
	progress_percent, step_details, input, title, keyword, storage_path, files_count,
	total_size_bytes, articles_count, generation_seconds, tokens_used, api_calls, cost_usd,
	retry_count, error_message, error_code, created_at, started_at, completed_at, updated_at`

// CreateJob inserts a new job record
func (db *DB) CreateJob(ctx context.Context, job *types.Job) error {
	details, err := json.Marshal(job.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal step details: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO jobs (id, owner_id, parent_job_id, pipeline_type, status, current_step,
		                   total_steps, progress_percent, step_details, input, keyword,
		                   storage_path, retry_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		job.ID, job.OwnerID, job.ParentJobID, string(job.PipelineType), string(job.Status),
		job.CurrentStep, job.TotalSteps, job.Progress, details, []byte(job.Input), job.Keyword,
		job.StoragePath, job.RetryCount, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (db *DB) GetJob(ctx context.Context, jobID uuid.UUID) (*types.Job, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs retrieves an owner's jobs, most recent first
func (db *DB) ListJobs(ctx context.Context, ownerID uuid.UUID, limit int) ([]*types.Job, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// StartJob moves a pending job to processing
func (db *DB) StartJob(ctx context.Context, jobID uuid.UUID, startedAt time.Time) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET status = 'processing', started_at = $2, updated_at = $2
		 WHERE id = $1 AND status = 'pending'`,
		jobID, startedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.missReason(ctx, jobID)
	}
	return nil
}

// UpdateStep records progress on a processing job. Step and progress only move forward.
func (db *DB) UpdateStep(ctx context.Context, jobID uuid.UUID, u types.StepUpdate) error {
	details, err := marshalDetails(u.Steps)
	if err != nil {
		return err
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET
		    current_step = LEAST(GREATEST(current_step, $2), total_steps),
		    progress_percent = LEAST(GREATEST(progress_percent, $3), 100),
		    step_details = COALESCE($4::jsonb, step_details),
		    tokens_used = $5, api_calls = $6, cost_usd = $7,
		    updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		jobID, u.CurrentStep, u.Progress, details,
		u.Usage.TokensUsed, u.Usage.APICalls, u.Usage.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("failed to update job step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.missReason(ctx, jobID)
	}
	return nil
}

// CompleteJob marks a processing job as completed
func (db *DB) CompleteJob(ctx context.Context, jobID uuid.UUID, o types.JobOutcome, at time.Time) error {
	details, err := marshalDetails(o.Steps)
	if err != nil {
		return err
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET
		    status = 'completed', progress_percent = 100, current_step = total_steps,
		    title = $2, articles_count = $3, generation_seconds = $4,
		    step_details = COALESCE($5::jsonb, step_details),
		    tokens_used = $6, api_calls = $7, cost_usd = $8,
		    completed_at = $9, updated_at = $9
		 WHERE id = $1 AND status = 'processing'`,
		jobID, o.Title, o.ArticlesCount, o.GenerationSeconds, details,
		o.Usage.TokensUsed, o.Usage.APICalls, o.Usage.CostUSD, at,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.missReason(ctx, jobID)
	}
	return nil
}

// FailJob marks a processing job as failed
func (db *DB) FailJob(ctx context.Context, jobID uuid.UUID, f types.JobFailure, at time.Time) error {
	details, err := marshalDetails(f.Steps)
	if err != nil {
		return err
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET
		    status = 'failed', error_code = $2, error_message = $3,
		    step_details = COALESCE($4::jsonb, step_details),
		    generation_seconds = CASE WHEN $5::double precision > 0 THEN $5::double precision ELSE generation_seconds END,
		    completed_at = $6, updated_at = $6
		 WHERE id = $1 AND status = 'processing'`,
		jobID, f.Code, failureMessage(f), details, f.GenerationSeconds, at,
	)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.missReason(ctx, jobID)
	}
	return nil
}

// CancelJob moves a pending or processing job to cancelled
func (db *DB) CancelJob(ctx context.Context, jobID uuid.UUID, at time.Time) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET status = 'cancelled', completed_at = $2, updated_at = $2
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		jobID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.missReason(ctx, jobID)
	}
	return nil
}

// AddArtifactStats increments the artifact counters of a processing job in a
// single statement
func (db *DB) AddArtifactStats(ctx context.Context, jobID uuid.UUID, files int, bytes int64) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET files_count = files_count + $2, total_size_bytes = total_size_bytes + $3,
		        updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		jobID, files, bytes,
	)
	if err != nil {
		return fmt.Errorf("failed to add artifact stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.missReason(ctx, jobID)
	}
	return nil
}

// FailStaleJobs fails processing jobs started before cutoff
func (db *DB) FailStaleJobs(ctx context.Context, cutoff time.Time, f types.JobFailure, at time.Time) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx,
		`UPDATE jobs SET status = 'failed', error_code = $2, error_message = $3,
		        completed_at = $4, updated_at = $4
		 WHERE status = 'processing' AND started_at < $1
		 RETURNING id`,
		cutoff, f.Code, failureMessage(f), at,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to collect stale job ids: %w", err)
	}
	return ids, nil
}

func failureMessage(f types.JobFailure) string {
	if f.Message == "" {
		return "job failed"
	}
	return f.Message
}

// marshalDetails returns nil for nil details so COALESCE keeps the stored value
func marshalDetails(d types.StepDetails) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step details: %w", err)
	}
	return b, nil
}

func scanJob(row pgx.Row) (*types.Job, error) {
	var job types.Job
	var pipeline, status string
	var details, input []byte

	err := row.Scan(&job.ID, &job.OwnerID, &job.ParentJobID, &pipeline, &status,
		&job.CurrentStep, &job.TotalSteps, &job.Progress, &details, &input,
		&job.Title, &job.Keyword, &job.StoragePath, &job.FilesCount, &job.TotalSizeBytes,
		&job.ArticlesCount, &job.GenerationSeconds, &job.Usage.TokensUsed, &job.Usage.APICalls,
		&job.Usage.CostUSD, &job.RetryCount, &job.ErrorMessage, &job.ErrorCode,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	job.PipelineType = types.PipelineType(pipeline)
	job.Status = types.JobStatus(status)
	job.Input = json.RawMessage(input)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &job.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step details: %w", err)
		}
	}
	return &job, nil
}
