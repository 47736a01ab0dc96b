package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Job Queue Methods
// -----------------------------------------------------------------------------

// Enqueue appends a job to the durable queue
func (db *DB) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `INSERT INTO job_queue (job_id) VALUES ($1)`, jobID)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Dequeue claims the oldest queued job. Concurrent workers skip rows locked by
// each other, so every entry is handed out once.
func (db *DB) Dequeue(ctx context.Context) (uuid.UUID, bool, error) {
	var jobID uuid.UUID
	err := db.pool.QueryRow(ctx,
		`DELETE FROM job_queue
		 WHERE id = (
		     SELECT id FROM job_queue
		     ORDER BY id
		     FOR UPDATE SKIP LOCKED
		     LIMIT 1
		 )
		 RETURNING job_id`,
	).Scan(&jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("failed to dequeue job: %w", err)
	}
	return jobID, true, nil
}

// RequeueStalePending puts back pending jobs created before cutoff that have no
// queue entry. A worker that dies between Dequeue and StartJob leaves exactly
// such a job behind.
func (db *DB) RequeueStalePending(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx,
		`INSERT INTO job_queue (job_id)
		 SELECT j.id FROM jobs j
		 WHERE j.status = 'pending'
		   AND j.created_at < $1
		   AND NOT EXISTS (SELECT 1 FROM job_queue q WHERE q.job_id = j.id)
		 ORDER BY j.created_at
		 ON CONFLICT (job_id) DO NOTHING
		 RETURNING job_id`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue pending jobs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to requeue pending jobs: %w", err)
	}
	return ids, nil
}

// QueueDepth returns the number of jobs waiting in the queue
func (db *DB) QueueDepth(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM job_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}
