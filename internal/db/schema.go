package db

// schema is applied in order by Migrate
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id                 UUID PRIMARY KEY,
		owner_id           UUID NOT NULL,
		parent_job_id      UUID REFERENCES jobs(id),
		pipeline_type      TEXT NOT NULL CHECK (pipeline_type IN ('scratch', 'rewrite', 'cluster')),
		status             TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed', 'cancelled')),
		current_step       INT NOT NULL DEFAULT 0,
		total_steps        INT NOT NULL,
		progress_percent   INT NOT NULL DEFAULT 0 CHECK (progress_percent BETWEEN 0 AND 100),
		step_details       JSONB NOT NULL DEFAULT '[]',
		input              JSONB NOT NULL,
		title              TEXT NOT NULL DEFAULT '',
		keyword            TEXT NOT NULL DEFAULT '',
		storage_path       TEXT NOT NULL,
		files_count        INT NOT NULL DEFAULT 0,
		total_size_bytes   BIGINT NOT NULL DEFAULT 0,
		articles_count     INT NOT NULL DEFAULT 0,
		generation_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		tokens_used        INT NOT NULL DEFAULT 0,
		api_calls          INT NOT NULL DEFAULT 0,
		cost_usd           DOUBLE PRECISION NOT NULL DEFAULT 0,
		retry_count        INT NOT NULL DEFAULT 0,
		error_message      TEXT NOT NULL DEFAULT '',
		error_code         TEXT NOT NULL DEFAULT '',
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at         TIMESTAMPTZ,
		completed_at       TIMESTAMPTZ,
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (current_step BETWEEN 0 AND total_steps),
		CHECK (status <> 'failed' OR error_message <> '')
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_owner_created ON jobs (owner_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_processing_started ON jobs (started_at) WHERE status = 'processing'`,
	`CREATE TABLE IF NOT EXISTS job_queue (
		id          BIGSERIAL PRIMARY KEY,
		job_id      UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		enqueued_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_job_queue_job ON job_queue (job_id)`,
}
