package db

// schema is valid for both PostgreSQL and SQLite. Timestamps are unix
// nanoseconds; documents are JSON text.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id          TEXT PRIMARY KEY,
		token       TEXT NOT NULL,
		operation   TEXT NOT NULL,
		arguments   TEXT NOT NULL,
		status      TEXT NOT NULL,
		created_at  BIGINT,
		enqueued_at BIGINT,
		started_at  BIGINT,
		ended_at    BIGINT,
		result      TEXT,
		error       TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id              TEXT PRIMARY KEY,
		scenario_id     TEXT NOT NULL,
		overall_success INTEGER NOT NULL,
		stage_order     TEXT NOT NULL,
		started_at      BIGINT NOT NULL,
		completed_at    BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_scenario ON pipeline_runs (scenario_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS run_steps (
		run_id      TEXT NOT NULL REFERENCES pipeline_runs (id) ON DELETE CASCADE,
		step        TEXT NOT NULL,
		position    INTEGER NOT NULL,
		status      TEXT NOT NULL,
		job_id      TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT,
		accuracy    TEXT,
		raw         TEXT,
		blocked_by  TEXT,
		PRIMARY KEY (run_id, step)
	)`,
}
