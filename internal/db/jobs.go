package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/extraction-pipeline/internal/jobstore"
	"github.com/jonathan/extraction-pipeline/internal/types"
)

// -----------------------------------------------------------------------------
// Job Store
// -----------------------------------------------------------------------------

const jobColumns = `id, token, operation, arguments, status, created_at, enqueued_at, started_at, ended_at, result, error`

// finalStatuses guards worker writes: a final job is never overwritten.
const finalStatuses = `('finished', 'failed', 'cancelled')`

// JobStore is a jobstore.Store backed by the jobs table.
type JobStore struct {
	db *DB
}

var _ jobstore.Store = (*JobStore)(nil)

// NewJobStore creates a JobStore.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (types.Job, error) {
	var (
		job                               types.Job
		argsJSON, status, errText         string
		created, enqueued, started, ended sql.NullInt64
		resultJSON                        sql.NullString
	)
	if err := row.Scan(&job.ID, &job.Token, &job.Operation, &argsJSON, &status,
		&created, &enqueued, &started, &ended, &resultJSON, &errText); err != nil {
		return types.Job{}, err
	}

	job.Status = types.ParseJobStatus(status)
	job.CreatedAt = fromNanos(created)
	job.EnqueuedAt = fromNanos(enqueued)
	job.StartedAt = fromNanos(started)
	job.EndedAt = fromNanos(ended)
	job.Error = errText
	if err := json.Unmarshal([]byte(argsJSON), &job.Arguments); err != nil {
		return types.Job{}, fmt.Errorf("failed to unmarshal arguments of job %s: %w", job.ID, err)
	}
	if resultJSON.Valid {
		if err := json.Unmarshal([]byte(resultJSON.String), &job.Result); err != nil {
			return types.Job{}, fmt.Errorf("failed to unmarshal result of job %s: %w", job.ID, err)
		}
	}
	return job, nil
}

func marshalDoc(doc map[string]any) (sql.NullString, error) {
	if doc == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// Insert stores job unless a job with the same id exists.
func (s *JobStore) Insert(ctx context.Context, job types.Job) (types.Job, bool, error) {
	if job.ID == "" {
		return types.Job{}, false, fmt.Errorf("job id is empty")
	}
	args := job.Arguments
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return types.Job{}, false, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	resultJSON, err := marshalDoc(job.Result)
	if err != nil {
		return types.Job{}, false, fmt.Errorf("failed to marshal result: %w", err)
	}

	// A concurrent Delete can remove the existing row between the insert and
	// the read; retry a few times.
	for attempt := 0; attempt < 3; attempt++ {
		res, err := s.db.exec(ctx,
			`INSERT INTO jobs (`+jobColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO NOTHING`,
			job.ID, job.Token, job.Operation, string(argsJSON), string(job.Status),
			nanos(job.CreatedAt), nanos(job.EnqueuedAt), nanos(job.StartedAt), nanos(job.EndedAt),
			resultJSON, job.Error,
		)
		if err != nil {
			return types.Job{}, false, fmt.Errorf("failed to insert job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return types.Job{}, false, fmt.Errorf("failed to insert job: %w", err)
		}
		if n == 1 {
			job.Arguments = args
			return job, true, nil
		}

		existing, err := s.Get(ctx, job.ID)
		if errors.Is(err, jobstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return types.Job{}, false, err
		}
		return existing, false, nil
	}
	return types.Job{}, false, fmt.Errorf("failed to insert job %s: conflicting concurrent deletes", job.ID)
}

// Get retrieves a job by id
func (s *JobStore) Get(ctx context.Context, id string) (types.Job, error) {
	job, err := scanJob(s.db.queryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, jobstore.ErrNotFound
	}
	if err != nil {
		return types.Job{}, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// Delete removes a job if present.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.exec(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// Transition updates the status of the job generation identified by token.
func (s *JobStore) Transition(ctx context.Context, id, token string, status types.JobStatus, at time.Time) error {
	if status.IsTerminal() {
		return fmt.Errorf("transition to %s must use Complete", status)
	}

	query := `UPDATE jobs SET status = $1`
	args := []any{string(status), id, token}
	switch status {
	case types.JobStatusStarted:
		query += `, started_at = COALESCE(started_at, $4)`
		args = append(args, at.UnixNano())
	case types.JobStatusCancelled:
		query += `, ended_at = COALESCE(ended_at, $4)`
		args = append(args, at.UnixNano())
	}
	query += ` WHERE id = $2 AND token = $3 AND status NOT IN ` + finalStatuses

	res, err := s.db.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return staleUnlessUpdated(res)
}

// Complete records the final state of the job generation identified by token.
func (s *JobStore) Complete(ctx context.Context, id, token string, c jobstore.Completion) error {
	if !c.Status.IsTerminal() {
		return fmt.Errorf("cannot complete job with non-terminal status %s", c.Status)
	}

	var result sql.NullString
	errText := c.Error
	if c.Status == types.JobStatusFinished {
		var err error
		if result, err = marshalDoc(c.Result); err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		errText = ""
	}

	query := `UPDATE jobs SET status = $1, ended_at = $2, started_at = COALESCE(started_at, $2),
	          result = $3, error = $4`
	args := []any{string(c.Status), c.At.UnixNano(), result, errText, id, token}
	if c.Arguments != nil {
		argsJSON, err := json.Marshal(c.Arguments)
		if err != nil {
			return fmt.Errorf("failed to marshal arguments: %w", err)
		}
		query += `, arguments = $7`
		args = append(args, string(argsJSON))
	}
	query += ` WHERE id = $5 AND token = $6 AND status NOT IN ` + finalStatuses

	res, err := s.db.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return staleUnlessUpdated(res)
}

// Claim deletes a terminal job and returns it. Only one caller can win the
// delete, so the result is delivered at most once.
func (s *JobStore) Claim(ctx context.Context, id string) (types.Job, error) {
	job, err := scanJob(s.db.queryRow(ctx,
		`DELETE FROM jobs WHERE id = $1 AND status IN ('finished', 'failed')
		 RETURNING `+jobColumns, id))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, fmt.Errorf("failed to claim job: %w", err)
	}

	if _, err := s.Get(ctx, id); err != nil {
		return types.Job{}, err
	}
	return types.Job{}, jobstore.ErrNotTerminal
}

func staleUnlessUpdated(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return jobstore.ErrStale
	}
	return nil
}
