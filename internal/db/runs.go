package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/extraction-pipeline/internal/types"
)

// -----------------------------------------------------------------------------
// Run History
// -----------------------------------------------------------------------------

// RunStore persists completed pipeline runs and their steps.
type RunStore struct {
	db *DB
}

// NewRunStore creates a RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

func marshalNullable(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// SaveRun writes a run and one run_steps row per stage in a single transaction.
func (s *RunStore) SaveRun(ctx context.Context, run types.PipelineRun) error {
	orderJSON, err := json.Marshal(run.Order)
	if err != nil {
		return fmt.Errorf("failed to marshal stage order: %w", err)
	}

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	success := 0
	if run.OverallSuccess {
		success = 1
	}
	if _, err := tx.ExecContext(ctx, s.db.rebind(
		`INSERT INTO pipeline_runs (id, scenario_id, overall_success, stage_order, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`),
		run.ID, run.ScenarioID, success, string(orderJSON),
		run.StartedAt.UnixNano(), run.CompletedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for position, name := range run.Order {
		outcome, ok := run.Stages[name]
		if !ok {
			continue
		}
		var duration sql.NullInt64
		if outcome.ElapsedTime != nil {
			duration = sql.NullInt64{Int64: outcome.ElapsedTime.Milliseconds(), Valid: true}
		}
		var accuracy sql.NullString
		if outcome.Accuracy != nil {
			if accuracy, err = marshalNullable(outcome.Accuracy); err != nil {
				return fmt.Errorf("failed to marshal accuracy for %s: %w", name, err)
			}
		}
		raw, err := marshalNullable(outcome.Raw)
		if err != nil {
			return fmt.Errorf("failed to marshal raw output for %s: %w", name, err)
		}
		var blockedBy sql.NullString
		if len(outcome.BlockedBy) > 0 {
			if blockedBy, err = marshalNullable(outcome.BlockedBy); err != nil {
				return fmt.Errorf("failed to marshal blocked_by for %s: %w", name, err)
			}
		}

		if _, err := tx.ExecContext(ctx, s.db.rebind(
			`INSERT INTO run_steps (run_id, step, position, status, job_id, duration_ms, accuracy, raw, blocked_by)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`),
			run.ID, name, position, string(outcome.Status), outcome.JobID,
			duration, accuracy, raw, blockedBy,
		); err != nil {
			return fmt.Errorf("failed to insert run step %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run with its steps. It returns nil, nil when the run does not exist.
func (s *RunStore) GetRun(ctx context.Context, id string) (*types.PipelineRun, error) {
	var (
		run                    types.PipelineRun
		success                int64
		orderJSON              string
		startedAt, completedAt int64
	)
	err := s.db.queryRow(ctx,
		`SELECT id, scenario_id, overall_success, stage_order, started_at, completed_at
		 FROM pipeline_runs WHERE id = $1`, id,
	).Scan(&run.ID, &run.ScenarioID, &success, &orderJSON, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.OverallSuccess = success != 0
	run.StartedAt = time.Unix(0, startedAt).UTC()
	run.CompletedAt = time.Unix(0, completedAt).UTC()
	if err := json.Unmarshal([]byte(orderJSON), &run.Order); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage order: %w", err)
	}

	stages, err := s.listSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Stages = stages
	return &run, nil
}

func (s *RunStore) listSteps(ctx context.Context, runID string) (map[string]types.StageOutcome, error) {
	rows, err := s.db.query(ctx,
		`SELECT step, status, job_id, duration_ms, accuracy, raw, blocked_by
		 FROM run_steps WHERE run_id = $1 ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}
	defer rows.Close()

	stages := make(map[string]types.StageOutcome)
	for rows.Next() {
		var (
			name, status, jobID      string
			duration                 sql.NullInt64
			accuracy, raw, blockedBy sql.NullString
			outcome                  types.StageOutcome
		)
		if err := rows.Scan(&name, &status, &jobID, &duration, &accuracy, &raw, &blockedBy); err != nil {
			return nil, fmt.Errorf("failed to scan run step: %w", err)
		}
		outcome.Status = types.StageStatus(status)
		outcome.JobID = jobID
		if duration.Valid {
			d := time.Duration(duration.Int64) * time.Millisecond
			outcome.ElapsedTime = &d
		}
		if accuracy.Valid {
			outcome.Accuracy = &types.Accuracy{}
			if err := json.Unmarshal([]byte(accuracy.String), outcome.Accuracy); err != nil {
				return nil, fmt.Errorf("failed to unmarshal accuracy of %s: %w", name, err)
			}
		}
		if raw.Valid {
			if err := json.Unmarshal([]byte(raw.String), &outcome.Raw); err != nil {
				return nil, fmt.Errorf("failed to unmarshal raw output of %s: %w", name, err)
			}
		}
		if blockedBy.Valid {
			if err := json.Unmarshal([]byte(blockedBy.String), &outcome.BlockedBy); err != nil {
				return nil, fmt.Errorf("failed to unmarshal blocked_by of %s: %w", name, err)
			}
		}
		stages[name] = outcome
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run steps: %w", err)
	}
	return stages, nil
}

// ListRuns returns the most recent runs, newest first, optionally filtered by scenario.
func (s *RunStore) ListRuns(ctx context.Context, scenarioID string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = DefaultRunListLimit
	}
	query := `SELECT id, scenario_id, overall_success, started_at, completed_at FROM pipeline_runs`
	args := []any{}
	if scenarioID != "" {
		query += ` WHERE scenario_id = $1`
		args = append(args, scenarioID)
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT %d`, limit)

	rows, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			r                      RunSummary
			success                int64
			startedAt, completedAt int64
		)
		if err := rows.Scan(&r.ID, &r.ScenarioID, &success, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.OverallSuccess = success != 0
		r.StartedAt = time.Unix(0, startedAt).UTC()
		r.CompletedAt = time.Unix(0, completedAt).UTC()
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}
