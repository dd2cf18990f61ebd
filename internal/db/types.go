package db

import "time"

// RunSummary is a pipeline_runs row without its steps
type RunSummary struct {
	ID             string    `json:"id"`
	ScenarioID     string    `json:"scenario_id"`
	OverallSuccess bool      `json:"overall_success"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// DefaultRunListLimit caps ListRuns when no limit is given
const DefaultRunListLimit = 50
