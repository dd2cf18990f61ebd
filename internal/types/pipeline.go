package types

import "time"

// StageStatus classifies the outcome of one stage in one scenario run.
type StageStatus string

// Stage status constants
const (
	StageNotApplicable   StageStatus = "not_applicable"
	StageUpstreamFailure StageStatus = "upstream_failure"
	StageSuccess         StageStatus = "success"
	StageFailure         StageStatus = "failure"
)

// Accuracy is an advisory score produced by an accuracy evaluator.
type Accuracy struct {
	Score   float64            `json:"score"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Details map[string]any     `json:"details,omitempty"`
}

// StageOutcome records what happened to one stage.
type StageOutcome struct {
	Status      StageStatus    `json:"status"`
	JobID       string         `json:"job_id,omitempty"`
	ElapsedTime *time.Duration `json:"elapsed_time,omitempty"`
	Accuracy    *Accuracy      `json:"accuracy,omitempty"`
	// Raw is the operation result on success, the error text on failure.
	Raw any `json:"raw,omitempty"`
	// BlockedBy names the hard predecessors that caused an upstream failure.
	BlockedBy []string `json:"blocked_by,omitempty"`
}

// Result returns the raw payload as an operation result, if it is one.
func (o StageOutcome) Result() (map[string]any, bool) {
	m, ok := o.Raw.(map[string]any)
	return m, ok
}

// PipelineRun is the outcome of running every stage for one scenario.
type PipelineRun struct {
	ID             string                  `json:"id"`
	ScenarioID     string                  `json:"scenario_id"`
	Order          []string                `json:"order"`
	Stages         map[string]StageOutcome `json:"stages"`
	OverallSuccess bool                    `json:"overall_success"`
	StartedAt      time.Time               `json:"started_at"`
	CompletedAt    time.Time               `json:"completed_at"`
}

// ComputeOverallSuccess is false iff at least one stage failed outright.
// Not-applicable and upstream failures do not count.
func ComputeOverallSuccess(stages map[string]StageOutcome) bool {
	for _, outcome := range stages {
		if outcome.Status == StageFailure {
			return false
		}
	}
	return true
}
