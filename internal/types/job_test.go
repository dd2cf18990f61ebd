//nolint:revive // types is a standard Go package name pattern
package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_Terminal(t *testing.T) {
	terminal := []JobStatus{JobStatusFinished, JobStatusFailed}
	nonTerminal := []JobStatus{JobStatusQueued, JobStatusStarted, JobStatusRunning, JobStatusCancelled}

	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s)
		assert.True(t, s.IsFinal(), s)
	}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), s)
	}
	assert.True(t, JobStatusCancelled.IsFinal())
	assert.False(t, JobStatusRunning.IsFinal())
}

func TestParseJobStatus(t *testing.T) {
	assert.Equal(t, JobStatusRunning, ParseJobStatus("RUNNING"))
	assert.Equal(t, JobStatusFinished, ParseJobStatus(" finished "))
	assert.Equal(t, JobStatusQueued, ParseJobStatus("deferred"))
}

func TestOutcomeFromJob(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Second)

	t.Run("finished with result", func(t *testing.T) {
		job := Job{ID: "j1", Status: JobStatusFinished, StartedAt: &start, EndedAt: &end,
			Result: map[string]any{"text": "abc"}}

		out := OutcomeFromJob(job, true)
		assert.Equal(t, "abc", out.Result["text"])
		assert.Nil(t, out.Error)

		elapsed, ok := out.Elapsed()
		require.True(t, ok)
		assert.Equal(t, 3*time.Second, elapsed)
	})

	t.Run("failed carries error only", func(t *testing.T) {
		job := Job{ID: "j2", Status: JobStatusFailed, Error: "boom", Result: map[string]any{"x": 1}}

		out := OutcomeFromJob(job, true)
		require.NotNil(t, out.Error)
		assert.Equal(t, "boom", *out.Error)
		assert.Nil(t, out.Result)
	})

	t.Run("without result", func(t *testing.T) {
		job := Job{ID: "j3", Status: JobStatusFinished, Result: map[string]any{"x": 1}}

		out := OutcomeFromJob(job, false)
		assert.Equal(t, JobStatusFinished, out.Status)
		assert.Nil(t, out.Result)
		assert.Nil(t, out.Error)
	})

	t.Run("non-terminal never has result", func(t *testing.T) {
		job := Job{ID: "j4", Status: JobStatusRunning, Result: map[string]any{"x": 1}}

		out := OutcomeFromJob(job, true)
		assert.Nil(t, out.Result)
		_, ok := out.Elapsed()
		assert.False(t, ok)
	})
}

func TestComputeOverallSuccess(t *testing.T) {
	tests := []struct {
		name   string
		stages map[string]StageOutcome
		want   bool
	}{
		{"empty", map[string]StageOutcome{}, true},
		{"all success", map[string]StageOutcome{"a": {Status: StageSuccess}}, true},
		{"not applicable and upstream failure only", map[string]StageOutcome{
			"a": {Status: StageNotApplicable},
			"b": {Status: StageUpstreamFailure},
			"c": {Status: StageSuccess},
		}, true},
		{"one failure", map[string]StageOutcome{
			"a": {Status: StageSuccess},
			"b": {Status: StageFailure},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeOverallSuccess(tt.stages))
		})
	}
}
