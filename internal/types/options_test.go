//nolint:revive // types is a standard Go package name pattern
package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitOptions_WithDefaults(t *testing.T) {
	opts := SubmitOptions{}.WithDefaults()
	assert.Equal(t, 60*time.Second, opts.Timeout)
	assert.Equal(t, 500*time.Millisecond, opts.RecheckDelay)

	custom := SubmitOptions{Timeout: 5 * time.Second, RecheckDelay: 10 * time.Millisecond}.WithDefaults()
	assert.Equal(t, 5*time.Second, custom.Timeout)
	assert.Equal(t, 10*time.Millisecond, custom.RecheckDelay)
}

func TestSubmitOptions_Validate(t *testing.T) {
	opts := &SubmitOptions{Timeout: -time.Second}
	assert.Error(t, opts.Validate())

	opts = &SubmitOptions{Timeout: time.Second}
	assert.NoError(t, opts.Validate())
}

func TestSplitControlOptions(t *testing.T) {
	body := map[string]any{
		"force_restart": true,
		"synchronous":   "true",
		"timeout":       float64(5),
		"recheck_delay": 0.25,
		"job_id":        "paper-42",
		"document":      "s3://bucket/paper.pdf",
		"pages":         float64(3),
	}

	opts, args, err := SplitControlOptions(body)
	require.NoError(t, err)

	assert.True(t, opts.ForceRestart)
	assert.True(t, opts.Synchronous)
	assert.False(t, opts.Dedupe)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.Equal(t, 250*time.Millisecond, opts.RecheckDelay)
	assert.Equal(t, "paper-42", opts.JobID)

	assert.Equal(t, map[string]any{"document": "s3://bucket/paper.pdf", "pages": float64(3)}, args)
	assert.Len(t, body, 7, "input map must not be modified")
}

func TestSplitControlOptions_Errors(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{"bad bool", map[string]any{"synchronous": "maybe"}, "synchronous"},
		{"bad bool type", map[string]any{"dedupe": 3}, "dedupe"},
		{"negative timeout", map[string]any{"timeout": float64(-1)}, "non-negative"},
		{"timeout type", map[string]any{"timeout": []any{}}, "seconds"},
		{"job id type", map[string]any{"job_id": 12}, "string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := SplitControlOptions(tt.body)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
