// Package jobstore defines the persistence contract for jobs and an in-memory implementation.
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/jonathan/extraction-pipeline/internal/types"
)

var (
	// ErrNotFound is returned when no job exists for an id.
	ErrNotFound = errors.New("job not found")
	// ErrStale is returned when a write carries a token from a discarded generation of the job.
	ErrStale = errors.New("job generation is stale")
	// ErrNotTerminal is returned by Claim for a job that has no result yet.
	ErrNotTerminal = errors.New("job is not terminal")
)

// Store persists jobs keyed by id. Implementations must be safe for
// concurrent use; all mutation is keyed by job id.
type Store interface {
	// Insert stores job if no job with the same id exists. It returns the
	// stored job and whether this call created it.
	Insert(ctx context.Context, job types.Job) (types.Job, bool, error)
	// Get returns the job or ErrNotFound.
	Get(ctx context.Context, id string) (types.Job, error)
	// Delete removes a job. Deleting a missing job is not an error.
	Delete(ctx context.Context, id string) error
	// Transition moves a job to a non-terminal status. Entering started
	// sets started_at once.
	Transition(ctx context.Context, id, token string, status types.JobStatus, at time.Time) error
	// Complete records the final status, result or error, and the arguments
	// to retain, in one write.
	Complete(ctx context.Context, id, token string, c Completion) error
	// Claim atomically removes a terminal job and returns it.
	Claim(ctx context.Context, id string) (types.Job, error)
}

// Completion is the final write for a job.
type Completion struct {
	Status    types.JobStatus
	Result    map[string]any
	Error     string
	Arguments map[string]any
	At        time.Time
}
