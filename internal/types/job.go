// Package types provides type definitions for structured data used throughout the extraction pipeline.
package types

import (
	"strings"
	"time"
)

// JobStatus is the uniform status vocabulary exposed to callers.
type JobStatus string

// Job status constants
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusStarted   JobStatus = "started"
	JobStatusRunning   JobStatus = "running"
	JobStatusFinished  JobStatus = "finished"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status carries a result. Only finished and
// failed are terminal; cancelled jobs never produce one.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

// IsFinal reports whether the job will never change status again.
func (s JobStatus) IsFinal() bool {
	return s.IsTerminal() || s == JobStatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusStarted, JobStatusRunning,
		JobStatusFinished, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ParseJobStatus maps a stored status string onto the vocabulary.
// Unknown values map to queued.
func ParseJobStatus(s string) JobStatus {
	status := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return JobStatusQueued
	}
	return status
}

// Job is one asynchronously executed unit of work wrapping a single operation invocation.
type Job struct {
	ID        string         `json:"id"`
	Token     string         `json:"-"` // per-creation generation; worker writes are conditioned on it
	Operation string         `json:"operation"`
	Arguments map[string]any `json:"arguments"`
	Status    JobStatus      `json:"status"`

	CreatedAt  *time.Time `json:"created_at,omitempty"`
	EnqueuedAt *time.Time `json:"enqueued_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`

	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Elapsed returns the wall-clock execution time of a job that has started and ended.
func (j *Job) Elapsed() (time.Duration, bool) {
	if j.StartedAt == nil || j.EndedAt == nil {
		return 0, false
	}
	return j.EndedAt.Sub(*j.StartedAt), true
}

// SubmissionOutcome reflects a job's state at the moment a submission or
// status lookup returns. Result and Error are only populated for terminal jobs.
type SubmissionOutcome struct {
	ID         string         `json:"id"`
	Operation  string         `json:"operation,omitempty"`
	Status     JobStatus      `json:"status"`
	CreatedAt  *time.Time     `json:"created_at,omitempty"`
	EnqueuedAt *time.Time     `json:"enqueued_at,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
	Result     map[string]any `json:"result"`
	Error      *string        `json:"error"`
}

// OutcomeFromJob builds an outcome from a job snapshot. When withResult is
// false the result and error are left empty even for terminal jobs.
func OutcomeFromJob(job Job, withResult bool) SubmissionOutcome {
	out := SubmissionOutcome{
		ID:         job.ID,
		Operation:  job.Operation,
		Status:     job.Status,
		CreatedAt:  job.CreatedAt,
		EnqueuedAt: job.EnqueuedAt,
		StartedAt:  job.StartedAt,
		EndedAt:    job.EndedAt,
	}
	if !withResult || !job.Status.IsTerminal() {
		return out
	}
	if job.Status == JobStatusFailed {
		msg := job.Error
		out.Error = &msg
		return out
	}
	out.Result = job.Result
	return out
}

// Elapsed returns the job's execution time when both start and end are known.
func (o SubmissionOutcome) Elapsed() (time.Duration, bool) {
	if o.StartedAt == nil || o.EndedAt == nil {
		return 0, false
	}
	return o.EndedAt.Sub(*o.StartedAt), true
}
