package jobstore

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/jonathan/extraction-pipeline/internal/types"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]types.Job
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]types.Job)}
}

// Insert stores job unless one with the same id already exists.
func (s *MemoryStore) Insert(_ context.Context, job types.Job) (types.Job, bool, error) {
	if job.ID == "" {
		return types.Job{}, false, fmt.Errorf("job id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[job.ID]; ok {
		return cloneJob(existing), false, nil
	}
	stored := cloneJob(job)
	s.jobs[job.ID] = stored
	return cloneJob(stored), true, nil
}

// Get returns a copy of the job.
func (s *MemoryStore) Get(_ context.Context, id string) (types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return types.Job{}, ErrNotFound
	}
	return cloneJob(job), nil
}

// Delete removes the job if present.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

// Transition updates the status of the job generation identified by token.
func (s *MemoryStore) Transition(_ context.Context, id, token string, status types.JobStatus, at time.Time) error {
	if status.IsTerminal() {
		return fmt.Errorf("transition to %s must use Complete", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.current(id, token)
	if err != nil {
		return err
	}
	job.Status = status
	if status == types.JobStatusStarted && job.StartedAt == nil {
		job.StartedAt = timePtr(at)
	}
	if status == types.JobStatusCancelled && job.EndedAt == nil {
		job.EndedAt = timePtr(at)
	}
	s.jobs[id] = job
	return nil
}

// Complete records the final state of the job generation identified by token.
func (s *MemoryStore) Complete(_ context.Context, id, token string, c Completion) error {
	if !c.Status.IsTerminal() {
		return fmt.Errorf("cannot complete job with non-terminal status %s", c.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.current(id, token)
	if err != nil {
		return err
	}
	job.Status = c.Status
	job.EndedAt = timePtr(c.At)
	if job.StartedAt == nil {
		job.StartedAt = timePtr(c.At)
	}
	if c.Status == types.JobStatusFinished {
		job.Result = maps.Clone(c.Result)
		job.Error = ""
	} else {
		job.Result = nil
		job.Error = c.Error
	}
	if c.Arguments != nil {
		job.Arguments = maps.Clone(c.Arguments)
	}
	s.jobs[id] = job
	return nil
}

// Claim removes and returns a terminal job.
func (s *MemoryStore) Claim(_ context.Context, id string) (types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return types.Job{}, ErrNotFound
	}
	if !job.Status.IsTerminal() {
		return types.Job{}, ErrNotTerminal
	}
	delete(s.jobs, id)
	return job, nil
}

// Len returns the number of stored jobs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// current must be called with s.mu held.
func (s *MemoryStore) current(id, token string) (types.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return types.Job{}, ErrStale
	}
	if job.Token != token || job.Status.IsFinal() {
		return types.Job{}, ErrStale
	}
	return job, nil
}

func cloneJob(job types.Job) types.Job {
	job.Arguments = maps.Clone(job.Arguments)
	job.Result = maps.Clone(job.Result)
	return job
}

func timePtr(t time.Time) *time.Time {
	return &t
}
