// Package jobstoretest provides a behavioural test suite shared by Store implementations.
package jobstoretest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonathan/extraction-pipeline/internal/jobstore"
	"github.com/jonathan/extraction-pipeline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a Store implementation. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) jobstore.Store) {
	t.Helper()

	t.Run("insert if absent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		first, created, err := store.Insert(ctx, newJob("job-1", "tok-a"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, types.JobStatusQueued, first.Status)

		second, created, err := store.Insert(ctx, newJob("job-1", "tok-b"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "tok-a", second.Token, "existing job must be kept")
	})

	t.Run("get missing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, jobstore.ErrNotFound)
	})

	t.Run("lifecycle and claim", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		_, _, err := store.Insert(ctx, newJob("job-2", "tok"))
		require.NoError(t, err)

		started := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, store.Transition(ctx, "job-2", "tok", types.JobStatusStarted, started))
		require.NoError(t, store.Transition(ctx, "job-2", "tok", types.JobStatusRunning, started.Add(time.Second)))

		job, err := store.Get(ctx, "job-2")
		require.NoError(t, err)
		assert.Equal(t, types.JobStatusRunning, job.Status)
		require.NotNil(t, job.StartedAt)
		assert.True(t, job.StartedAt.Equal(started), "started_at is set once")

		_, err = store.Claim(ctx, "job-2")
		assert.ErrorIs(t, err, jobstore.ErrNotTerminal)

		ended := started.Add(2 * time.Second)
		require.NoError(t, store.Complete(ctx, "job-2", "tok", jobstore.Completion{
			Status:    types.JobStatusFinished,
			Result:    map[string]any{"text": "hello"},
			Arguments: map[string]any{"api_key": "[REDACTED]"},
			At:        ended,
		}))

		claimed, err := store.Claim(ctx, "job-2")
		require.NoError(t, err)
		assert.Equal(t, types.JobStatusFinished, claimed.Status)
		assert.Equal(t, "hello", claimed.Result["text"])
		assert.Equal(t, "[REDACTED]", claimed.Arguments["api_key"])
		require.NotNil(t, claimed.EndedAt)
		assert.True(t, claimed.EndedAt.Equal(ended))

		_, err = store.Claim(ctx, "job-2")
		assert.ErrorIs(t, err, jobstore.ErrNotFound)
		_, err = store.Get(ctx, "job-2")
		assert.ErrorIs(t, err, jobstore.ErrNotFound)
	})

	t.Run("failed job keeps error", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		_, _, err := store.Insert(ctx, newJob("job-3", "tok"))
		require.NoError(t, err)

		require.NoError(t, store.Complete(ctx, "job-3", "tok", jobstore.Completion{
			Status: types.JobStatusFailed,
			Error:  "service unavailable",
			At:     time.Now(),
		}))

		job, err := store.Get(ctx, "job-3")
		require.NoError(t, err)
		assert.Equal(t, types.JobStatusFailed, job.Status)
		assert.Equal(t, "service unavailable", job.Error)
		assert.Nil(t, job.Result)
	})

	t.Run("stale token rejected", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		_, _, err := store.Insert(ctx, newJob("job-4", "old"))
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, "job-4"))
		_, _, err = store.Insert(ctx, newJob("job-4", "new"))
		require.NoError(t, err)

		err = store.Transition(ctx, "job-4", "old", types.JobStatusStarted, time.Now())
		assert.ErrorIs(t, err, jobstore.ErrStale)
		err = store.Complete(ctx, "job-4", "old", jobstore.Completion{Status: types.JobStatusFinished, At: time.Now()})
		assert.ErrorIs(t, err, jobstore.ErrStale)

		job, err := store.Get(ctx, "job-4")
		require.NoError(t, err)
		assert.Equal(t, types.JobStatusQueued, job.Status)
	})

	t.Run("writes to deleted job are stale", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		_, _, err := store.Insert(ctx, newJob("job-5", "tok"))
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, "job-5"))
		require.NoError(t, store.Delete(ctx, "job-5"), "deleting a missing job is not an error")

		err = store.Transition(ctx, "job-5", "tok", types.JobStatusRunning, time.Now())
		assert.ErrorIs(t, err, jobstore.ErrStale)
	})

	t.Run("concurrent claim delivers once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		_, _, err := store.Insert(ctx, newJob("job-6", "tok"))
		require.NoError(t, err)
		require.NoError(t, store.Complete(ctx, "job-6", "tok", jobstore.Completion{
			Status: types.JobStatusFinished, Result: map[string]any{"n": float64(1)}, At: time.Now(),
		}))

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Claim(ctx, "job-6"); err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})
}

func newJob(id, token string) types.Job {
	now := time.Now().UTC()
	return types.Job{
		ID:         id,
		Token:      token,
		Operation:  "pdf_extraction",
		Arguments:  map[string]any{"document": "paper.pdf", "api_key": "secret"},
		Status:     types.JobStatusQueued,
		CreatedAt:  &now,
		EnqueuedAt: &now,
	}
}
