// Package queue runs jobs on a bounded worker pool fed by a single FIFO queue
// and records their lifecycle in a job store.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/extraction-pipeline/internal/jobstore"
	"github.com/jonathan/extraction-pipeline/internal/logging"
	"github.com/jonathan/extraction-pipeline/internal/types"
)

// ErrClosed is returned by Enqueue once Shutdown has begun.
var ErrClosed = errors.New("queue is shut down")

// Operations validates and executes named operations.
type Operations interface {
	ValidateArguments(name string, args map[string]any) error
	Invoke(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

type dispatch struct {
	id    string
	token string
}

// Bridge dispatches jobs to workers. Exactly one worker executes a given job
// generation; duplicate enqueues of a live id are coalesced by the store.
type Bridge struct {
	store   jobstore.Store
	ops     Operations
	logger  *slog.Logger
	workers int
	timeout time.Duration
	now     func() time.Time

	ch      chan dispatch
	done    chan struct{}
	wg      sync.WaitGroup
	senders sync.WaitGroup
	once    sync.Once

	// mu guards closed and registration of senders; it is never held
	// across a channel send.
	mu      sync.Mutex
	closed  bool
	abandon atomic.Bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithQueueSize sets the queue capacity; a full queue applies backpressure.
func WithQueueSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.ch = make(chan dispatch, n)
		}
	}
}

// WithOperationTimeout bounds a single operation execution.
func WithOperationTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBridge creates a Bridge and starts its workers.
func NewBridge(store jobstore.Store, ops Operations, opts ...Option) *Bridge {
	b := &Bridge{
		store:   store,
		ops:     ops,
		logger:  logging.New("queue"),
		workers: 4,
		timeout: 30 * time.Minute,
		now:     time.Now,
		ch:      make(chan dispatch, 256),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	b.start()
	return b
}

func (b *Bridge) start() {
	b.once.Do(func() {
		for i := 0; i < b.workers; i++ {
			b.wg.Add(1)
			go func(workerID int) {
				defer b.wg.Done()
				b.logger.Debug("worker started", "worker_id", workerID)

				for d := range b.ch {
					if b.abandon.Load() {
						b.cancel(d)
						continue
					}
					b.execute(workerID, d)
				}

				b.logger.Debug("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// Enqueue validates the job's arguments, records it as queued and hands it to
// the workers. If a job with the same id already exists, the stored job is
// returned and nothing is dispatched.
func (b *Bridge) Enqueue(ctx context.Context, job types.Job) (types.Job, error) {
	if job.ID == "" {
		return types.Job{}, fmt.Errorf("job id is empty")
	}
	if err := b.ops.ValidateArguments(job.Operation, job.Arguments); err != nil {
		return types.Job{}, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("cannot enqueue: queue is shutting down", "job_id", job.ID)
		return types.Job{}, ErrClosed
	}
	b.senders.Add(1)
	b.mu.Unlock()
	defer b.senders.Done()

	now := b.now()
	job.Token = uuid.NewString()
	job.Status = types.JobStatusQueued
	if job.CreatedAt == nil {
		job.CreatedAt = &now
	}
	job.EnqueuedAt = &now
	job.StartedAt, job.EndedAt = nil, nil
	job.Result, job.Error = nil, ""

	stored, created, err := b.store.Insert(ctx, job)
	if err != nil {
		return types.Job{}, fmt.Errorf("failed to record job %s: %w", job.ID, err)
	}
	if !created {
		b.logger.Debug("coalesced duplicate job", "job_id", job.ID, "status", stored.Status)
		return stored, nil
	}

	d := dispatch{id: stored.ID, token: stored.Token}
	select {
	case b.ch <- d:
	default:
		b.logger.Warn("queue full, applying backpressure", "job_id", job.ID)
		select {
		case b.ch <- d:
		case <-ctx.Done():
			b.cancel(d)
			return types.Job{}, fmt.Errorf("failed to enqueue job %s: %w", job.ID, ctx.Err())
		case <-b.done:
			b.cancel(d)
			return types.Job{}, ErrClosed
		}
	}

	b.logger.Info("queued job", "job_id", job.ID, "operation", job.Operation)
	return stored, nil
}

// PollStatus returns the current status of a job.
func (b *Bridge) PollStatus(ctx context.Context, id string) (types.JobStatus, error) {
	job, err := b.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// Result removes a terminal job from the store and returns it. Only the first
// caller receives it.
func (b *Bridge) Result(ctx context.Context, id string) (types.Job, error) {
	return b.store.Claim(ctx, id)
}

// Shutdown stops accepting jobs and waits for queued jobs to drain. Jobs still
// queued when ctx expires are marked cancelled instead of run.
func (b *Bridge) Shutdown(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	// Pending senders observe done and return before ch is closed.
	b.senders.Wait()
	close(b.ch)

	done := make(chan struct{})
	go func() { defer close(done); b.wg.Wait() }()

	select {
	case <-ctx.Done():
		b.abandon.Store(true)
		b.logger.Warn("shutdown interrupted by context, cancelling queued jobs")
	case <-done:
		b.logger.Info("queue drained, shutdown complete")
	}
}

func (b *Bridge) execute(workerID int, d dispatch) {
	ctx := context.Background()
	log := b.logger.With("worker_id", workerID, "job_id", d.id)

	job, err := b.store.Get(ctx, d.id)
	if err != nil || job.Token != d.token {
		log.Debug("skipping discarded job")
		return
	}

	if !b.transition(ctx, log, d, types.JobStatusStarted) || !b.transition(ctx, log, d, types.JobStatusRunning) {
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	result, runErr := b.invoke(runCtx, job.Operation, job.Arguments)
	cancel()

	completion := jobstore.Completion{
		Status:    types.JobStatusFinished,
		Result:    result,
		Arguments: b.redact(log, job.Arguments),
		At:        b.now(),
	}
	if runErr != nil {
		completion.Status = types.JobStatusFailed
		completion.Result = nil
		completion.Error = runErr.Error()
	}

	if err := b.store.Complete(ctx, d.id, d.token, completion); err != nil {
		if errors.Is(err, jobstore.ErrStale) {
			log.Warn("job was discarded while running, dropping result")
			return
		}
		log.Error("failed to record job completion", "error", err)
		return
	}

	if runErr != nil {
		log.Warn("job failed", "operation", job.Operation, "error", runErr)
		return
	}
	log.Info("job finished", "operation", job.Operation)
}

func (b *Bridge) transition(ctx context.Context, log *slog.Logger, d dispatch, status types.JobStatus) bool {
	if err := b.store.Transition(ctx, d.id, d.token, status, b.now()); err != nil {
		if errors.Is(err, jobstore.ErrStale) {
			log.Debug("job was discarded before it ran")
		} else {
			log.Error("failed to update job status", "status", status, "error", err)
		}
		return false
	}
	return true
}

// invoke runs the operation, converting a panic into the job's error.
func (b *Bridge) invoke(ctx context.Context, operation string, args map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("operation %s panicked: %v", operation, r)
		}
	}()
	return b.ops.Invoke(ctx, operation, args)
}

func (b *Bridge) cancel(d dispatch) {
	err := b.store.Transition(context.Background(), d.id, d.token, types.JobStatusCancelled, b.now())
	if err != nil && !errors.Is(err, jobstore.ErrStale) {
		b.logger.Error("failed to cancel job", "job_id", d.id, "error", err)
		return
	}
	b.logger.Warn("cancelled queued job", "job_id", d.id)
}
