// Package jobs decides whether submissions reuse, restart or create jobs, and
// delivers each terminal result at most once.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonathan/extraction-pipeline/internal/jobstore"
	"github.com/jonathan/extraction-pipeline/internal/logging"
	"github.com/jonathan/extraction-pipeline/internal/types"
)

var (
	// ErrJobNotFound is returned for unknown or already delivered jobs.
	ErrJobNotFound = errors.New("job not found")
	// ErrIdentityRequired is returned when a submission carries no identity.
	ErrIdentityRequired = errors.New("job identity is required")
)

// Bridge is the execution side the ledger submits to.
type Bridge interface {
	Enqueue(ctx context.Context, job types.Job) (types.Job, error)
	Result(ctx context.Context, id string) (types.Job, error)
}

// SubmitRequest is one request to run an operation.
type SubmitRequest struct {
	Operation string
	Arguments map[string]any
	Identity  Identity
	Options   types.SubmitOptions
}

// Ledger is the entry point for job submission and status lookup.
type Ledger struct {
	store      jobstore.Store
	bridge     Bridge
	logger     *slog.Logger
	now        func() time.Time
	deliveries *deliveries
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) LedgerOption {
	return func(led *Ledger) {
		if l != nil {
			led.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) LedgerOption {
	return func(led *Ledger) {
		if now != nil {
			led.now = now
		}
	}
}

// WithDeliveryTTL sets how long waiters that lost a result race can still
// learn the final status.
func WithDeliveryTTL(d time.Duration) LedgerOption {
	return func(led *Ledger) {
		if d > 0 {
			led.deliveries.ttl = d
		}
	}
}

// NewLedger creates a Ledger over a store and the bridge that writes to it.
func NewLedger(store jobstore.Store, bridge Bridge, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:      store,
		bridge:     bridge,
		logger:     logging.New("ledger"),
		now:        time.Now,
		deliveries: newDeliveries(5 * time.Minute),
	}
	for _, o := range opts {
		o(l)
	}
	l.deliveries.now = l.now
	return l
}

// Submit reuses, restarts or creates the job named by req.Identity. A
// synchronous submission waits until the job is final or the timeout
// elapses; a timed-out job keeps running and stays fetchable.
func (l *Ledger) Submit(ctx context.Context, req SubmitRequest) (types.SubmissionOutcome, error) {
	if req.Operation == "" {
		return types.SubmissionOutcome{}, fmt.Errorf("operation is empty")
	}
	if req.Identity.IsZero() {
		return types.SubmissionOutcome{}, ErrIdentityRequired
	}
	if err := req.Options.Validate(); err != nil {
		return types.SubmissionOutcome{}, fmt.Errorf("invalid submit options: %w", err)
	}
	opts := req.Options.WithDefaults()
	id := req.Identity.ID()
	createdAt := l.now()

	if opts.ForceRestart {
		if err := l.store.Delete(ctx, id); err != nil {
			return types.SubmissionOutcome{}, fmt.Errorf("failed to discard job %s: %w", id, err)
		}
		l.deliveries.forget(id)
	}

	job, err := l.enqueue(ctx, req, id, createdAt)
	if err != nil {
		return types.SubmissionOutcome{}, err
	}
	if job.Status == types.JobStatusCancelled {
		// cancelled jobs never ran; replace them rather than report them forever
		l.logger.Info("restarting cancelled job", "job_id", id)
		if err := l.store.Delete(ctx, id); err != nil {
			return types.SubmissionOutcome{}, fmt.Errorf("failed to discard job %s: %w", id, err)
		}
		if job, err = l.enqueue(ctx, req, id, createdAt); err != nil {
			return types.SubmissionOutcome{}, err
		}
	}
	if job.Operation != req.Operation {
		l.logger.Warn("job id reused for a different operation",
			"job_id", id, "existing", job.Operation, "requested", req.Operation)
	}

	if opts.Synchronous && !job.Status.IsFinal() {
		job, err = l.await(ctx, job, opts)
		if err != nil {
			return types.OutcomeFromJob(job, false), err
		}
	}

	return l.deliver(ctx, job), nil
}

func (l *Ledger) enqueue(ctx context.Context, req SubmitRequest, id string, createdAt time.Time) (types.Job, error) {
	return l.bridge.Enqueue(ctx, types.Job{
		ID:        id,
		Operation: req.Operation,
		Arguments: req.Arguments,
		CreatedAt: &createdAt,
	})
}

// FetchStatus looks up a job without creating one. A terminal job's result is
// returned and the job is evicted, so a second fetch reports ErrJobNotFound.
func (l *Ledger) FetchStatus(ctx context.Context, id string) (types.SubmissionOutcome, error) {
	job, err := l.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return types.SubmissionOutcome{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return types.SubmissionOutcome{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	if !job.Status.IsTerminal() {
		return types.OutcomeFromJob(job, false), nil
	}

	claimed, err := l.bridge.Result(ctx, id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return types.SubmissionOutcome{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return types.SubmissionOutcome{}, fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	l.deliveries.record(claimed)
	return types.OutcomeFromJob(claimed, true), nil
}

// deliver claims a terminal job's result. Losing the claim to another caller
// yields the terminal status without a result.
func (l *Ledger) deliver(ctx context.Context, job types.Job) types.SubmissionOutcome {
	if !job.Status.IsTerminal() {
		return types.OutcomeFromJob(job, false)
	}

	claimed, err := l.bridge.Result(ctx, job.ID)
	if err != nil {
		if !errors.Is(err, jobstore.ErrNotFound) {
			l.logger.Warn("failed to claim job result", "job_id", job.ID, "error", err)
		}
		return types.OutcomeFromJob(job, false)
	}
	l.deliveries.record(claimed)
	return types.OutcomeFromJob(claimed, true)
}

// await polls the store every recheck delay until the job is final, the
// timeout elapses, or ctx is done.
func (l *Ledger) await(ctx context.Context, job types.Job, opts types.SubmitOptions) (types.Job, error) {
	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.RecheckDelay)
	defer ticker.Stop()

	last := job
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			l.logger.Debug("stopped waiting for job", "job_id", job.ID, "status", last.Status, "timeout", opts.Timeout)
			return last, nil
		case <-ticker.C:
		}

		current, err := l.store.Get(ctx, job.ID)
		if errors.Is(err, jobstore.ErrNotFound) {
			if final, ok := l.deliveries.lookup(job.ID, last.Token); ok {
				return final, nil
			}
			return last, fmt.Errorf("%w: %s disappeared while waiting", ErrJobNotFound, job.ID)
		}
		if err != nil {
			return last, fmt.Errorf("failed to poll job %s: %w", job.ID, err)
		}

		if current.Token != last.Token {
			l.logger.Debug("job was restarted by another submitter", "job_id", job.ID)
		}
		last = current
		if current.Status.IsFinal() {
			return current, nil
		}
	}
}
