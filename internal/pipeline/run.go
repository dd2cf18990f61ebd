// Package pipeline runs scenarios through the stage graph, classifying each
// stage's outcome from its applicability and its hard predecessors.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jonathan/extraction-pipeline/internal/evaluation"
	"github.com/jonathan/extraction-pipeline/internal/jobs"
	"github.com/jonathan/extraction-pipeline/internal/logging"
	"github.com/jonathan/extraction-pipeline/internal/pipeline/graph"
	"github.com/jonathan/extraction-pipeline/internal/types"
)

// Executor defaults
const (
	DefaultStageTimeout = 15 * time.Minute
	DefaultConcurrency  = 2
)

// Scenario supplies the inputs of one pipeline run.
type Scenario interface {
	ID() string
	// Applicable reports whether the scenario has the inputs a stage needs.
	Applicable(stage string) bool
	// Arguments builds the operation arguments for a stage. upstream holds the
	// outcomes of every stage that ran before it.
	Arguments(ctx context.Context, stage string, upstream map[string]types.StageOutcome) (map[string]any, error)
	// GroundTruth returns the reference result for a stage, if one exists.
	GroundTruth(ctx context.Context, stage string) (map[string]any, bool, error)
}

// Submitter submits stage jobs. jobs.Ledger satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (types.SubmissionOutcome, error)
}

// Recorder persists completed runs.
type Recorder interface {
	SaveRun(ctx context.Context, run types.PipelineRun) error
}

// ProgressEvent represents a stage outcome during a run
type ProgressEvent struct {
	ScenarioID string
	Stage      string
	Status     types.StageStatus
	Message    string
}

// ProgressCallback is called after each stage
type ProgressCallback func(event ProgressEvent)

// Executor runs PipelineRuns over an immutable graph.
type Executor struct {
	graph        *graph.Graph
	submitter    Submitter
	evaluators   *evaluation.Registry
	recorder     Recorder
	logger       *slog.Logger
	onProgress   ProgressCallback
	stageTimeout time.Duration
	recheckDelay time.Duration
	forceRestart bool
	concurrency  int
	now          func() time.Time

	// inflight keys active runs by scenario id.
	inflight singleflight.Group
}

// Option configures an Executor.
type Option func(*Executor)

// WithEvaluators sets the accuracy evaluators.
func WithEvaluators(r *evaluation.Registry) Option {
	return func(e *Executor) { e.evaluators = r }
}

// WithRecorder persists every completed run.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(e *Executor) { e.onProgress = cb }
}

// WithStageTimeout sets the wait for stages whose template declares no timeout.
func WithStageTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.stageTimeout = d
		}
	}
}

// WithRecheckDelay sets the polling interval while waiting on a stage job.
func WithRecheckDelay(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.recheckDelay = d
		}
	}
}

// WithForceRestart discards existing jobs for every stage.
func WithForceRestart(force bool) Option {
	return func(e *Executor) { e.forceRestart = force }
}

// WithConcurrency bounds how many scenarios RunAll runs at once.
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExecutor creates an executor for g that submits stage jobs to s.
func NewExecutor(g *graph.Graph, s Submitter, opts ...Option) *Executor {
	e := &Executor{
		graph:        g,
		submitter:    s,
		logger:       logging.New("pipeline"),
		stageTimeout: DefaultStageTimeout,
		recheckDelay: types.DefaultRecheckDelay,
		concurrency:  DefaultConcurrency,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the graph the executor runs.
func (e *Executor) Graph() *graph.Graph {
	return e.graph
}

// Run executes every stage for one scenario in topological order. It always
// returns a complete run: stage errors are recorded, never returned.
//
// A call made while a run of the same scenario is in progress joins that run
// and returns a copy of its result instead of starting another.
func (e *Executor) Run(ctx context.Context, sc Scenario) types.PipelineRun {
	v, _, shared := e.inflight.Do(sc.ID(), func() (any, error) {
		return e.run(ctx, sc), nil
	})
	run := v.(types.PipelineRun)
	if shared {
		e.logger.Debug("joined in-flight pipeline run", "scenario", run.ScenarioID, "run_id", run.ID)
		run.Order = slices.Clone(run.Order)
		run.Stages = maps.Clone(run.Stages)
	}
	return run
}

func (e *Executor) run(ctx context.Context, sc Scenario) types.PipelineRun {
	run := types.PipelineRun{
		ID:         uuid.NewString(),
		ScenarioID: sc.ID(),
		Order:      e.graph.Order(),
		Stages:     make(map[string]types.StageOutcome),
		StartedAt:  e.now(),
	}
	log := e.logger.With("scenario", run.ScenarioID, "run_id", run.ID)
	log.Info("pipeline run started", "stages", len(run.Order))

	for _, name := range run.Order {
		stage, _ := e.graph.Stage(name)
		outcome := e.runStage(ctx, log.With("stage", name), sc, stage, run.Stages)
		run.Stages[name] = outcome
		e.emit(run.ScenarioID, name, outcome)
	}

	run.OverallSuccess = types.ComputeOverallSuccess(run.Stages)
	run.CompletedAt = e.now()
	log.Info("pipeline run completed", "overall_success", run.OverallSuccess)

	if e.recorder != nil {
		if err := e.recorder.SaveRun(ctx, run); err != nil {
			log.Warn("failed to record pipeline run", "error", err)
		}
	}
	return run
}

// RunAll runs scenarios concurrently and returns their runs in input order.
func (e *Executor) RunAll(ctx context.Context, scenarios []Scenario) []types.PipelineRun {
	runs := make([]types.PipelineRun, len(scenarios))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, sc := range scenarios {
		g.Go(func() error {
			runs[i] = e.Run(ctx, sc)
			return nil
		})
	}
	_ = g.Wait()

	return runs
}

func (e *Executor) runStage(ctx context.Context, log *slog.Logger, sc Scenario, stage graph.Stage, done map[string]types.StageOutcome) types.StageOutcome {
	if !sc.Applicable(stage.Name) {
		log.Debug("stage not applicable")
		return types.StageOutcome{Status: types.StageNotApplicable}
	}

	var blocked []string
	for _, pred := range e.graph.HardPredecessors(stage.Name) {
		switch done[pred].Status {
		case types.StageFailure, types.StageUpstreamFailure:
			blocked = append(blocked, pred)
		}
	}
	if len(blocked) > 0 {
		log.Info("stage blocked by upstream failure", "blocked_by", blocked)
		return types.StageOutcome{Status: types.StageUpstreamFailure, BlockedBy: blocked}
	}

	upstream := make(map[string]types.StageOutcome, len(done))
	for name, outcome := range done {
		upstream[name] = outcome
	}
	args, err := sc.Arguments(ctx, stage.Name, upstream)
	if err != nil {
		msg := fmt.Sprintf("failed to build arguments: %v", err)
		// Soft predecessors never change the status, but a missing input is
		// usually explained by one of them failing.
		var failedSoft []string
		for _, pred := range e.graph.SoftPredecessors(stage.Name) {
			switch done[pred].Status {
			case types.StageFailure, types.StageUpstreamFailure:
				failedSoft = append(failedSoft, pred)
			}
		}
		if len(failedSoft) > 0 {
			msg += fmt.Sprintf(" (optional input from %s failed)", strings.Join(failedSoft, ", "))
		}
		return failure("", msg)
	}
	identity, err := jobs.Fingerprint(stage.Operation, args)
	if err != nil {
		return failure("", fmt.Sprintf("failed to derive job id: %v", err))
	}

	timeout := stage.Timeout
	if timeout <= 0 {
		timeout = e.stageTimeout
	}
	out, err := e.submitter.Submit(ctx, jobs.SubmitRequest{
		Operation: stage.Operation,
		Arguments: args,
		Identity:  identity,
		Options: types.SubmitOptions{
			ForceRestart: e.forceRestart,
			Synchronous:  true,
			Timeout:      timeout,
			RecheckDelay: e.recheckDelay,
		},
	})
	if err != nil {
		log.Warn("stage submission failed", "job_id", identity.ID(), "error", err)
		return failure(identity.ID(), err.Error())
	}

	outcome := types.StageOutcome{JobID: out.ID}
	if elapsed, ok := out.Elapsed(); ok {
		outcome.ElapsedTime = &elapsed
	}

	switch out.Status {
	case types.JobStatusFinished:
		if out.Result == nil {
			outcome.Status = types.StageFailure
			outcome.Raw = fmt.Sprintf("result of job %s was delivered to another caller", out.ID)
			return outcome
		}
		outcome.Status = types.StageSuccess
		outcome.Raw = out.Result
		outcome.Accuracy = e.evaluate(ctx, log, sc, stage.Name, out.Result)
	case types.JobStatusFailed:
		outcome.Status = types.StageFailure
		if out.Error != nil {
			outcome.Raw = *out.Error
		}
		log.Warn("stage failed", "job_id", out.ID, "error", outcome.Raw)
	default:
		outcome.Status = types.StageFailure
		outcome.Raw = fmt.Sprintf("job %s did not finish within %s (last status %s)", out.ID, timeout, out.Status)
		log.Warn("stage timed out", "job_id", out.ID, "status", out.Status)
	}
	return outcome
}

// evaluate scores a successful result. Any failure leaves accuracy nil.
func (e *Executor) evaluate(ctx context.Context, log *slog.Logger, sc Scenario, stage string, result map[string]any) *types.Accuracy {
	ev, ok := e.evaluators.Lookup(stage)
	if !ok {
		return nil
	}
	truth, ok, err := sc.GroundTruth(ctx, stage)
	if err != nil {
		log.Warn("failed to load ground truth", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	acc, err := evaluation.Safe(ctx, stage, ev, result, truth)
	if err != nil {
		log.Warn("accuracy evaluation failed", "error", err)
		return nil
	}
	return &acc
}

func (e *Executor) emit(scenarioID, stage string, outcome types.StageOutcome) {
	if e.onProgress == nil {
		return
	}
	msg := string(outcome.Status)
	switch outcome.Status {
	case types.StageUpstreamFailure:
		msg = fmt.Sprintf("blocked by %v", outcome.BlockedBy)
	case types.StageFailure:
		msg = fmt.Sprint(outcome.Raw)
	}
	e.onProgress(ProgressEvent{
		ScenarioID: scenarioID,
		Stage:      stage,
		Status:     outcome.Status,
		Message:    msg,
	})
}

func failure(jobID, message string) types.StageOutcome {
	return types.StageOutcome{Status: types.StageFailure, JobID: jobID, Raw: message}
}
