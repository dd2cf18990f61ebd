// Package wiring assembles the pipeline components from configuration.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonathan/extraction-pipeline/internal/artifacts"
	"github.com/jonathan/extraction-pipeline/internal/config"
	"github.com/jonathan/extraction-pipeline/internal/db"
	"github.com/jonathan/extraction-pipeline/internal/evaluation"
	"github.com/jonathan/extraction-pipeline/internal/jobs"
	"github.com/jonathan/extraction-pipeline/internal/jobstore"
	"github.com/jonathan/extraction-pipeline/internal/logging"
	"github.com/jonathan/extraction-pipeline/internal/operations"
	"github.com/jonathan/extraction-pipeline/internal/pipeline"
	"github.com/jonathan/extraction-pipeline/internal/pipeline/graph"
	"github.com/jonathan/extraction-pipeline/internal/queue"
	"github.com/jonathan/extraction-pipeline/internal/report"
	"github.com/jonathan/extraction-pipeline/internal/scenarios"
)

// ServiceName is reported in report metadata.
const ServiceName = "pipeline_agent"

// App holds the assembled components. DB and Runs are nil when jobs are kept in memory.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	DB         *db.DB
	Store      jobstore.Store
	Registry   *operations.Registry
	Bridge     *queue.Bridge
	Ledger     *jobs.Ledger
	Graph      *graph.Graph
	Artifacts  artifacts.Store
	Rules      scenarios.Rules
	Evaluators *evaluation.Registry
	Runs       *db.RunStore
	Executor   *pipeline.Executor
}

type options struct {
	logger     *slog.Logger
	progress   pipeline.ProgressCallback
	operations []operations.Spec
	artifacts  artifacts.Store
}

// Option customises Build.
type Option func(*options)

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProgress reports stage outcomes as runs progress.
func WithProgress(cb pipeline.ProgressCallback) Option {
	return func(o *options) { o.progress = cb }
}

// WithOperations registers in-process operations in addition to the
// configured services.
func WithOperations(specs ...operations.Spec) Option {
	return func(o *options) { o.operations = append(o.operations, specs...) }
}

// WithArtifacts overrides the configured artifact store.
func WithArtifacts(s artifacts.Store) Option {
	return func(o *options) { o.artifacts = s }
}

// Build creates every component described by cfg. cfg should already be
// merged with defaults and validated. On error, anything opened is closed.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (app *App, err error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.New("wiring")
	}

	app = &App{Config: cfg, Logger: o.logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
			app = nil
		}
	}()

	if err := app.buildStore(ctx); err != nil {
		return app, err
	}
	if err := app.buildRegistry(o.operations); err != nil {
		return app, err
	}
	if err := app.buildGraph(); err != nil {
		return app, err
	}

	app.Artifacts = o.artifacts
	if app.Artifacts == nil {
		if app.Artifacts, err = openArtifacts(ctx, cfg); err != nil {
			return app, err
		}
	}

	app.Bridge = queue.NewBridge(app.Store, app.Registry,
		queue.WithWorkers(cfg.Workers),
		queue.WithQueueSize(cfg.QueueSize),
		queue.WithLogger(o.logger.With("component", "bridge")),
	)
	app.Ledger = jobs.NewLedger(app.Store, app.Bridge, jobs.WithLogger(o.logger.With("component", "ledger")))

	app.Rules = scenarios.DefaultRules()
	app.Evaluators = evaluation.Defaults()

	execOpts := []pipeline.Option{
		pipeline.WithEvaluators(app.Evaluators),
		pipeline.WithLogger(o.logger.With("component", "executor")),
		pipeline.WithStageTimeout(cfg.StageTimeout()),
		pipeline.WithRecheckDelay(cfg.RecheckDelay()),
		pipeline.WithForceRestart(cfg.ForceRestart),
		pipeline.WithConcurrency(cfg.Concurrency),
	}
	if app.Runs != nil {
		execOpts = append(execOpts, pipeline.WithRecorder(app.Runs))
	}
	if o.progress != nil {
		execOpts = append(execOpts, pipeline.WithProgress(o.progress))
	}
	app.Executor = pipeline.NewExecutor(app.Graph, app.Ledger, execOpts...)

	app.warnUnservedStages()
	return app, nil
}

func (a *App) buildStore(ctx context.Context) error {
	if a.Config.DatabaseURL == "" {
		a.Store = jobstore.NewMemoryStore()
		a.Logger.Debug("keeping jobs in memory")
		return nil
	}
	database, err := db.Connect(ctx, a.Config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = database
	a.Store = db.NewJobStore(database)
	a.Runs = db.NewRunStore(database)
	a.Logger.Info("connected to database", "dialect", database.Dialect())
	return nil
}

func (a *App) buildRegistry(specs []operations.Spec) error {
	a.Registry = operations.NewRegistry()
	if err := operations.RegisterServices(a.Registry, a.Config.Services, &operations.HTTPOptions{
		Timeout: a.Config.ServiceTimeout(),
	}); err != nil {
		return fmt.Errorf("failed to register services: %w", err)
	}
	for _, spec := range specs {
		if err := a.Registry.Register(spec); err != nil {
			return fmt.Errorf("failed to register operation %s: %w", spec.Name, err)
		}
	}
	return nil
}

func (a *App) buildGraph() error {
	var err error
	if a.Config.Graph != "" {
		a.Graph, err = graph.LoadTemplate(a.Config.Graph)
	} else {
		a.Graph, err = graph.Default()
	}
	if err != nil {
		return fmt.Errorf("failed to load pipeline graph: %w", err)
	}
	return nil
}

func openArtifacts(ctx context.Context, cfg config.Config) (artifacts.Store, error) {
	if !cfg.ObjectStore.Enabled() {
		store, err := artifacts.NewFileStore(cfg.ScenariosDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open scenarios directory: %w", err)
		}
		return store, nil
	}

	store, err := artifacts.NewMinIOStore(artifacts.MinIOConfig{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
		Bucket:    cfg.ObjectStore.Bucket,
		UseSSL:    cfg.ObjectStore.UseSSL,
		Prefix:    cfg.ObjectStore.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}
	if err := store.CheckBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// warnUnservedStages logs stages whose operation nothing can run. They fail
// at run time with an unknown-operation error.
func (a *App) warnUnservedStages() {
	for _, stage := range a.Graph.Stages() {
		if !a.Registry.Has(stage.Operation) {
			a.Logger.Warn("no service configured for stage", "stage", stage.Name, "operation", stage.Operation)
		}
	}
}

// Scenarios discovers scenarios in the artifact store and selects ids from
// them; no ids selects all.
func (a *App) Scenarios(ctx context.Context, ids []string) ([]pipeline.Scenario, error) {
	all, err := scenarios.Discover(ctx, a.Artifacts, a.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to discover scenarios: %w", err)
	}
	selected, err := scenarios.Select(all, ids)
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.Scenario, len(selected))
	for i, sc := range selected {
		out[i] = sc
	}
	return out, nil
}

// Metadata describes this deployment for reports.
func (a *App) Metadata(version string) report.Metadata {
	return report.Metadata{
		Service:  ServiceName,
		Version:  version,
		Graph:    a.Graph.Name(),
		Services: a.Config.Services,
	}
}

// Close drains the worker pool until ctx is done, then closes the database.
func (a *App) Close(ctx context.Context) error {
	if a.Bridge != nil {
		a.Bridge.Shutdown(ctx)
	}
	var errs []error
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
