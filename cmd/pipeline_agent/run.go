package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonathan/extraction-pipeline/internal/config"
	"github.com/jonathan/extraction-pipeline/internal/logging"
	"github.com/jonathan/extraction-pipeline/internal/observability"
	"github.com/jonathan/extraction-pipeline/internal/report"
	"github.com/jonathan/extraction-pipeline/internal/wiring"
	"github.com/spf13/cobra"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run the extraction pipeline over scenarios",
	Long: `Runs every applicable stage of the pipeline for each scenario, in dependency order, and writes a JSON report.

Configuration can be loaded from a JSON file using --config. Environment variables and command-line flags override config file values.`,
	RunE: runPipelineCmd,
}

var (
	runConfigPath   string
	runScenariosDir string
	runScenarios    []string
	runGraph        string
	runDatabaseURL  string
	runWorkers      int
	runConcurrency  int
	runOutput       string
	runForceRestart bool
	runVerbose      bool
)

func init() {
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	runCommand.Flags().StringVarP(&runScenariosDir, "scenarios-dir", "d", "", "Directory containing one subdirectory per scenario")
	runCommand.Flags().StringArrayVarP(&runScenarios, "scenario", "s", nil, "Scenario to run (repeatable; default all)")
	runCommand.Flags().StringVarP(&runGraph, "graph", "g", "", "Path to a workflow template (default built-in)")
	runCommand.Flags().StringVar(&runDatabaseURL, "db-url", "", "postgres:// or sqlite:// URL for job and run persistence (optional, defaults to DATABASE_URL env var)")
	runCommand.Flags().IntVar(&runWorkers, "workers", 0, "Number of job workers")
	runCommand.Flags().IntVar(&runConcurrency, "concurrency", 0, "Number of scenarios run at once")
	runCommand.Flags().StringVarP(&runOutput, "output", "o", "", "Path of the JSON report")
	runCommand.Flags().BoolVar(&runForceRestart, "force-restart", false, "Discard existing jobs instead of reusing them")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print detailed debug information")

	rootCmd.AddCommand(runCommand)
}

// runOverrides applies only the flags that were explicitly set.
func runOverrides(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("scenarios-dir") {
			cfg.ScenariosDir = runScenariosDir
		}
		if flags.Changed("graph") {
			cfg.Graph = runGraph
		}
		if flags.Changed("db-url") {
			cfg.DatabaseURL = runDatabaseURL
		}
		if flags.Changed("workers") {
			cfg.Workers = runWorkers
		}
		if flags.Changed("concurrency") {
			cfg.Concurrency = runConcurrency
		}
		if flags.Changed("output") {
			cfg.ReportPath = runOutput
		}
		if flags.Changed("force-restart") {
			cfg.ForceRestart = runForceRestart
		}
	}
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(runConfigPath, os.Getenv, runOverrides(cmd))
	if err != nil {
		return err
	}
	initLogging(cfg, runVerbose)
	logger := logging.New("pipeline_agent")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := observability.NewPrinter(cmd.OutOrStdout())
	app, err := wiring.Build(ctx, cfg, wiring.WithLogger(logger), wiring.WithProgress(out.PrintProgress))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			logger.Warn("failed to close", "error", err)
		}
	}()

	selected, err := app.Scenarios(ctx, runScenarios)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return fmt.Errorf("no scenarios found")
	}

	out.PrintGraph(app.Graph)
	runs := app.Executor.RunAll(ctx, selected)
	for _, run := range runs {
		out.PrintRun(run)
	}

	meta := app.Metadata(version)
	meta.GeneratedAt = time.Now().UTC()
	rep := report.Aggregate(meta, app.Graph, runs)
	if err := report.WriteJSON(cfg.ReportPath, rep); err != nil {
		return err
	}
	out.PrintReport(rep)
	logger.Info("wrote report", "path", cfg.ReportPath, "scenarios", rep.Summary.Total, "failed", rep.Summary.Failed)

	if ctx.Err() != nil {
		return fmt.Errorf("interrupted: %w", ctx.Err())
	}
	if rep.Summary.Failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", rep.Summary.Failed, rep.Summary.Total)
	}
	return nil
}
