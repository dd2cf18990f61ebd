package wiring

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/extraction-pipeline/internal/config"
	"github.com/jonathan/extraction-pipeline/internal/logging"
	"github.com/jonathan/extraction-pipeline/internal/operations"
	"github.com/jonathan/extraction-pipeline/internal/pipeline"
	"github.com/jonathan/extraction-pipeline/internal/scenarios"
	"github.com/jonathan/extraction-pipeline/internal/types"
)

const miniGraph = `name: mini
stages:
  - name: pdf_extraction
    timeout: 5s
  - name: variable_extraction
    timeout: 5s
    dependencies: [pdf_extraction]
`

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	scenarioDir := filepath.Join(root, "scenarios")
	writeFile(t, scenarioDir, "sir/paper.pdf", "%PDF")
	writeFile(t, scenarioDir, "sir/ground_truth/variable_extraction.json", `{"variables": [{"name": "S"}, {"name": "I"}]}`)
	writeFile(t, scenarioDir, "seir/dataset.csv", "t,S\n0,1\n")

	cfg := config.Config{
		ScenariosDir:   scenarioDir,
		Graph:          writeFile(t, root, "mini.yaml", miniGraph),
		RecheckDelayMs: 5,
	}
	return cfg.MergeWithDefaults(config.Defaults())
}

func testOperations() []operations.Spec {
	return []operations.Spec{
		{Name: "pdf_extraction", Func: func(_ context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"text": "S and I interact via " + args["document"].(string)}, nil
		}},
		{Name: "variable_extraction", Func: func(context.Context, map[string]any) (map[string]any, error) {
			return map[string]any{"variables": []any{map[string]any{"name": "S"}, map[string]any{"name": "I"}}}, nil
		}},
	}
}

func build(t *testing.T, cfg config.Config, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard()), WithOperations(testOperations()...)}, opts...)
	app, err := Build(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, app.Close(ctx))
	})
	return app
}

func TestBuild_InMemoryEndToEnd(t *testing.T) {
	var events []pipeline.ProgressEvent
	app := build(t, testConfig(t), WithProgress(func(ev pipeline.ProgressEvent) {
		events = append(events, ev)
	}))

	assert.Nil(t, app.DB)
	assert.Nil(t, app.Runs)
	assert.Equal(t, "mini", app.Graph.Name())

	selected, err := app.Scenarios(context.Background(), []string{"sir"})
	require.NoError(t, err)
	runs := app.Executor.RunAll(context.Background(), selected)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.True(t, run.OverallSuccess)
	assert.Equal(t, types.StageSuccess, run.Stages["pdf_extraction"].Status)
	vars := run.Stages["variable_extraction"]
	require.Equal(t, types.StageSuccess, vars.Status)
	require.NotNil(t, vars.Accuracy)
	assert.InDelta(t, 1.0, vars.Accuracy.Score, 1e-9)
	assert.Len(t, events, 2)
}

func TestBuild_InapplicableScenario(t *testing.T) {
	app := build(t, testConfig(t))

	selected, err := app.Scenarios(context.Background(), []string{"seir"})
	require.NoError(t, err)
	run := app.Executor.Run(context.Background(), selected[0])

	assert.True(t, run.OverallSuccess)
	assert.Equal(t, types.StageNotApplicable, run.Stages["pdf_extraction"].Status)
	assert.Equal(t, types.StageNotApplicable, run.Stages["variable_extraction"].Status)
}

func TestBuild_SQLitePersistsRuns(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabaseURL = "sqlite://" + filepath.Join(t.TempDir(), "pipeline.db")
	app := build(t, cfg)

	require.NotNil(t, app.DB)
	require.NotNil(t, app.Runs)

	all, err := app.Scenarios(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	runs := app.Executor.RunAll(context.Background(), all)
	require.Len(t, runs, 2)

	stored, err := app.Runs.GetRun(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, runs[0].ScenarioID, stored.ScenarioID)

	summaries, err := app.Runs.ListRuns(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
}

func TestScenarios_Unknown(t *testing.T) {
	app := build(t, testConfig(t))
	_, err := app.Scenarios(context.Background(), []string{"ghost"})
	assert.ErrorIs(t, err, scenarios.ErrUnknownScenario)
}

func TestMetadata(t *testing.T) {
	cfg := testConfig(t)
	cfg.Services = map[string]string{"code_to_amr": "http://localhost:9000/code"}
	app := build(t, cfg)

	meta := app.Metadata("1.2.3")
	assert.Equal(t, ServiceName, meta.Service)
	assert.Equal(t, "1.2.3", meta.Version)
	assert.Equal(t, "mini", meta.Graph)
	assert.Equal(t, cfg.Services, meta.Services)
	assert.True(t, app.Registry.Has("code_to_amr"))
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad database url", func(c *config.Config) { c.DatabaseURL = "mysql://nope" }},
		{"missing graph", func(c *config.Config) { c.Graph = filepath.Join(t.TempDir(), "missing.yaml") }},
		{"missing scenarios dir", func(c *config.Config) { c.ScenariosDir = filepath.Join(t.TempDir(), "missing") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			app, err := Build(context.Background(), cfg, WithLogger(logging.Discard()))
			assert.Error(t, err)
			assert.Nil(t, app)
		})
	}
}

func TestBuild_DuplicateOperation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Services = map[string]string{"pdf_extraction": "http://localhost:9000/pdf"}
	_, err := Build(context.Background(), cfg, WithLogger(logging.Discard()), WithOperations(testOperations()...))
	assert.Error(t, err)
}
