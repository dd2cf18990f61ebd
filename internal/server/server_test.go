package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/extraction-pipeline/internal/config"
	"github.com/jonathan/extraction-pipeline/internal/db"
	"github.com/jonathan/extraction-pipeline/internal/jobs"
	"github.com/jonathan/extraction-pipeline/internal/jobstore"
	"github.com/jonathan/extraction-pipeline/internal/logging"
	"github.com/jonathan/extraction-pipeline/internal/operations"
	"github.com/jonathan/extraction-pipeline/internal/pipeline"
	"github.com/jonathan/extraction-pipeline/internal/pipeline/graph"
	"github.com/jonathan/extraction-pipeline/internal/queue"
	"github.com/jonathan/extraction-pipeline/internal/report"
	"github.com/jonathan/extraction-pipeline/internal/scenarios"
	"github.com/jonathan/extraction-pipeline/internal/server/ratelimit"
	"github.com/jonathan/extraction-pipeline/internal/types"
)

const textSchema = `{
	"type": "object",
	"required": ["text"],
	"properties": {"text": {"type": "string"}}
}`

type testScenario struct{ id string }

func (s testScenario) ID() string { return s.id }

func (s testScenario) Applicable(string) bool { return true }

func (s testScenario) GroundTruth(context.Context, string) (map[string]any, bool, error) {
	return nil, false, nil
}

func (s testScenario) Arguments(_ context.Context, stage string, _ map[string]types.StageOutcome) (map[string]any, error) {
	return map[string]any{"text": s.id + "/" + stage}, nil
}

type fakeHistory struct {
	runs map[string]types.PipelineRun
}

func (h *fakeHistory) GetRun(_ context.Context, id string) (*types.PipelineRun, error) {
	run, ok := h.runs[id]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (h *fakeHistory) ListRuns(_ context.Context, scenarioID string, limit int) ([]db.RunSummary, error) {
	var out []db.RunSummary
	for _, run := range h.runs {
		if scenarioID != "" && run.ScenarioID != scenarioID {
			continue
		}
		out = append(out, db.RunSummary{ID: run.ID, ScenarioID: run.ScenarioID, OverallSuccess: run.OverallSuccess})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type testEnv struct {
	server  *Server
	handler http.Handler
	release chan struct{}
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	release := make(chan struct{})

	registry := operations.NewRegistry()
	registry.MustRegister(operations.Spec{
		Name:           "echo",
		ArgumentSchema: textSchema,
		Func: func(_ context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"echo": args["text"]}, nil
		},
	})
	registry.MustRegister(operations.Spec{
		Name: "slow",
		Func: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			select {
			case <-release:
				return map[string]any{"done": true}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	store := jobstore.NewMemoryStore()
	bridge := queue.NewBridge(store, registry, queue.WithWorkers(2), queue.WithLogger(logging.Discard()))
	ledger := jobs.NewLedger(store, bridge, jobs.WithLogger(logging.Discard()))
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		bridge.Shutdown(context.Background())
	})

	g, err := graph.New("test", []graph.Stage{{Name: "extract", Operation: "echo"}}, nil)
	require.NoError(t, err)
	executor := pipeline.NewExecutor(g, ledger,
		pipeline.WithLogger(logging.Discard()),
		pipeline.WithRecheckDelay(5*time.Millisecond),
		pipeline.WithStageTimeout(5*time.Second),
	)

	known := map[string]bool{"s1": true, "s2": true}
	cfg := Config{
		Jobs:     ledger,
		Executor: executor,
		Scenarios: func(_ context.Context, ids []string) ([]pipeline.Scenario, error) {
			if len(ids) == 0 {
				ids = []string{"s1", "s2"}
			}
			out := make([]pipeline.Scenario, 0, len(ids))
			for _, id := range ids {
				if !known[id] {
					return nil, fmt.Errorf("%w: %s", scenarios.ErrUnknownScenario, id)
				}
				out = append(out, testScenario{id: id})
			}
			return out, nil
		},
		Metadata: report.Metadata{Service: "pipeline_agent", Version: "test"},
		Logger:   logging.Discard(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)
	return &testEnv{server: s, handler: s.Handler(), release: release}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHealthAndGraph(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])

	w = env.do(t, http.MethodGet, "/graph", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "test", body["name"])
	assert.Equal(t, []any{"extract"}, body["order"])
}

func TestSubmitJob_SynchronousDeliversOnce(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/jobs/echo", map[string]any{
		"text":          "hello",
		"synchronous":   true,
		"timeout":       5,
		"recheck_delay": 0.005,
		"job_id":        "job-1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	outcome := decode[types.SubmissionOutcome](t, w)
	assert.Equal(t, "job-1", outcome.ID)
	assert.Equal(t, types.JobStatusFinished, outcome.Status)
	assert.Equal(t, map[string]any{"echo": "hello"}, outcome.Result)

	w = env.do(t, http.MethodGet, "/jobs/job-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitJob_AsyncThenFetch(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/jobs/slow", map[string]any{"job_id": "slow-1"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	outcome := decode[types.SubmissionOutcome](t, w)
	assert.False(t, outcome.Status.IsFinal())
	assert.Nil(t, outcome.Result)

	w = env.do(t, http.MethodGet, "/jobs/slow-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[types.SubmissionOutcome](t, w).Status.IsFinal())

	close(env.release)

	var final types.SubmissionOutcome
	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/jobs/slow-1", nil)
		if w.Code != http.StatusOK {
			return false
		}
		final = decode[types.SubmissionOutcome](t, w)
		return final.Status == types.JobStatusFinished
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, map[string]any{"done": true}, final.Result)

	w = env.do(t, http.MethodGet, "/jobs/slow-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitJob_DedupeUsesFingerprint(t *testing.T) {
	env := newTestEnv(t, nil)

	first := decode[types.SubmissionOutcome](t, env.do(t, http.MethodPost, "/jobs/slow", map[string]any{"dedupe": true, "x": 1}))
	second := decode[types.SubmissionOutcome](t, env.do(t, http.MethodPost, "/jobs/slow", map[string]any{"dedupe": true, "x": 1}))
	other := decode[types.SubmissionOutcome](t, env.do(t, http.MethodPost, "/jobs/slow", map[string]any{"x": 1}))

	expected, err := jobs.Fingerprint("slow", map[string]any{"x": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, expected.ID(), first.ID)
	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestSubmitJob_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"unknown operation", "/jobs/nope", map[string]any{}, http.StatusNotFound},
		{"invalid arguments", "/jobs/echo", map[string]any{"text": 5}, http.StatusBadRequest},
		{"bad option", "/jobs/echo", map[string]any{"text": "x", "synchronous": "maybe"}, http.StatusBadRequest},
		{"not an object", "/jobs/echo", []int{1, 2}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}
}

func TestGetJob_Unknown(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRun(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/runs", map[string]any{"scenarios": []string{"s2"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rep := decode[report.Report](t, w)
	assert.Equal(t, "test", rep.Metadata.Graph)
	assert.Equal(t, 1, rep.Summary.Total)
	require.Len(t, rep.Scenarios, 1)
	assert.Equal(t, "s2", rep.Scenarios[0].ScenarioID)
	assert.True(t, rep.Scenarios[0].OverallSuccess)
	assert.Equal(t, types.StageSuccess, rep.Scenarios[0].Stages["extract"].Status)

	w = env.do(t, http.MethodPost, "/runs", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[report.Report](t, w).Summary.Total)
}

func TestCreateRun_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/runs", map[string]any{"scenarios": []string{"ghost"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/runs", map[string]any{"scenarios": []string{"s1", "s1"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/runs", map[string]any{"scenarios": []string{""}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunHistory(t *testing.T) {
	history := &fakeHistory{runs: map[string]types.PipelineRun{
		"r1": {ID: "r1", ScenarioID: "s1", OverallSuccess: true},
	}}
	env := newTestEnv(t, func(c *Config) { c.Runs = history })

	w := env.do(t, http.MethodGet, "/runs?scenario=s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])

	w = env.do(t, http.MethodGet, "/runs/r1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s1", decode[types.PipelineRun](t, w).ScenarioID)

	w = env.do(t, http.MethodGet, "/runs/r9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/runs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunHistory_NotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/runs", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAuthentication(t *testing.T) {
	jwtService := NewJWTService(&config.JWTConfig{Secret: "a-sufficiently-long-secret", Issuer: "pipeline_agent", TTL: time.Hour})
	env := newTestEnv(t, func(c *Config) { c.JWT = jwtService })

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/jobs/anything", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := jwtService.GenerateToken("ci", 0)
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/jobs/anything", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit = &ratelimit.Config{
			Enabled: true,
			EndpointConfigs: []ratelimit.EndpointConfig{
				{Path: "/runs", Method: http.MethodPost, Limit: 1, Window: time.Hour},
			},
		}
	})
	t.Cleanup(env.server.rateLimiter.Stop)

	w := env.do(t, http.MethodPost, "/runs", map[string]any{"scenarios": []string{"s1"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = env.do(t, http.MethodPost, "/runs", map[string]any{"scenarios": []string{"s1"}})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodOptions, "/jobs/echo", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&ErrValidation{Field: "f", Message: "m"}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", &operations.ArgumentError{Operation: "x", Cause: errors.New("bad")}), http.StatusBadRequest},
		{jobs.ErrIdentityRequired, http.StatusBadRequest},
		{fmt.Errorf("%w: x", jobs.ErrJobNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", operations.ErrUnknownOperation), http.StatusNotFound},
		{fmt.Errorf("%w: x", scenarios.ErrUnknownScenario), http.StatusNotFound},
		{&ErrRunNotFound{RunID: "r"}, http.StatusNotFound},
		{queue.ErrClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}
