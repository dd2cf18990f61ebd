package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonathan/extraction-pipeline/internal/db"
	"github.com/jonathan/extraction-pipeline/internal/report"
)

// RunRequest selects scenarios for POST /runs. No scenarios means all.
type RunRequest struct {
	Scenarios []string `json:"scenarios" validate:"omitempty,unique,dive,required"`
}

var requestValidator = validator.New()

// handleCreateRun runs the pipeline for the requested scenarios and responds
// with the aggregated report.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, &ErrValidation{Field: "body", Message: "must be a JSON object"})
		return
	}
	if err := requestValidator.Struct(req); err != nil {
		s.writeError(w, &ErrValidation{Field: "scenarios", Message: "must be distinct, non-empty scenario ids"})
		return
	}

	selected, err := s.scenarios(r.Context(), req.Scenarios)
	if err != nil {
		s.writeError(w, err)
		return
	}

	runs := s.executor.RunAll(r.Context(), selected)
	meta := s.meta
	meta.GeneratedAt = time.Now().UTC()
	s.jsonResponse(w, http.StatusOK, report.Aggregate(meta, s.executor.Graph(), runs))
}

// handleListRuns handles GET /runs?scenario=&limit=.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := db.DefaultRunListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, &ErrValidation{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), r.URL.Query().Get("scenario"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []db.RunSummary{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleGetRun handles GET /runs/{id}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if run == nil {
		s.writeError(w, &ErrRunNotFound{RunID: id})
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// handleGraph describes the pipeline stages, edges and execution order.
func (s *Server) handleGraph(w http.ResponseWriter, _ *http.Request) {
	g := s.executor.Graph()
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"name":   g.Name(),
		"stages": g.Stages(),
		"edges":  g.Edges(),
		"order":  g.Order(),
	})
}
