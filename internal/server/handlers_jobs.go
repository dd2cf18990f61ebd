package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jonathan/extraction-pipeline/internal/jobs"
	"github.com/jonathan/extraction-pipeline/internal/types"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 10 << 20

// handleSubmitJob handles POST /jobs/{operation}. The body is a flat JSON
// object of operation arguments plus control options. The job identity is the
// job_id option when given, a fingerprint of the arguments when dedupe is
// set, and a fresh id otherwise.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	operation := r.PathValue("operation")

	body := map[string]any{}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, &ErrValidation{Field: "body", Message: "must be a JSON object"})
		return
	}

	opts, args, err := types.SplitControlOptions(body)
	if err != nil {
		s.writeError(w, &ErrValidation{Field: "options", Message: err.Error()})
		return
	}

	var identity jobs.Identity
	switch {
	case opts.JobID != "":
		identity = jobs.ExplicitID(opts.JobID)
	case opts.Dedupe:
		identity, err = jobs.Fingerprint(operation, args)
		if err != nil {
			s.writeError(w, &ErrValidation{Field: "body", Message: err.Error()})
			return
		}
	default:
		identity = jobs.Fresh()
	}

	outcome, err := s.jobs.Submit(r.Context(), jobs.SubmitRequest{
		Operation: operation,
		Arguments: args,
		Identity:  identity,
		Options:   opts.SubmitOptions,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if outcome.Status.IsFinal() {
		status = http.StatusOK
	}
	s.jsonResponse(w, status, outcome)
}

// handleGetJob handles GET /jobs/{id}. A terminal job's result is delivered
// once; later lookups return 404.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.jobs.FetchStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, outcome)
}
