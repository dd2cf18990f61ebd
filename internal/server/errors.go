package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/extraction-pipeline/internal/jobs"
	"github.com/jonathan/extraction-pipeline/internal/operations"
	"github.com/jonathan/extraction-pipeline/internal/queue"
	"github.com/jonathan/extraction-pipeline/internal/scenarios"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrRunNotFound indicates a pipeline run id that has no record
type ErrRunNotFound struct {
	RunID string
}

func (e *ErrRunNotFound) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validation *ErrValidation
		runMissing *ErrRunNotFound
		argErr     *operations.ArgumentError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &argErr), errors.Is(err, jobs.ErrIdentityRequired):
		return http.StatusBadRequest
	case errors.As(err, &runMissing),
		errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, operations.ErrUnknownOperation),
		errors.Is(err, scenarios.ErrUnknownScenario):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
