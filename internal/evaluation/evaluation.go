// Package evaluation scores stage results against ground truth. Scores are
// advisory: they never change a stage's status.
package evaluation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jonathan/extraction-pipeline/internal/types"
)

// Evaluator compares an operation result against a ground-truth document.
type Evaluator interface {
	Evaluate(ctx context.Context, result, truth map[string]any) (types.Accuracy, error)
}

// Func adapts a function to the Evaluator interface.
type Func func(ctx context.Context, result, truth map[string]any) (types.Accuracy, error)

// Evaluate calls f.
func (f Func) Evaluate(ctx context.Context, result, truth map[string]any) (types.Accuracy, error) {
	return f(ctx, result, truth)
}

// Error records a failed or panicking evaluator.
type Error struct {
	Stage string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("evaluator for stage %s failed: %v", e.Stage, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Safe runs ev and converts both returned errors and panics into *Error.
func Safe(ctx context.Context, stage string, ev Evaluator, result, truth map[string]any) (acc types.Accuracy, err error) {
	defer func() {
		if r := recover(); r != nil {
			acc = types.Accuracy{}
			err = &Error{Stage: stage, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	acc, err = ev.Evaluate(ctx, result, truth)
	if err != nil {
		return types.Accuracy{}, &Error{Stage: stage, Cause: err}
	}
	return acc, nil
}

// Registry maps stage names to evaluators.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[string]Evaluator)}
}

// Register sets the evaluator for a stage, replacing any previous one.
func (r *Registry) Register(stage string, ev Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[stage] = ev
}

// Lookup returns the evaluator for a stage.
func (r *Registry) Lookup(stage string) (Evaluator, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.evaluators[stage]
	return ev, ok
}

// Stages returns the stages with a registered evaluator, sorted.
func (r *Registry) Stages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.evaluators))
	for name := range r.evaluators {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Defaults returns the evaluators for the built-in extraction stages.
func Defaults() *Registry {
	r := NewRegistry()
	r.Register("variable_extraction", KeySetEvaluator{Paths: []string{"variables[].name"}})
	amr := KeySetEvaluator{Paths: []string{"model.states[].id", "model.transitions[].id"}}
	r.Register("code_to_amr", amr)
	r.Register("equations_to_amr", amr)
	return r
}
