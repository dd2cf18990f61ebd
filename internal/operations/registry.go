// Package operations maps operation names to the callables that perform
// extraction and profiling work, together with their argument and result schemas.
package operations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jonathan/extraction-pipeline/internal/schemas"
)

// ErrUnknownOperation is returned for names that were never registered.
var ErrUnknownOperation = errors.New("unknown operation")

// Func performs one operation. The result is opaque to the job machinery.
type Func func(ctx context.Context, args map[string]any) (map[string]any, error)

// Spec declares an operation. Schemas are optional JSON Schema documents.
type Spec struct {
	Name           string
	ArgumentSchema string
	ResultSchema   string
	Func           Func
}

// ArgumentError reports arguments rejected at dispatch time.
type ArgumentError struct {
	Operation string
	Cause     error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Operation, e.Cause)
}

func (e *ArgumentError) Unwrap() error {
	return e.Cause
}

// ResultError reports a result that does not match the declared schema.
type ResultError struct {
	Operation string
	Cause     error
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("invalid result from %s: %v", e.Operation, e.Cause)
}

func (e *ResultError) Unwrap() error {
	return e.Cause
}

type entry struct {
	spec   Spec
	args   *schemas.Schema
	result *schemas.Schema
}

// Registry is a concurrency-safe set of operations.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]entry)}
}

// Register adds an operation. Names must be unique and schemas must compile.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("operation name is empty")
	}
	if spec.Func == nil {
		return fmt.Errorf("operation %s has no function", spec.Name)
	}

	e := entry{spec: spec}
	var err error
	if spec.ArgumentSchema != "" {
		if e.args, err = schemas.Compile(spec.Name+".arguments", spec.ArgumentSchema); err != nil {
			return err
		}
	}
	if spec.ResultSchema != "" {
		if e.result, err = schemas.Compile(spec.Name+".result", spec.ResultSchema); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[spec.Name]; exists {
		return fmt.Errorf("operation %s is already registered", spec.Name)
	}
	r.ops[spec.Name] = e
	return nil
}

// MustRegister is Register for static setup; it panics on error.
func (r *Registry) MustRegister(spec Spec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Names returns the registered operation names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateArguments checks args against the operation's argument schema.
func (r *Registry) ValidateArguments(name string, args map[string]any) error {
	e, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	if e.args == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := e.args.Validate(args); err != nil {
		return &ArgumentError{Operation: name, Cause: err}
	}
	return nil
}

// Invoke runs the operation and validates its result.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	result, err := e.spec.Func(ctx, args)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = map[string]any{}
	}
	if e.result != nil {
		if err := e.result.Validate(result); err != nil {
			return nil, &ResultError{Operation: name, Cause: err}
		}
	}
	return result, nil
}

func (r *Registry) lookup(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.ops[name]
	return e, ok
}
