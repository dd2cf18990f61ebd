// Package scenarios discovers scenario directories in an artifact store and
// supplies their stage applicability, arguments and ground truth.
package scenarios

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/extraction-pipeline/internal/artifacts"
	"github.com/jonathan/extraction-pipeline/internal/types"
)

// Layout names within a scenario directory
const (
	MetadataFile   = "scenario.yaml"
	GroundTruthDir = "ground_truth"
)

// ErrUnknownScenario is returned when a requested scenario does not exist.
var ErrUnknownScenario = errors.New("unknown scenario")

// Metadata is the optional scenario.yaml content.
type Metadata struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// Scenario is one directory of inputs.
type Scenario struct {
	id          string
	Metadata    Metadata
	store       artifacts.Store
	rules       Rules
	inputs      map[Input]bool
	groundTruth map[string]string
}

// ID returns the directory name.
func (s *Scenario) ID() string {
	return s.id
}

// Has reports whether the scenario provides an input.
func (s *Scenario) Has(in Input) bool {
	return s.inputs[in]
}

// Inputs returns the inputs present, in canonical order.
func (s *Scenario) Inputs() []Input {
	var out []Input
	for _, in := range Inputs {
		if s.inputs[in] {
			out = append(out, in)
		}
	}
	return out
}

// Applicable evaluates the stage's rule against the discovered inputs.
func (s *Scenario) Applicable(stage string) bool {
	rule, ok := s.rules[stage]
	if !ok {
		return false
	}
	return rule.Satisfied(s.Has)
}

// GroundTruth reads ground_truth/<stage>.json when present.
func (s *Scenario) GroundTruth(ctx context.Context, stage string) (map[string]any, bool, error) {
	key, ok := s.groundTruth[stage]
	if !ok {
		return nil, false, nil
	}
	data, err := s.store.Read(ctx, key)
	if err != nil {
		return nil, false, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("failed to parse ground truth %s: %w", key, err)
	}
	return doc, true, nil
}

// Arguments builds the operation arguments for a built-in stage.
func (s *Scenario) Arguments(ctx context.Context, stage string, upstream map[string]types.StageOutcome) (map[string]any, error) {
	args := map[string]any{"scenario": s.id}

	switch stage {
	case "pdf_extraction":
		args["document"] = s.uri(Paper)
	case "variable_extraction":
		text, err := upstreamField(upstream, "pdf_extraction", "text")
		if err != nil {
			return nil, err
		}
		args["text"] = text
	case "code_to_amr":
		args["code"] = s.uri(Code)
	case "equations_to_amr":
		lines, err := s.equations(ctx)
		if err != nil {
			return nil, err
		}
		args["equations"] = lines
	case "profile_model":
		args["paper"] = s.uri(Paper)
		args["code"] = s.uri(Code)
	case "link_amr":
		amr, ok := firstResult(upstream, "code_to_amr", "equations_to_amr")
		if !ok {
			return nil, errors.New("no AMR available from code_to_amr or equations_to_amr")
		}
		variables, ok := firstResult(upstream, "variable_extraction")
		if !ok {
			return nil, errors.New("no variables available from variable_extraction")
		}
		args["amr"] = amr
		args["variables"] = variables
	case "profile_dataset":
		args["dataset"] = s.uri(Dataset)
		if s.Has(Paper) {
			args["paper"] = s.uri(Paper)
		}
	default:
		return nil, fmt.Errorf("no argument builder for stage %s", stage)
	}
	return args, nil
}

func (s *Scenario) uri(in Input) string {
	return s.store.URI(artifacts.Join(s.id, string(in)))
}

// equations returns the non-blank lines of equations.txt.
func (s *Scenario) equations(ctx context.Context) ([]any, error) {
	data, err := s.store.Read(ctx, artifacts.Join(s.id, string(Equations)))
	if err != nil {
		return nil, err
	}
	var lines []any
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%s is empty", Equations)
	}
	return lines, nil
}

func upstreamField(upstream map[string]types.StageOutcome, stage, field string) (string, error) {
	result, ok := firstResult(upstream, stage)
	if !ok {
		return "", fmt.Errorf("no result from %s", stage)
	}
	value, ok := result[field].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("result of %s has no %q", stage, field)
	}
	return value, nil
}

func firstResult(upstream map[string]types.StageOutcome, stages ...string) (map[string]any, bool) {
	for _, stage := range stages {
		outcome, ok := upstream[stage]
		if !ok || outcome.Status != types.StageSuccess {
			continue
		}
		if result, ok := outcome.Result(); ok {
			return result, true
		}
	}
	return nil, false
}

// Load reads one scenario directory.
func Load(ctx context.Context, store artifacts.Store, id string, rules Rules) (*Scenario, error) {
	keys, err := store.List(ctx, id+"/")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, id)
	}
	if rules == nil {
		rules = DefaultRules()
	}

	sc := &Scenario{
		id:          id,
		Metadata:    Metadata{Name: id},
		store:       store,
		rules:       rules,
		inputs:      make(map[Input]bool),
		groundTruth: make(map[string]string),
	}
	for _, key := range keys {
		rel := strings.TrimPrefix(key, id+"/")
		switch {
		case rel == MetadataFile:
			if err := sc.loadMetadata(ctx, key); err != nil {
				return nil, err
			}
		case path.Dir(rel) == GroundTruthDir && path.Ext(rel) == ".json":
			sc.groundTruth[strings.TrimSuffix(path.Base(rel), ".json")] = key
		default:
			for _, in := range Inputs {
				if rel == string(in) {
					sc.inputs[in] = true
				}
			}
		}
	}
	return sc, nil
}

func (s *Scenario) loadMetadata(ctx context.Context, key string) error {
	data, err := s.store.Read(ctx, key)
	if err != nil {
		return err
	}
	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("failed to parse %s: %w", key, err)
	}
	if meta.Name == "" {
		meta.Name = s.id
	}
	s.Metadata = meta
	return nil
}

// Discover loads every top-level directory that holds at least one input.
func Discover(ctx context.Context, store artifacts.Store, rules Rules) ([]*Scenario, error) {
	keys, err := store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []*Scenario
	for _, id := range artifacts.TopLevel(keys) {
		sc, err := Load(ctx, store, id, rules)
		if err != nil {
			return nil, err
		}
		if len(sc.Inputs()) == 0 {
			continue
		}
		out = append(out, sc)
	}
	return out, nil
}

// Select returns the scenarios named in ids, in first-mention order. Repeated
// ids are dropped. An empty ids selects everything.
func Select(all []*Scenario, ids []string) ([]*Scenario, error) {
	if len(ids) == 0 {
		return all, nil
	}
	byID := make(map[string]*Scenario, len(all))
	for _, sc := range all {
		byID[sc.ID()] = sc
	}
	out := make([]*Scenario, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		sc, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, sc)
	}
	return out, nil
}
