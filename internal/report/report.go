// Package report merges pipeline runs into one serializable report.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jonathan/extraction-pipeline/internal/pipeline/graph"
	"github.com/jonathan/extraction-pipeline/internal/types"
)

// Metadata describes the service that produced the report.
type Metadata struct {
	Service     string            `json:"service"`
	Version     string            `json:"version"`
	Graph       string            `json:"graph"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Services    map[string]string `json:"services,omitempty"`
}

// Summary counts scenarios by overall outcome.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Stages counts stage outcomes by stage and status.
	Stages map[string]map[types.StageStatus]int `json:"stages"`
}

// StageEntry is one stage of one scenario. ElapsedTime is in seconds.
type StageEntry struct {
	Status      types.StageStatus `json:"status"`
	ElapsedTime *float64          `json:"elapsedTime"`
	Accuracy    *types.Accuracy   `json:"accuracy"`
	Raw         any               `json:"raw"`
	JobID       string            `json:"jobId,omitempty"`
	BlockedBy   []string          `json:"blockedBy,omitempty"`
}

// ScenarioEntry is the report for one scenario.
type ScenarioEntry struct {
	ScenarioID     string                `json:"scenarioId"`
	RunID          string                `json:"runId"`
	OverallSuccess bool                  `json:"overallSuccess"`
	Order          []string              `json:"order"`
	Stages         map[string]StageEntry `json:"stages"`
}

// Report is the aggregated result of a batch of runs.
type Report struct {
	Metadata  Metadata        `json:"metadata"`
	Summary   Summary         `json:"summary"`
	Edges     []graph.Edge    `json:"edges"`
	Scenarios []ScenarioEntry `json:"scenarios"`
}

// Aggregate builds a report. Scenarios are sorted by id; g may be nil.
func Aggregate(meta Metadata, g *graph.Graph, runs []types.PipelineRun) Report {
	r := Report{
		Metadata:  meta,
		Summary:   Summary{Stages: make(map[string]map[types.StageStatus]int)},
		Edges:     []graph.Edge{},
		Scenarios: make([]ScenarioEntry, 0, len(runs)),
	}
	if g != nil {
		r.Edges = g.Edges()
		if r.Metadata.Graph == "" {
			r.Metadata.Graph = g.Name()
		}
	}

	for _, run := range runs {
		entry := ScenarioEntry{
			ScenarioID:     run.ScenarioID,
			RunID:          run.ID,
			OverallSuccess: run.OverallSuccess,
			Order:          run.Order,
			Stages:         make(map[string]StageEntry, len(run.Stages)),
		}
		for name, outcome := range run.Stages {
			entry.Stages[name] = stageEntry(outcome)
			counts, ok := r.Summary.Stages[name]
			if !ok {
				counts = make(map[types.StageStatus]int)
				r.Summary.Stages[name] = counts
			}
			counts[outcome.Status]++
		}

		r.Summary.Total++
		if run.OverallSuccess {
			r.Summary.Succeeded++
		} else {
			r.Summary.Failed++
		}
		r.Scenarios = append(r.Scenarios, entry)
	}

	sort.SliceStable(r.Scenarios, func(i, j int) bool {
		return r.Scenarios[i].ScenarioID < r.Scenarios[j].ScenarioID
	})
	return r
}

func stageEntry(o types.StageOutcome) StageEntry {
	e := StageEntry{
		Status:    o.Status,
		Accuracy:  o.Accuracy,
		Raw:       o.Raw,
		JobID:     o.JobID,
		BlockedBy: o.BlockedBy,
	}
	if o.ElapsedTime != nil {
		secs := o.ElapsedTime.Seconds()
		e.ElapsedTime = &secs
	}
	return e
}

// WriteJSON writes the report as indented JSON, creating parent directories.
func WriteJSON(path string, r Report) error {
	jsonBytes, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, jsonBytes, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
