// Package observability provides formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/extraction-pipeline/internal/pipeline"
	"github.com/jonathan/extraction-pipeline/internal/pipeline/graph"
	"github.com/jonathan/extraction-pipeline/internal/report"
	"github.com/jonathan/extraction-pipeline/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxRawLength caps error text shown next to a failed stage
	maxRawLength = 36
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Symbol returns the marker used for a stage status. Upstream failures get
// their own marker so they are never mistaken for a stage that broke.
func Symbol(status types.StageStatus) string {
	switch status {
	case types.StageSuccess:
		return "✓"
	case types.StageFailure:
		return "✗"
	case types.StageUpstreamFailure:
		return "⊘"
	case types.StageNotApplicable:
		return "-"
	default:
		return "?"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		line = truncate(line, boxWidth-4)
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// stageLine renders one stage outcome on a single line.
func stageLine(name string, o types.StageOutcome) string {
	line := fmt.Sprintf("%s %-20s", Symbol(o.Status), name)
	switch o.Status {
	case types.StageSuccess:
		if o.ElapsedTime != nil {
			line += fmt.Sprintf(" %6.1fs", o.ElapsedTime.Seconds())
		}
		if o.Accuracy != nil {
			line += fmt.Sprintf("  acc %.2f", o.Accuracy.Score)
		}
	case types.StageFailure:
		line += " " + truncate(fmt.Sprint(o.Raw), maxRawLength)
	case types.StageUpstreamFailure:
		line += " blocked by " + strings.Join(o.BlockedBy, ", ")
	case types.StageNotApplicable:
		line += " not applicable"
	}
	return line
}

// PrintGraph outputs the stage order and edges of a graph.
func (p *Printer) PrintGraph(g *graph.Graph) {
	if g == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString("Execution order:\n")
	for i, name := range g.Order() {
		stage, _ := g.Stage(name)
		sb.WriteString(fmt.Sprintf("  %d. %s", i+1, name))
		if stage.Operation != name {
			sb.WriteString(fmt.Sprintf(" (%s)", stage.Operation))
		}
		sb.WriteString("\n")
	}

	edges := g.Edges()
	if len(edges) > 0 {
		sb.WriteString("\nEdges:\n")
		for _, e := range edges {
			sb.WriteString(fmt.Sprintf("  %s → %s [%s]\n", e.From, e.To, e.Type))
		}
	}

	p.printBox("PIPELINE GRAPH: "+g.Name(), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRun outputs every stage of one run in execution order.
func (p *Printer) PrintRun(run types.PipelineRun) {
	var sb strings.Builder
	for _, name := range run.Order {
		sb.WriteString(stageLine(name, run.Stages[name]))
		sb.WriteString("\n")
	}
	result := "SUCCESS"
	if !run.OverallSuccess {
		result = "FAILED"
	}
	sb.WriteString(fmt.Sprintf("\nOverall: %s", result))

	p.printBox("SCENARIO "+run.ScenarioID, sb.String())
}

// PrintReport outputs a summary box followed by one line per scenario.
func (p *Printer) PrintReport(r report.Report) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Graph:      %s\n", r.Metadata.Graph))
	sb.WriteString(fmt.Sprintf("Scenarios:  %d\n", r.Summary.Total))
	sb.WriteString(fmt.Sprintf("Succeeded:  %d\n", r.Summary.Succeeded))
	sb.WriteString(fmt.Sprintf("Failed:     %d\n", r.Summary.Failed))

	if len(r.Scenarios) > 0 {
		sb.WriteString("\n")
	}
	for _, sc := range r.Scenarios {
		mark := Symbol(types.StageSuccess)
		if !sc.OverallSuccess {
			mark = Symbol(types.StageFailure)
		}
		counts := make(map[types.StageStatus]int)
		for _, stage := range sc.Stages {
			counts[stage.Status]++
		}
		sb.WriteString(fmt.Sprintf("%s %-20s %d✓ %d✗ %d⊘ %d-\n", mark, sc.ScenarioID,
			counts[types.StageSuccess], counts[types.StageFailure],
			counts[types.StageUpstreamFailure], counts[types.StageNotApplicable]))
	}

	p.printBox("PIPELINE REPORT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintProgress outputs a single progress line.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(ev pipeline.ProgressEvent) {
	msg := ev.Message
	if ev.Status == types.StageSuccess || ev.Status == types.StageNotApplicable {
		msg = string(ev.Status)
	}
	fmt.Fprintf(p.out, "[%s] %s %s: %s\n", ev.ScenarioID, Symbol(ev.Status), ev.Stage, truncate(msg, 80))
}
