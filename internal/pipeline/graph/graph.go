// Package graph describes pipeline stages and the hard and soft dependency
// edges between them.
package graph

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// LinkType distinguishes blocking from advisory dependencies.
type LinkType string

const (
	// Hard edges mean the successor consumes the predecessor's output.
	Hard LinkType = "hard"
	// Soft edges only inform ordering hints and reports.
	Soft LinkType = "soft"
)

// Stage is one named step of the pipeline.
type Stage struct {
	Name        string        `json:"name"`
	Operation   string        `json:"operation"`
	Description string        `json:"description,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Edge is a dependency from one stage to another.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Type LinkType `json:"type"`
}

// Graph is an immutable, validated pipeline description. It is safe to share
// across concurrent runs.
type Graph struct {
	name      string
	stages    []Stage
	index     map[string]int
	edges     []Edge
	order     []string
	hardPreds map[string][]string
	softPreds map[string][]string
}

// New validates stages and edges and computes the execution order. A stage
// without an operation runs the operation of the same name.
func New(name string, stages []Stage, edges []Edge) (*Graph, error) {
	cfgErr := &ConfigurationError{Graph: name}
	g := &Graph{
		name:      name,
		stages:    make([]Stage, 0, len(stages)),
		index:     make(map[string]int, len(stages)),
		edges:     make([]Edge, 0, len(edges)),
		hardPreds: make(map[string][]string),
		softPreds: make(map[string][]string),
	}

	if len(stages) == 0 {
		cfgErr.Add("graph declares no stages")
	}
	for _, stage := range stages {
		stage.Name = strings.TrimSpace(stage.Name)
		if stage.Name == "" {
			cfgErr.Add("stage %d has no name", len(g.stages)+1)
			continue
		}
		if _, dup := g.index[stage.Name]; dup {
			cfgErr.Add("stage %q is declared more than once", stage.Name)
			continue
		}
		if stage.Operation == "" {
			stage.Operation = stage.Name
		}
		if stage.Timeout < 0 {
			cfgErr.Add("stage %q has a negative timeout", stage.Name)
		}
		g.index[stage.Name] = len(g.stages)
		g.stages = append(g.stages, stage)
	}

	for _, edge := range edges {
		_, fromOK := g.index[edge.From]
		_, toOK := g.index[edge.To]
		if !fromOK {
			cfgErr.Add("edge %s -> %s references undeclared stage %q", edge.From, edge.To, edge.From)
		}
		if !toOK {
			cfgErr.Add("edge %s -> %s references undeclared stage %q", edge.From, edge.To, edge.To)
		}
		switch edge.Type {
		case Hard, Soft:
		default:
			cfgErr.Add("edge %s -> %s has unknown link type %q", edge.From, edge.To, edge.Type)
			continue
		}
		if !fromOK || !toOK {
			continue
		}
		g.edges = append(g.edges, edge)
		if edge.Type == Hard {
			if !slices.Contains(g.hardPreds[edge.To], edge.From) {
				g.hardPreds[edge.To] = append(g.hardPreds[edge.To], edge.From)
			}
		} else if !slices.Contains(g.softPreds[edge.To], edge.From) {
			g.softPreds[edge.To] = append(g.softPreds[edge.To], edge.From)
		}
	}

	if err := cfgErr.OrNil(); err != nil {
		return nil, err
	}

	order, cyclic := g.topoSort()
	if len(cyclic) > 0 {
		cfgErr.Add("hard dependencies form a cycle through %s", strings.Join(cyclic, ", "))
		return nil, cfgErr
	}
	g.order = order
	return g, nil
}

// topoSort runs Kahn's algorithm over hard edges only. Ready stages are taken
// in declaration order, so the result is deterministic. Stages left over are
// on or behind a cycle.
func (g *Graph) topoSort() ([]string, []string) {
	inDegree := make([]int, len(g.stages))
	adj := make([][]int, len(g.stages))
	for to, preds := range g.hardPreds {
		toIdx := g.index[to]
		for _, from := range preds {
			fromIdx := g.index[from]
			adj[fromIdx] = append(adj[fromIdx], toIdx)
			inDegree[toIdx]++
		}
	}

	ready := make([]int, 0, len(g.stages))
	for i, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]string, 0, len(g.stages))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, g.stages[next].Name)
		for _, neighbor := range adj[next] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				ready = append(ready, neighbor)
				sort.Ints(ready)
			}
		}
	}

	if len(order) == len(g.stages) {
		return order, nil
	}
	var cyclic []string
	for i, degree := range inDegree {
		if degree > 0 {
			cyclic = append(cyclic, g.stages[i].Name)
		}
	}
	return nil, cyclic
}

// Name returns the graph name.
func (g *Graph) Name() string {
	return g.name
}

// Order returns the execution order.
func (g *Graph) Order() []string {
	return slices.Clone(g.order)
}

// Stages returns the stages in declaration order.
func (g *Graph) Stages() []Stage {
	return slices.Clone(g.stages)
}

// Stage looks up a stage by name.
func (g *Graph) Stage(name string) (Stage, bool) {
	i, ok := g.index[name]
	if !ok {
		return Stage{}, false
	}
	return g.stages[i], true
}

// Edges returns the edges in declaration order.
func (g *Graph) Edges() []Edge {
	return slices.Clone(g.edges)
}

// HardPredecessors returns the stages name structurally depends on.
func (g *Graph) HardPredecessors(name string) []string {
	return slices.Clone(g.hardPreds[name])
}

// SoftPredecessors returns the stages name is advised to follow.
func (g *Graph) SoftPredecessors(name string) []string {
	return slices.Clone(g.softPreds[name])
}
