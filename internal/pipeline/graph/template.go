package graph

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// DefaultTemplate is the embedded TA1 extraction workflow.
const DefaultTemplate = "ta1"

type templateFile struct {
	Name   string          `yaml:"name"`
	Stages []templateStage `yaml:"stages"`
	Edges  []templateEdge  `yaml:"edges"`
}

type templateEdge struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Type string `yaml:"type"`
}

type templateStage struct {
	Name         string   `yaml:"name"`
	Operation    string   `yaml:"operation"`
	Description  string   `yaml:"description"`
	Timeout      string   `yaml:"timeout"`
	Dependencies []string `yaml:"dependencies"`
	Optional     []string `yaml:"optional"`
}

// ParseTemplate builds a graph from a YAML workflow template. A stage may list
// its hard predecessors under dependencies and its soft ones under optional;
// further edges can be declared in a top-level edges list as
// {from, to, type: hard|soft}, where an omitted type means hard. Stage-local
// edges come first, then the edges list, each in declaration order.
func ParseTemplate(data []byte) (*Graph, error) {
	var tmpl templateFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse graph template: %w", err)
	}

	cfgErr := &ConfigurationError{Graph: tmpl.Name}
	stages := make([]Stage, 0, len(tmpl.Stages))
	var edges []Edge
	for _, s := range tmpl.Stages {
		stage := Stage{Name: s.Name, Operation: s.Operation, Description: s.Description}
		if s.Timeout != "" {
			d, err := time.ParseDuration(s.Timeout)
			if err != nil {
				cfgErr.Add("stage %q has invalid timeout %q", s.Name, s.Timeout)
			}
			stage.Timeout = d
		}
		stages = append(stages, stage)
		for _, dep := range s.Dependencies {
			edges = append(edges, Edge{From: dep, To: s.Name, Type: Hard})
		}
		for _, opt := range s.Optional {
			edges = append(edges, Edge{From: opt, To: s.Name, Type: Soft})
		}
	}
	for _, e := range tmpl.Edges {
		link := Hard
		if e.Type != "" {
			link = LinkType(strings.ToLower(strings.TrimSpace(e.Type)))
		}
		edges = append(edges, Edge{From: e.From, To: e.To, Type: link})
	}
	if err := cfgErr.OrNil(); err != nil {
		return nil, err
	}

	return New(tmpl.Name, stages, edges)
}

// LoadTemplate reads and parses a template file.
func LoadTemplate(path string) (*Graph, error) {
	if path == "" {
		return nil, fmt.Errorf("graph template path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph template %s: %w", path, err)
	}
	return ParseTemplate(data)
}

// Builtin returns an embedded template by name.
func Builtin(name string) (*Graph, error) {
	data, err := templateFS.ReadFile("templates/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown built-in graph template %q", name)
	}
	return ParseTemplate(data)
}

// Default returns the embedded TA1 graph.
func Default() (*Graph, error) {
	return Builtin(DefaultTemplate)
}
