package graph

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a malformed pipeline graph. It is fatal at
// construction and never recovered.
type ConfigurationError struct {
	Graph  string
	Issues []string
}

func (e *ConfigurationError) Error() string {
	name := e.Graph
	if name == "" {
		name = "(unnamed)"
	}
	if len(e.Issues) == 0 {
		return fmt.Sprintf("invalid pipeline graph %s", name)
	}
	return fmt.Sprintf("invalid pipeline graph %s: %s", name, strings.Join(e.Issues, "; "))
}

// Add records an issue.
func (e *ConfigurationError) Add(format string, args ...any) {
	issue := fmt.Sprintf(format, args...)
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

// OrNil returns nil when no issues were recorded.
func (e *ConfigurationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
