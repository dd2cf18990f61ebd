package main

import (
	"fmt"

	"github.com/jonathan/extraction-pipeline/internal/observability"
	"github.com/jonathan/extraction-pipeline/internal/pipeline/graph"
	"github.com/spf13/cobra"
)

var graphPath string

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Validate a workflow template and print its execution order",
	Long:  `Loads the workflow template given by --graph (or the built-in one), reports configuration errors, and prints the stage order and edges.`,
	RunE:  runGraph,
}

func init() {
	graphCmd.Flags().StringVarP(&graphPath, "graph", "g", "", "Path to a workflow template (default built-in)")
	rootCmd.AddCommand(graphCmd)
}

func runGraph(cmd *cobra.Command, _ []string) error {
	var (
		g   *graph.Graph
		err error
	)
	if graphPath != "" {
		g, err = graph.LoadTemplate(graphPath)
	} else {
		g, err = graph.Default()
	}
	if err != nil {
		return fmt.Errorf("invalid pipeline graph: %w", err)
	}

	observability.NewPrinter(cmd.OutOrStdout()).PrintGraph(g)
	return nil
}
