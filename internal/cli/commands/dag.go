package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewDAGCommand creates the dag command.
func NewDAGCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dag",
		Short: "Show the dependency graph",
		Long: `Display the target dependency graph grouped by execution level.
Targets within the same level have no dependencies on each other and
run in parallel.`,
		Example: `  # Show the DAG
  loom dag

  # Output as JSON
  loom dag --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDAG(cmd)
		},
	}
}

func runDAG(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cmdCtx.discover(false); err != nil {
		return err
	}

	graph := cmdCtx.Engine.Graph()
	levels, err := graph.ExecutionLevels()
	if err != nil {
		return fmt.Errorf("failed to compute execution levels: %w", err)
	}

	if cmdCtx.Config.OutputFormat == "json" {
		payload := struct {
			Nodes  int        `json:"nodes"`
			Edges  int        `json:"edges"`
			Levels [][]string `json:"levels"`
		}{graph.NodeCount(), graph.EdgeCount(), levels}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Dependency graph: %d targets, %d edges\n\n",
		graph.NodeCount(), graph.EdgeCount())
	for i, level := range levels {
		fmt.Fprintf(cmd.OutOrStdout(), "Level %d:\n", i+1)
		for _, name := range level {
			parents := graph.GetParents(name)
			if len(parents) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", name)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  <- %s\n", name, strings.Join(parents, ", "))
			}
		}
	}
	return nil
}
