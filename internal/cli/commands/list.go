package commands

import (
	"encoding/json"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List targets and their dependencies",
		Long: `List discovered targets in execution order, with their format,
dependencies, and where they were defined.`,
		Example: `  # List all targets
  loom list

  # List targets as JSON
  loom list --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd)
		},
	}
}

type listEntry struct {
	Name     string   `json:"name"`
	Format   string   `json:"format"`
	Deps     []string `json:"deps"`
	Document string   `json:"document,omitempty"`
	Chunk    string   `json:"chunk,omitempty"`
}

func runList(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cmdCtx.discover(false); err != nil {
		return err
	}

	graph := cmdCtx.Engine.Graph()
	registry := cmdCtx.Engine.Registry()

	sorted, err := graph.TopologicalSort()
	if err != nil {
		return err
	}

	entries := make([]listEntry, 0, len(sorted))
	for _, node := range sorted {
		t, ok := registry.Get(node.ID)
		if !ok {
			continue
		}
		deps, err := registry.ResolvedDeps(t)
		if err != nil {
			return err
		}
		entries = append(entries, listEntry{
			Name:     t.Name,
			Format:   string(t.Format),
			Deps:     deps,
			Document: t.Doc,
			Chunk:    t.Chunk,
		})
	}

	if cmdCtx.Config.OutputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"#", "Target", "Format", "Dependencies", "Source"})
	for i, e := range entries {
		source := ""
		if e.Document != "" {
			source = e.Document + "#" + e.Chunk
		}
		tw.AppendRow(table.Row{i + 1, e.Name, e.Format, strings.Join(e.Deps, ", "), source})
	}
	tw.SetStyle(table.StyleLight)
	tw.Render()
	return nil
}
