package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show run history",
		Long: `Show the latest pipeline run for the current environment, or the
per-target breakdown of a specific run.`,
		Example: `  # Show the latest run
  loom history

  # Show one run's targets
  loom history 2f1c9a6e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, args)
		},
	}
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var runID string
	if len(args) == 1 {
		runID = args[0]
	} else {
		latest, err := cmdCtx.State.GetLatestRun(cmdCtx.Config.Environment)
		if err != nil {
			return err
		}
		if latest == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
			return nil
		}
		runID = latest.ID
	}

	run, err := cmdCtx.State.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %q not found", runID)
	}
	targetRuns, err := cmdCtx.State.GetTargetRunsForRun(run.ID)
	if err != nil {
		return err
	}

	if cmdCtx.Config.OutputFormat == "json" {
		payload := struct {
			Run     any `json:"run"`
			Targets any `json:"targets"`
		}{run, targetRuns}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Run %s (%s)\n", run.ID, run.Environment)
	fmt.Fprintf(cmd.OutOrStdout(), "  status:  %s\n", run.Status)
	fmt.Fprintf(cmd.OutOrStdout(), "  started: %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "  took:    %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "  error:   %s\n", run.Error)
	}
	if len(targetRuns) == 0 {
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"Target", "Status", "Duration", "Error"})
	for _, tr := range targetRuns {
		tw.AppendRow(table.Row{tr.TargetName, tr.Status,
			(time.Duration(tr.ExecutionMS) * time.Millisecond).String(), tr.Error})
	}
	tw.SetStyle(table.StyleLight)
	tw.Render()
	return nil
}
