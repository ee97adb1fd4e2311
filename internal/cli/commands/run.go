package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/state"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Select     string
	Downstream bool
	Force      bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run outdated targets in dependency order",
		Long: `Execute targets whose inputs changed since the last run.

By default, every discovered target is considered. Use --select to limit
the run to specific targets (their upstream dependencies are included
automatically), and --downstream to also rebuild their dependents.`,
		Example: `  # Run everything outdated
  loom run

  # Rebuild one target and whatever it needs
  loom run --select filtered

  # Rebuild a target and everything depending on it
  loom run --select raw --downstream

  # Ignore caching and rebuild from scratch
  loom run --force`,
		Aliases: []string{"build"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Select, "select", "s", "", "Comma-separated list of targets to run")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "Include downstream dependents when using --select")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "Run all selected targets regardless of caching")

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cmdCtx.discover(false); err != nil {
		return err
	}

	var selected []string
	if opts.Select != "" {
		for _, name := range strings.Split(opts.Select, ",") {
			selected = append(selected, strings.TrimSpace(name))
		}
	}

	started := time.Now()
	result, err := cmdCtx.Engine.Run(cmd.Context(), engine.RunOptions{
		Force:      opts.Force,
		Select:     selected,
		Downstream: opts.Downstream,
	})
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if cmdCtx.Config.OutputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	for _, tr := range result.Targets {
		switch tr.Status {
		case state.TargetRunStatusSuccess:
			fmt.Fprintf(cmd.OutOrStdout(), "  built    %s (%s)\n", tr.Name, tr.Duration.Round(time.Millisecond))
		case state.TargetRunStatusUpToDate:
			fmt.Fprintf(cmd.OutOrStdout(), "  cached   %s\n", tr.Name)
		case state.TargetRunStatusSkipped:
			fmt.Fprintf(cmd.OutOrStdout(), "  skipped  %s\n", tr.Name)
		case state.TargetRunStatusFailed:
			fmt.Fprintf(cmd.OutOrStdout(), "  failed   %s: %s\n", tr.Name, tr.Error)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nRun %s: %d built, %d cached, %d skipped, %d failed in %s\n",
		result.RunID, result.Executed, result.UpToDate, result.Skipped, result.Failed,
		time.Since(started).Round(time.Millisecond))

	if result.Failed > 0 {
		return fmt.Errorf("%d target(s) failed", result.Failed)
	}
	return nil
}
