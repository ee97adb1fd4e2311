package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewOutdatedCommand creates the outdated command.
func NewOutdatedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "outdated",
		Short: "Show which targets would run and why",
		Long: `Report targets whose cached results are stale, in the order they
would execute, with the reason each one is outdated.`,
		Example: `  # Show outdated targets
  loom outdated

  # Output as JSON
  loom outdated --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOutdated(cmd)
		},
	}
}

func runOutdated(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cmdCtx.discover(false); err != nil {
		return err
	}

	report, err := cmdCtx.Engine.Outdated()
	if err != nil {
		return err
	}

	if cmdCtx.Config.OutputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if len(report) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "All targets up to date.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d target(s) outdated:\n", len(report))
	for _, entry := range report {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %s\n", entry.Name, entry.Reason)
	}
	return nil
}
