package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewCleanCommand creates the clean command.
func NewCleanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [targets...]",
		Short: "Remove cached results",
		Long: `Delete stored target results and their hashes so the next run
rebuilds them. With no arguments, everything is cleared.`,
		Example: `  # Clear all cached results
  loom clean

  # Clear specific targets
  loom clean raw doubled`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(cmd, args)
		},
	}
	return cmd
}

func runClean(cmd *cobra.Command, args []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cmdCtx.Engine.Clean(args); err != nil {
		return fmt.Errorf("clean failed: %w", err)
	}

	if len(args) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Cleared all cached results.")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared cached results for %s.\n", strings.Join(args, ", "))
	}
	return nil
}
