package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const initConfig = `# Loom project configuration.
environment: dev
parallelism: 4

# docs_dir: docs
# scripts_dir: .loom/scripts
# pipeline: pipeline.star

# environments:
#   prod:
#     state_path: .loom/prod-state.db
#     objects_dir: .loom/prod-objects
`

const initPipeline = `# Targets for this project. Dependencies are discovered from
# read_target() calls with literal names.

target(
    name = "raw",
    command = "[1, 2, 3, 4, 5]",
)

target(
    name = "doubled",
    command = '[x * 2 for x in read_target("raw")]',
)
`

const initDoc = `---
loom:
  name: example
---

# Example analysis

Shared setup:

` + "```{loom globals, name=setup}" + `
threshold = 4
` + "```" + `

A target that filters on the shared threshold:

` + "```{loom targets, name=filtered}" + `
target(
    name = "filtered",
    command = '[x for x in read_target("doubled") if x > threshold]',
)
` + "```" + `
`

const initGitignore = `.loom/
`

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [directory]",
		Short: "Scaffold a new loom project",
		Long: `Create a new loom project with a config file, an example pipeline
script, and an example literate document.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(cmd, dir)
		},
	}
}

func runInit(cmd *cobra.Command, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, "loom.yaml")); err == nil {
		return fmt.Errorf("loom.yaml already exists in %s", dir)
	}

	docPath := filepath.Join("docs", "example.md")
	files := map[string]string{
		"loom.yaml":     initConfig,
		"pipeline.star": initPipeline,
		docPath:         initDoc,
		".gitignore":    initGitignore,
	}
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
		}
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "  skipped %s (exists)\n", rel)
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  created %s\n", rel)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "\nProject initialized. Next steps:")
	fmt.Fprintln(cmd.OutOrStdout(), "  loom run        # build the example targets")
	fmt.Fprintln(cmd.OutOrStdout(), "  loom list       # inspect the target graph")
	return nil
}
