package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/objects"
	star "github.com/loomworks/loom/internal/starlark"
	"github.com/loomworks/loom/internal/weave"
)

// WeaveOptions holds options for the weave command.
type WeaveOptions struct {
	Interactive bool
}

// NewWeaveCommand creates the weave command.
func NewWeaveCommand() *cobra.Command {
	opts := &WeaveOptions{}

	cmd := &cobra.Command{
		Use:   "weave [documents...]",
		Short: "Extract pipeline scripts from literate documents",
		Long: `Process markdown documents containing loom code chunks.

In build mode (the default), global chunks are appended to a namespaced
globals script, target chunks become standalone scripts, and a top-level
pipeline script is generated referencing them all. With --interactive,
chunks are instead evaluated immediately against a shared environment
and their results printed.

With no arguments, every .md file under the docs directory is processed.`,
		Example: `  # Weave all documents under docs/
  loom weave

  # Weave specific documents
  loom weave docs/analysis.md docs/report.md

  # Evaluate chunks immediately instead of emitting scripts
  loom weave --interactive docs/analysis.md`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWeave(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVarP(&opts.Interactive, "interactive", "i", false, "Evaluate chunks immediately instead of emitting scripts")

	return cmd
}

func runWeave(cmd *cobra.Command, opts *WeaveOptions, args []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	docs := args
	if len(docs) == 0 {
		docs, err = findDocuments(cmdCtx.Config.DocsDir)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return fmt.Errorf("no documents found under %s", cmdCtx.Config.DocsDir)
		}
	}

	mode := weave.ModeBuild
	envOpts := []star.Option{star.WithEnvName(cmdCtx.Config.Environment)}
	if opts.Interactive {
		mode = weave.ModeInteractive
		envOpts = append(envOpts,
			star.Interactive(),
			star.WithReader(objects.NewStore(cmdCtx.Config.ObjectsDir)),
		)
	}
	env := star.NewEnv(envOpts...)

	p := weave.NewPreprocessor(env, mode, cmdCtx.Config.ScriptsDir, cmdCtx.Logger)
	if !opts.Interactive {
		if _, err := os.Stat(cmdCtx.Config.Pipeline); err == nil {
			prelude := cmdCtx.Config.Pipeline
			if rel, err := filepath.Rel(cmdCtx.Config.ScriptsDir, prelude); err == nil {
				prelude = rel
			}
			p.SetPrelude(prelude)
		}
	}
	for _, doc := range docs {
		if err := p.ProcessFile(doc); err != nil {
			return err
		}
	}
	result, err := p.Finish()
	if err != nil {
		return err
	}

	if opts.Interactive {
		fmt.Fprintf(cmd.OutOrStdout(), "Evaluated %d chunk(s) from %d document(s)\n",
			result.Chunks, len(result.Documents))
		bindings := env.Session()
		for name, v := range env.Globals() {
			bindings[name] = v
		}
		names := make([]string, 0, len(bindings))
		for name := range bindings {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", name, bindings[name].String())
		}
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Processed %d chunk(s) from %d document(s)\n",
		result.Chunks, len(result.Documents))
	for _, script := range result.Scripts {
		fmt.Fprintf(cmd.OutOrStdout(), "  wrote %s\n", filepath.Join(cmdCtx.Config.ScriptsDir, script))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  wrote %s\n", result.Pipeline)
	fmt.Fprintf(cmd.OutOrStdout(), "\nRun the generated pipeline with:\n  loom run --pipeline %s\n", result.Pipeline)
	return nil
}

// findDocuments lists markdown files under dir, sorted.
func findDocuments(dir string) ([]string, error) {
	var docs []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".md") {
			docs = append(docs, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(docs)
	return docs, nil
}
