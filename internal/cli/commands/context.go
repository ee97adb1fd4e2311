// Package commands implements the loom subcommands.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/cli/config"
	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/objects"
	"github.com/loomworks/loom/internal/state"
)

// ConfigKey stores the loaded config in the command context.
type ConfigKey struct{}

// LoggerKey stores the logger in the command context.
type LoggerKey struct{}

// CommandContext bundles what most subcommands need.
type CommandContext struct {
	Config *config.Config
	Logger *slog.Logger
	Engine *engine.Engine
	State  *state.SQLiteStore
}

// getConfig retrieves the config from the command context.
func getConfig(cmd *cobra.Command) *config.Config {
	if c, ok := cmd.Context().Value(ConfigKey{}).(*config.Config); ok {
		return c
	}
	return &config.Config{
		DocsDir:      config.DefaultDocsDir,
		ScriptsDir:   config.DefaultScriptsDir,
		Pipeline:     config.DefaultPipeline,
		StatePath:    config.DefaultStateFile,
		ObjectsDir:   config.DefaultObjectsDir,
		Environment:  config.DefaultEnv,
		Parallelism:  config.DefaultParallelism,
		OutputFormat: config.DefaultOutput,
	}
}

// getLogger retrieves the logger from the command context.
func getLogger(cmd *cobra.Command) *slog.Logger {
	if l, ok := cmd.Context().Value(LoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewCommandContext opens the state and object stores and builds an
// engine from the current configuration. The returned cleanup closes
// the state store.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg := getConfig(cmd)
	logger := getLogger(cmd)

	stateDir := filepath.Dir(cfg.StatePath)
	if stateDir != "." && stateDir != "" {
		if err := os.MkdirAll(stateDir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	st := state.NewSQLiteStore(logger)
	if err := st.Open(cfg.StatePath); err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}

	eng := engine.New(st, objects.NewStore(cfg.ObjectsDir),
		engine.WithLogger(logger),
		engine.WithEnvName(cfg.Environment),
		engine.WithParallelism(cfg.Parallelism),
	)

	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close state store", "error", err)
		}
	}
	return &CommandContext{Config: cfg, Logger: logger, Engine: eng, State: st}, cleanup, nil
}

// discover runs pipeline discovery, tolerating a missing pipeline
// script when allowMissing is set.
func (c *CommandContext) discover(allowMissing bool) error {
	if _, err := os.Stat(c.Config.Pipeline); err != nil {
		if allowMissing && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("pipeline script not found at %s (run loom weave or loom init first)", c.Config.Pipeline)
	}
	return c.Engine.Discover(c.Config.Pipeline)
}
