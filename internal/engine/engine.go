// Package engine discovers the target graph from pipeline scripts,
// decides which targets are outdated, and executes them in dependency
// order with cached results.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loomworks/loom/internal/dag"
	"github.com/loomworks/loom/internal/objects"
	"github.com/loomworks/loom/internal/pipeline"
	star "github.com/loomworks/loom/internal/starlark"
	"github.com/loomworks/loom/internal/state"
)

// Engine ties the script environment, the object store, and the state
// database together.
type Engine struct {
	logger      *slog.Logger
	state       state.Store
	objects     *objects.Store
	env         *star.Env
	registry    *pipeline.Registry
	graph       *dag.Graph
	changed     map[string]bool
	envName     string
	parallelism int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithEnvName sets the environment name recorded on runs and exposed
// to scripts as the env global.
func WithEnvName(name string) Option {
	return func(e *Engine) { e.envName = name }
}

// WithParallelism bounds how many targets run concurrently within a
// dependency level.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// New creates an engine over an opened state store and an object
// store directory.
func New(st state.Store, obj *objects.Store, opts ...Option) *Engine {
	e := &Engine{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		state:       st,
		objects:     obj,
		envName:     "dev",
		parallelism: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the discovered target definitions. Nil before
// Discover.
func (e *Engine) Registry() *pipeline.Registry {
	return e.registry
}

// Graph returns the discovered dependency graph. Nil before Discover.
func (e *Engine) Graph() *dag.Graph {
	return e.graph
}

// Env returns the script environment built by Discover.
func (e *Engine) Env() *star.Env {
	return e.env
}

// Discover executes the pipeline script, builds the dependency graph,
// and syncs target definitions into the state store. Targets that no
// longer appear in any script are pruned.
func (e *Engine) Discover(pipelinePath string) error {
	src, err := os.ReadFile(pipelinePath)
	if err != nil {
		return fmt.Errorf("failed to read pipeline script: %w", err)
	}

	registry := pipeline.NewRegistry()
	env := star.NewEnv(
		star.WithEnvName(e.envName),
		star.WithRegistry(registry),
		star.WithReader(e.objects),
		star.WithBaseDir(filepath.Dir(pipelinePath)),
	)
	if err := env.ExecScript(filepath.Base(pipelinePath), src); err != nil {
		return err
	}

	graph, err := registry.BuildGraph()
	if err != nil {
		return err
	}

	names := registry.Names()
	changed := make(map[string]bool)
	for _, name := range names {
		t, _ := registry.Get(name)
		prev, err := e.state.GetTarget(name)
		if err != nil {
			return err
		}
		if prev != nil && (prev.Command != t.Command || prev.Format != string(t.Format)) {
			changed[name] = true
		}
		if err := e.state.UpsertTarget(&state.TargetRecord{
			Name:    t.Name,
			Command: t.Command,
			Format:  string(t.Format),
		}); err != nil {
			return fmt.Errorf("failed to persist target %q: %w", t.Name, err)
		}
		deps, err := registry.ResolvedDeps(t)
		if err != nil {
			return err
		}
		if err := e.state.SetDependencies(t.Name, deps); err != nil {
			return fmt.Errorf("failed to persist dependencies of %q: %w", t.Name, err)
		}
	}
	pruned, err := e.state.PruneTargets(names)
	if err != nil {
		return fmt.Errorf("failed to prune stale targets: %w", err)
	}
	if pruned > 0 {
		e.logger.Info("pruned stale targets", "count", pruned)
	}

	e.env = env
	e.registry = registry
	e.graph = graph
	e.changed = changed
	e.logger.Debug("discovered pipeline",
		"targets", graph.NodeCount(), "edges", graph.EdgeCount())
	return nil
}

// Selection resolves --select style target lists into the set of
// graph nodes to run: the named targets, their upstream closure, and
// optionally everything downstream of them.
func (e *Engine) Selection(names []string, downstream bool) (*dag.Graph, error) {
	if e.graph == nil {
		return nil, fmt.Errorf("pipeline not discovered")
	}
	if len(names) == 0 {
		return e.graph, nil
	}

	set := make(map[string]bool)
	for _, name := range names {
		if _, ok := e.graph.GetNode(name); !ok {
			return nil, fmt.Errorf("%w: %q", pipeline.ErrUnknownTarget, name)
		}
		set[name] = true
	}
	if downstream {
		for _, id := range e.graph.Affected(keys(set)) {
			set[id] = true
		}
	}
	for _, name := range keys(set) {
		for _, id := range e.graph.Upstream(name) {
			set[id] = true
		}
	}
	return e.graph.Subgraph(keys(set)), nil
}

// Clean removes stored results and hashes. With no names, everything
// goes; otherwise only the named targets are cleared.
func (e *Engine) Clean(names []string) error {
	if len(names) == 0 {
		if err := e.objects.Clear(); err != nil {
			return err
		}
		return e.state.ClearHashes(nil)
	}
	var errs []error
	for _, name := range names {
		if err := e.objects.Delete(name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.state.ClearHashes(names); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
