package pipeline

import (
	"fmt"
	"sort"

	"github.com/loomworks/loom/internal/analyze"
	"github.com/loomworks/loom/internal/dag"
)

// Registry holds target definitions in declaration order and enforces
// name uniqueness across the whole graph.
type Registry struct {
	order   []string
	targets map[string]*Target
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]*Target)}
}

// Add registers a target. A second definition with the same name is
// invalid.
func (r *Registry) Add(t *Target) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, exists := r.targets[t.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTarget, t.Name)
	}
	r.targets[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Get returns a target by name.
func (r *Registry) Get(name string) (*Target, bool) {
	t, ok := r.targets[name]
	return t, ok
}

// Len returns the number of registered targets.
func (r *Registry) Len() int {
	return len(r.targets)
}

// Names returns target names in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns all targets sorted by name.
func (r *Registry) All() []*Target {
	out := make([]*Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResolvedDeps returns the merged explicit and analyzed dependencies
// of a target, deduplicated and sorted.
func (r *Registry) ResolvedDeps(t *Target) ([]string, error) {
	analyzed, err := analyze.Dependencies(t.Command)
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", t.Name, err)
	}

	seen := make(map[string]bool)
	var deps []string
	for _, d := range append(analyzed, t.Deps...) {
		if !seen[d] {
			seen[d] = true
			deps = append(deps, d)
		}
	}
	sort.Strings(deps)
	return deps, nil
}

// BuildGraph analyzes every target's command, merges explicit
// dependencies, and constructs the dependency DAG. Unknown dependency
// names and cycles invalidate the graph.
func (r *Registry) BuildGraph() (*dag.Graph, error) {
	g := dag.NewGraph()
	for _, name := range r.order {
		g.AddNode(name, r.targets[name])
	}

	for _, name := range r.order {
		t := r.targets[name]
		deps, err := r.ResolvedDeps(t)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			if _, ok := r.targets[dep]; !ok {
				return nil, fmt.Errorf("target %q: %w: %q", name, ErrUnknownTarget, dep)
			}
			if err := g.AddEdge(dep, name); err != nil {
				return nil, fmt.Errorf("target %q: %w", name, err)
			}
		}
	}

	if hasCycle, path := g.HasCycle(); hasCycle {
		return nil, fmt.Errorf("%w: %v", ErrCycle, path)
	}
	return g, nil
}
