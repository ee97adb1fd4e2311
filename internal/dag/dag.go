// Package dag provides directed acyclic graph operations for target
// dependencies. It supports cycle detection, topological sorting, and
// grouping targets into parallel execution levels.
package dag

import (
	"fmt"
	"slices"
	"sort"
)

// Node is a single target in the graph.
type Node struct {
	// ID is the unique target name
	ID string
	// Data holds arbitrary node data
	Data any
}

// Graph is a directed acyclic graph of targets. Edges point from a
// dependency to its dependents.
type Graph struct {
	nodes      map[string]*Node
	dependents map[string][]string // dep -> targets that consume it
	deps       map[string][]string // target -> its dependencies
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:      make(map[string]*Node),
		dependents: make(map[string][]string),
		deps:       make(map[string][]string),
	}
}

// AddNode adds a node to the graph. Adding an existing ID updates its data.
func (g *Graph) AddNode(id string, data any) {
	if n, ok := g.nodes[id]; ok {
		n.Data = data
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
	g.dependents[id] = []string{}
	g.deps[id] = []string{}
}

// AddEdge records that child depends on parent. Both endpoints must
// already exist; self-loops are rejected; duplicate edges collapse.
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, ok := g.nodes[parentID]; !ok {
		return fmt.Errorf("dependency %q does not exist", parentID)
	}
	if _, ok := g.nodes[childID]; !ok {
		return fmt.Errorf("target %q does not exist", childID)
	}
	if parentID == childID {
		return fmt.Errorf("target %q depends on itself", parentID)
	}

	if !slices.Contains(g.dependents[parentID], childID) {
		g.dependents[parentID] = append(g.dependents[parentID], childID)
	}
	if !slices.Contains(g.deps[childID], parentID) {
		g.deps[childID] = append(g.deps[childID], parentID)
	}
	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// GetParents returns the dependencies of a target.
func (g *Graph) GetParents(id string) []string {
	return g.deps[id]
}

// GetChildren returns the targets that depend on the given target.
func (g *Graph) GetChildren(id string) []string {
	return g.dependents[id]
}

// NodeCount returns the number of targets in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of dependency edges.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.dependents {
		count += len(children)
	}
	return count
}

// HasCycle reports whether the graph contains a cycle, along with the
// cycle path for error reporting.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	cameFrom := make(map[string]string)

	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true

		for _, childID := range g.dependents[id] {
			if !visited[childID] {
				cameFrom[childID] = id
				if dfs(childID) {
					return true
				}
			} else if onStack[childID] {
				cyclePath = []string{childID}
				for curr := id; curr != childID; curr = cameFrom[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{childID}, cyclePath...)
				return true
			}
		}

		onStack[id] = false
		return false
	}

	for _, id := range g.sortedIDs() {
		if !visited[id] {
			if dfs(id) {
				return true, cyclePath
			}
		}
	}
	return false, nil
}

// TopologicalSort returns nodes with dependencies before dependents.
// The order is deterministic for a given graph.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, fmt.Errorf("dependency cycle: %v", cyclePath)
	}

	visited := make(map[string]bool)
	var result []*Node

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, parentID := range sortedCopy(g.deps[id]) {
			visit(parentID)
		}
		result = append(result, g.nodes[id])
	}

	for _, id := range g.sortedIDs() {
		visit(id)
	}
	return result, nil
}

// ExecutionLevels groups targets by execution level. Targets at level N
// can run in parallel once level N-1 has completed. Level 0 holds
// targets without dependencies.
func (g *Graph) ExecutionLevels() ([][]string, error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, fmt.Errorf("dependency cycle: %v", cyclePath)
	}

	assigned := make(map[string]int)

	var level func(id string) int
	level = func(id string) int {
		if lv, ok := assigned[id]; ok {
			return lv
		}
		lv := 0
		for _, parentID := range g.deps[id] {
			if pl := level(parentID) + 1; pl > lv {
				lv = pl
			}
		}
		assigned[id] = lv
		return lv
	}

	maxLevel := 0
	for id := range g.nodes {
		if lv := level(id); lv > maxLevel {
			maxLevel = lv
		}
	}

	levels := make([][]string, maxLevel+1)
	for id, lv := range assigned {
		levels[lv] = append(levels[lv], id)
	}
	for i := range levels {
		sort.Strings(levels[i])
	}
	return levels, nil
}

// Affected returns the given targets plus their entire downstream
// closure, sorted by name. Unknown IDs are ignored.
func (g *Graph) Affected(changedIDs []string) []string {
	affected := make(map[string]bool)

	var mark func(id string)
	mark = func(id string) {
		if affected[id] {
			return
		}
		affected[id] = true
		for _, childID := range g.dependents[id] {
			mark(childID)
		}
	}

	for _, id := range changedIDs {
		if _, ok := g.nodes[id]; ok {
			mark(id)
		}
	}
	return sortedKeys(affected)
}

// Upstream returns every transitive dependency of the given target,
// sorted by name.
func (g *Graph) Upstream(id string) []string {
	upstream := make(map[string]bool)

	var mark func(nodeID string)
	mark = func(nodeID string) {
		for _, parentID := range g.deps[nodeID] {
			if !upstream[parentID] {
				upstream[parentID] = true
				mark(parentID)
			}
		}
	}
	mark(id)
	return sortedKeys(upstream)
}

// Roots returns targets with no dependencies.
func (g *Graph) Roots() []string {
	var roots []string
	for id := range g.nodes {
		if len(g.deps[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// Leaves returns targets nothing else depends on.
func (g *Graph) Leaves() []string {
	var leaves []string
	for id := range g.nodes {
		if len(g.dependents[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	sort.Strings(leaves)
	return leaves
}

// Subgraph returns a new graph containing only the named targets and
// the edges between them.
func (g *Graph) Subgraph(ids []string) *Graph {
	sub := NewGraph()
	keep := make(map[string]bool, len(ids))

	for _, id := range ids {
		keep[id] = true
		if n, ok := g.nodes[id]; ok {
			sub.AddNode(id, n.Data)
		}
	}
	for _, id := range ids {
		for _, childID := range g.dependents[id] {
			if keep[childID] {
				_ = sub.AddEdge(id, childID)
			}
		}
	}
	return sub
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	sort.Strings(out)
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
