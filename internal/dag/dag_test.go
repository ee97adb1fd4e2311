package dag

import (
	"testing"
)

func TestGraph_AddNodeAndEdge(t *testing.T) {
	g := NewGraph()

	g.AddNode("raw", nil)
	g.AddNode("clean", nil)
	g.AddNode("report", nil)

	if g.NodeCount() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.NodeCount())
	}

	if err := g.AddEdge("raw", "clean"); err != nil {
		t.Errorf("failed to add edge: %v", err)
	}
	if err := g.AddEdge("clean", "report"); err != nil {
		t.Errorf("failed to add edge: %v", err)
	}

	if g.EdgeCount() != 2 {
		t.Errorf("expected 2 edges, got %d", g.EdgeCount())
	}

	// duplicate edge collapses
	if err := g.AddEdge("raw", "clean"); err != nil {
		t.Errorf("duplicate edge should not error: %v", err)
	}
	if g.EdgeCount() != 2 {
		t.Errorf("expected duplicate edge to collapse, got %d edges", g.EdgeCount())
	}
}

func TestGraph_AddEdge_InvalidNodes(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)

	if err := g.AddEdge("a", "missing"); err == nil {
		t.Error("expected error for missing child node")
	}
	if err := g.AddEdge("missing", "a"); err == nil {
		t.Error("expected error for missing parent node")
	}
}

func TestGraph_AddEdge_SelfLoop(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)

	if err := g.AddEdge("a", "a"); err == nil {
		t.Error("expected error for self-loop")
	}
}

func TestGraph_ParentsAndChildren(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)
	g.AddNode("b", nil)
	g.AddNode("c", nil)

	g.AddEdge("a", "b")
	g.AddEdge("a", "c")
	g.AddEdge("b", "c")

	if got := g.GetParents("c"); len(got) != 2 {
		t.Errorf("expected c to have 2 parents, got %d", len(got))
	}
	if got := g.GetChildren("a"); len(got) != 2 {
		t.Errorf("expected a to have 2 children, got %d", len(got))
	}
}

func TestGraph_HasCycle(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)
	g.AddNode("b", nil)
	g.AddNode("c", nil)
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	if hasCycle, path := g.HasCycle(); hasCycle {
		t.Errorf("expected no cycle, found: %v", path)
	}

	g.AddEdge("c", "a")
	hasCycle, path := g.HasCycle()
	if !hasCycle {
		t.Fatal("expected cycle")
	}
	if len(path) < 4 {
		t.Errorf("expected cycle path a->b->c->a, got %v", path)
	}
	if path[0] != path[len(path)-1] {
		t.Errorf("cycle path should start and end at the same node: %v", path)
	}
}

func TestGraph_TopologicalSort(t *testing.T) {
	g := NewGraph()
	g.AddNode("report", nil)
	g.AddNode("raw", nil)
	g.AddNode("clean", nil)
	g.AddEdge("raw", "clean")
	g.AddEdge("clean", "report")

	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("topological sort failed: %v", err)
	}

	pos := make(map[string]int)
	for i, n := range sorted {
		pos[n.ID] = i
	}
	if pos["raw"] > pos["clean"] || pos["clean"] > pos["report"] {
		t.Errorf("wrong order: %v", pos)
	}
}

func TestGraph_TopologicalSort_Cycle(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)
	g.AddNode("b", nil)
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	if _, err := g.TopologicalSort(); err == nil {
		t.Error("expected error for cyclic graph")
	}
}

func TestGraph_ExecutionLevels(t *testing.T) {
	g := NewGraph()
	// diamond: raw -> {left, right} -> merge
	g.AddNode("raw", nil)
	g.AddNode("left", nil)
	g.AddNode("right", nil)
	g.AddNode("merge", nil)
	g.AddEdge("raw", "left")
	g.AddEdge("raw", "right")
	g.AddEdge("left", "merge")
	g.AddEdge("right", "merge")

	levels, err := g.ExecutionLevels()
	if err != nil {
		t.Fatalf("execution levels failed: %v", err)
	}
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(levels))
	}
	if len(levels[0]) != 1 || levels[0][0] != "raw" {
		t.Errorf("level 0 should be [raw], got %v", levels[0])
	}
	if len(levels[1]) != 2 {
		t.Errorf("level 1 should hold left and right, got %v", levels[1])
	}
	if len(levels[2]) != 1 || levels[2][0] != "merge" {
		t.Errorf("level 2 should be [merge], got %v", levels[2])
	}
}

func TestGraph_Affected(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)
	g.AddNode("b", nil)
	g.AddNode("c", nil)
	g.AddNode("d", nil)
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	affected := g.Affected([]string{"a"})
	if len(affected) != 3 {
		t.Errorf("expected [a b c], got %v", affected)
	}

	// unknown IDs are ignored
	affected = g.Affected([]string{"nope"})
	if len(affected) != 0 {
		t.Errorf("expected empty set for unknown target, got %v", affected)
	}
}

func TestGraph_Upstream(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)
	g.AddNode("b", nil)
	g.AddNode("c", nil)
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	up := g.Upstream("c")
	if len(up) != 2 {
		t.Errorf("expected [a b], got %v", up)
	}
}

func TestGraph_RootsAndLeaves(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)
	g.AddNode("b", nil)
	g.AddNode("c", nil)
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	if roots := g.Roots(); len(roots) != 1 || roots[0] != "a" {
		t.Errorf("expected roots [a], got %v", roots)
	}
	if leaves := g.Leaves(); len(leaves) != 1 || leaves[0] != "c" {
		t.Errorf("expected leaves [c], got %v", leaves)
	}
}

func TestGraph_Subgraph(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)
	g.AddNode("b", nil)
	g.AddNode("c", nil)
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	sub := g.Subgraph([]string{"b", "c"})
	if sub.NodeCount() != 2 {
		t.Errorf("expected 2 nodes, got %d", sub.NodeCount())
	}
	if sub.EdgeCount() != 1 {
		t.Errorf("expected 1 edge, got %d", sub.EdgeCount())
	}
	if _, ok := sub.GetNode("a"); ok {
		t.Error("subgraph should not contain a")
	}
}
