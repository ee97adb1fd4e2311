package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/objects"
	"github.com/loomworks/loom/internal/state"
)

const basicPipeline = `
target(
    name = "base",
    command = "[1, 2, 3]",
)

target(
    name = "total",
    command = 'max(read_target("base")) * 10',
)
`

type testHarness struct {
	engine   *Engine
	dir      string
	pipeline string
}

func newTestHarness(t *testing.T, script string) *testHarness {
	t.Helper()

	st := state.NewSQLiteStore(nil)
	require.NoError(t, st.Open(":memory:"))
	require.NoError(t, st.InitSchema())
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	obj := objects.NewStore(filepath.Join(dir, "objects"))

	path := filepath.Join(dir, "pipeline.star")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))

	return &testHarness{
		engine:   New(st, obj),
		dir:      dir,
		pipeline: path,
	}
}

func (h *testHarness) rewrite(t *testing.T, script string) {
	t.Helper()
	require.NoError(t, os.WriteFile(h.pipeline, []byte(script), 0o644))
}

func statusOf(result *RunResult, name string) state.TargetRunStatus {
	for _, tr := range result.Targets {
		if tr.Name == name {
			return tr.Status
		}
	}
	return ""
}

func TestDiscover(t *testing.T) {
	h := newTestHarness(t, basicPipeline)
	require.NoError(t, h.engine.Discover(h.pipeline))

	assert.Equal(t, []string{"base", "total"}, h.engine.Registry().Names())
	assert.Equal(t, 2, h.engine.Graph().NodeCount())
	assert.Equal(t, 1, h.engine.Graph().EdgeCount())

	deps, err := h.engine.state.GetDependencies("total")
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, deps)
}

func TestDiscoverPrunesRemovedTargets(t *testing.T) {
	h := newTestHarness(t, basicPipeline)
	require.NoError(t, h.engine.Discover(h.pipeline))

	h.rewrite(t, `target(name = "base", command = "[1, 2, 3]")`)
	require.NoError(t, h.engine.Discover(h.pipeline))

	rec, err := h.engine.state.GetTarget("total")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRunExecutesInDependencyOrder(t *testing.T) {
	h := newTestHarness(t, basicPipeline)
	require.NoError(t, h.engine.Discover(h.pipeline))

	result, err := h.engine.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Executed)
	assert.Equal(t, 0, result.Failed)

	total, err := h.engine.objects.Get("total")
	require.NoError(t, err)
	assert.EqualValues(t, 30, total)

	run, err := h.engine.state.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusCompleted, run.Status)
}

func TestRunSecondPassUpToDate(t *testing.T) {
	h := newTestHarness(t, basicPipeline)
	require.NoError(t, h.engine.Discover(h.pipeline))

	_, err := h.engine.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	result, err := h.engine.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Executed)
	assert.Equal(t, 2, result.UpToDate)
}

func TestRediscoverKeepsCache(t *testing.T) {
	h := newTestHarness(t, basicPipeline)
	require.NoError(t, h.engine.Discover(h.pipeline))
	_, err := h.engine.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// A fresh discovery of the unchanged pipeline, as every CLI
	// invocation performs, must not invalidate anything.
	require.NoError(t, h.engine.Discover(h.pipeline))

	report, err := h.engine.Outdated()
	require.NoError(t, err)
	assert.Empty(t, report)

	result, err := h.engine.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Executed)
	assert.Equal(t, 2, result.UpToDate)
}

func TestRunForce(t *testing.T) {
	h := newTestHarness(t, basicPipeline)
	require.NoError(t, h.engine.Discover(h.pipeline))

	_, err := h.engine.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	result, err := h.engine.Run(context.Background(), RunOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Executed)
}

func TestOutdatedNeverBuilt(t *testing.T) {
	h := newTestHarness(t, basicPipeline)
	require.NoError(t, h.engine.Discover(h.pipeline))

	report, err := h.engine.Outdated()
	require.NoError(t, err)
	require.Len(t, report, 2)
	assert.Equal(t, ReasonNeverBuilt, report[0].Reason)
}

func TestCommandChangeReRunsOnlyChangedTarget(t *testing.T) {
	h := newTestHarness(t, basicPipeline)
	require.NoError(t, h.engine.Discover(h.pipeline))
	_, err := h.engine.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	h.rewrite(t, `
target(
    name = "base",
    command = "[1, 2, 3]",
)

target(
    name = "total",
    command = 'max(read_target("base")) * 100',
)
`)
	require.NoError(t, h.engine.Discover(h.pipeline))

	report, err := h.engine.Outdated()
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, "total", report[0].Name)
	assert.Equal(t, ReasonCommandChanged, report[0].Reason)

	result, err := h.engine.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Executed)
	assert.Equal(t, state.TargetRunStatusUpToDate, statusOf(result, "base"))
	assert.Equal(t, state.TargetRunStatusSuccess, statusOf(result, "total"))

	total, err := h.engine.objects.Get("total")
	require.NoError(t, err)
	assert.EqualValues(t, 300, total)
}

func TestIdenticalRebuildDoesNotCascade(t *testing.T) {
	h := newTestHarness(t, basicPipeline)
	require.NoError(t, h.engine.Discover(h.pipeline))
	_, err := h.engine.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// Drop base's result; the rebuild produces an identical hash, so
	// total stays up to date.
	require.NoError(t, h.engine.Clean([]string{"base"}))

	result, err := h.engine.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, state.TargetRunStatusSuccess, statusOf(result, "base"))
	assert.Equal(t, state.TargetRunStatusUpToDate, statusOf(result, "total"))
}

func TestFailureSkipsDownstream(t *testing.T) {
	h := newTestHarness(t, `
target(
    name = "broken",
    command = "no_such_name",
)

target(
    name = "dependent",
    command = 'read_target("broken")',
)
`)
	require.NoError(t, h.engine.Discover(h.pipeline))

	result, err := h.engine.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, state.TargetRunStatusFailed, statusOf(result, "broken"))
	assert.Equal(t, state.TargetRunStatusSkipped, statusOf(result, "dependent"))

	run, err := h.engine.state.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusFailed, run.Status)
}

func TestSelection(t *testing.T) {
	h := newTestHarness(t, basicPipeline)
	require.NoError(t, h.engine.Discover(h.pipeline))

	result, err := h.engine.Run(context.Background(), RunOptions{Select: []string{"base"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Executed)
	assert.False(t, h.engine.objects.Has("total"))

	_, err = h.engine.Run(context.Background(), RunOptions{Select: []string{"missing"}})
	require.Error(t, err)
}

func TestSelectionDownstream(t *testing.T) {
	h := newTestHarness(t, basicPipeline)
	require.NoError(t, h.engine.Discover(h.pipeline))

	result, err := h.engine.Run(context.Background(), RunOptions{
		Select:     []string{"base"},
		Downstream: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Executed)
}

func TestBranchTargets(t *testing.T) {
	h := newTestHarness(t, `
branch_over(
    name = "sim",
    table = [{"x": 1}, {"x": 2}, {"x": 3}, {"x": 4}],
    command = "[row['x'] * 2 for row in params]",
    batches = 2,
)
`)
	require.NoError(t, h.engine.Discover(h.pipeline))
	assert.Equal(t, []string{"sim.b01", "sim.b02"}, h.engine.Registry().Names())

	result, err := h.engine.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Executed)

	first, err := h.engine.objects.Get("sim.b01")
	require.NoError(t, err)
	assert.Equal(t, []any{float64(2), float64(4)}, first)

	second, err := h.engine.objects.Get("sim.b02")
	require.NoError(t, err)
	assert.Equal(t, []any{float64(6), float64(8)}, second)
}

func TestFileTarget(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(data, []byte("v1"), 0o644))

	h := newTestHarness(t, `
target(
    name = "report",
    command = '"`+filepath.ToSlash(data)+`"',
    format = "file",
)
`)
	require.NoError(t, h.engine.Discover(h.pipeline))

	_, err := h.engine.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	report, err := h.engine.Outdated()
	require.NoError(t, err)
	assert.Empty(t, report)

	// Touching the file's contents makes the target outdated again.
	require.NoError(t, os.WriteFile(data, []byte("v2"), 0o644))
	report, err = h.engine.Outdated()
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, ReasonFileChanged, report[0].Reason)
}

func TestClean(t *testing.T) {
	h := newTestHarness(t, basicPipeline)
	require.NoError(t, h.engine.Discover(h.pipeline))
	_, err := h.engine.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.NoError(t, h.engine.Clean(nil))
	assert.False(t, h.engine.objects.Has("base"))
	assert.False(t, h.engine.objects.Has("total"))

	report, err := h.engine.Outdated()
	require.NoError(t, err)
	assert.Len(t, report, 2)
}
