package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s := NewSQLiteStore(nil)
	require.NoError(t, s.Open(":memory:"))
	require.NoError(t, s.InitSchema())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_UpsertAndGetTarget(t *testing.T) {
	s := newTestStore(t)

	rec := &TargetRecord{Name: "clean", Command: `scrub(read_target("raw"))`, Format: "value"}
	require.NoError(t, s.UpsertTarget(rec))
	assert.NotEmpty(t, rec.ID)

	got, err := s.GetTarget("clean")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "value", got.Format)

	// update preserves identity
	rec2 := &TargetRecord{Name: "clean", Command: "changed()", Format: "value"}
	require.NoError(t, s.UpsertTarget(rec2))
	assert.Equal(t, rec.ID, rec2.ID)

	got, err = s.GetTarget("clean")
	require.NoError(t, err)
	assert.Equal(t, "changed()", got.Command)
}

func TestSQLiteStore_UpsertPreservesHashes(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertTarget(&TargetRecord{Name: "clean", Command: "c1", Format: "value"}))
	require.NoError(t, s.SetTargetHashes("clean", "in-1", "res-1"))

	// A second discovery pass upserts the definition again with empty
	// hash fields; the stored hashes must survive.
	require.NoError(t, s.UpsertTarget(&TargetRecord{Name: "clean", Command: "c1", Format: "value"}))

	got, err := s.GetTarget("clean")
	require.NoError(t, err)
	assert.Equal(t, "in-1", got.InputHash)
	assert.Equal(t, "res-1", got.ResultHash)

	// Same when the command changed.
	require.NoError(t, s.UpsertTarget(&TargetRecord{Name: "clean", Command: "c2", Format: "value"}))
	got, err = s.GetTarget("clean")
	require.NoError(t, err)
	assert.Equal(t, "c2", got.Command)
	assert.Equal(t, "in-1", got.InputHash)
	assert.Equal(t, "res-1", got.ResultHash)
}

func TestSQLiteStore_GetTarget_Missing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetTarget("ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_HashesAndClear(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertTarget(&TargetRecord{Name: "a", Command: "1"}))
	require.NoError(t, s.UpsertTarget(&TargetRecord{Name: "b", Command: "2"}))

	require.NoError(t, s.SetTargetHashes("a", "in1", "out1"))
	got, err := s.GetTarget("a")
	require.NoError(t, err)
	assert.Equal(t, "in1", got.InputHash)
	assert.Equal(t, "out1", got.ResultHash)

	require.Error(t, s.SetTargetHashes("ghost", "x", "y"))

	require.NoError(t, s.SetTargetHashes("b", "in2", "out2"))
	require.NoError(t, s.ClearHashes([]string{"a"}))

	got, _ = s.GetTarget("a")
	assert.Empty(t, got.InputHash)
	got, _ = s.GetTarget("b")
	assert.Equal(t, "in2", got.InputHash)

	require.NoError(t, s.ClearHashes(nil))
	got, _ = s.GetTarget("b")
	assert.Empty(t, got.InputHash)
}

func TestSQLiteStore_Dependencies(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetDependencies("fit", []string{"clean", "params"}))

	deps, err := s.GetDependencies("fit")
	require.NoError(t, err)
	assert.Equal(t, []string{"clean", "params"}, deps)

	// replaces existing
	require.NoError(t, s.SetDependencies("fit", []string{"clean"}))
	deps, err = s.GetDependencies("fit")
	require.NoError(t, err)
	assert.Equal(t, []string{"clean"}, deps)
}

func TestSQLiteStore_PruneTargets(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertTarget(&TargetRecord{Name: "a", Command: "1"}))
	require.NoError(t, s.UpsertTarget(&TargetRecord{Name: "b", Command: "2"}))
	require.NoError(t, s.SetDependencies("b", []string{"a"}))

	removed, err := s.PruneTargets([]string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := s.GetTarget("b")
	require.NoError(t, err)
	assert.Nil(t, got)

	deps, err := s.GetDependencies("b")
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	s := newTestStore(t)

	run, err := s.CreateRun("dev")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, run.Status)

	tr := &TargetRun{RunID: run.ID, TargetName: "clean", Status: TargetRunStatusPending}
	require.NoError(t, s.RecordTargetRun(tr))
	require.NoError(t, s.UpdateTargetRun(tr.ID, TargetRunStatusSuccess, "", 42))

	require.NoError(t, s.CompleteRun(run.ID, RunStatusCompleted, ""))

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	latest, err := s.GetLatestRun("dev")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, run.ID, latest.ID)

	trs, err := s.GetTargetRunsForRun(run.ID)
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, TargetRunStatusSuccess, trs[0].Status)
	assert.EqualValues(t, 42, trs[0].ExecutionMS)

	none, err := s.GetLatestRun("prod")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSQLiteStore_FailedRunRecordsError(t *testing.T) {
	s := newTestStore(t)

	run, err := s.CreateRun("dev")
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(run.ID, RunStatusFailed, "boom"))

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
}
