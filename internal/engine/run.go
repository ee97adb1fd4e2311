package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.starlark.net/starlark"
	"golang.org/x/sync/errgroup"

	"github.com/loomworks/loom/internal/objects"
	"github.com/loomworks/loom/internal/pipeline"
	star "github.com/loomworks/loom/internal/starlark"
	"github.com/loomworks/loom/internal/state"
)

// RunOptions controls a pipeline run.
type RunOptions struct {
	// Force runs every selected target regardless of hashes.
	Force bool
	// Select limits the run to the named targets plus their upstream
	// closure.
	Select []string
	// Downstream additionally includes everything depending on the
	// selected targets.
	Downstream bool
}

// TargetResult is the outcome of one target in a run.
type TargetResult struct {
	Name     string
	Status   state.TargetRunStatus
	Error    string
	Duration time.Duration
}

// RunResult summarizes a pipeline run.
type RunResult struct {
	RunID    string
	Targets  []TargetResult
	Executed int
	UpToDate int
	Skipped  int
	Failed   int
}

// Run executes outdated targets in dependency order. Targets within
// the same level run concurrently; a failed target skips everything
// downstream of it. Up-to-date decisions are made per target after
// its dependencies have finished, so an upstream rebuild that
// produces an identical result does not cascade.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	graph, err := e.Selection(opts.Select, opts.Downstream)
	if err != nil {
		return nil, err
	}
	levels, err := graph.ExecutionLevels()
	if err != nil {
		return nil, err
	}

	run, err := e.state.CreateRun(e.envName)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	e.logger.Info("starting run", "run_id", run.ID, "env", e.envName, "targets", graph.NodeCount())

	var (
		mu       sync.Mutex
		statuses = make(map[string]state.TargetRunStatus)
		result   = &RunResult{RunID: run.ID}
	)
	record := func(tr TargetResult) {
		mu.Lock()
		defer mu.Unlock()
		statuses[tr.Name] = tr.Status
		result.Targets = append(result.Targets, tr)
		switch tr.Status {
		case state.TargetRunStatusSuccess:
			result.Executed++
		case state.TargetRunStatusUpToDate:
			result.UpToDate++
		case state.TargetRunStatusSkipped:
			result.Skipped++
		case state.TargetRunStatusFailed:
			result.Failed++
		}
	}

	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.parallelism)
		for _, name := range level {
			name := name
			g.Go(func() error {
				tr := e.runTarget(gctx, run.ID, name, opts.Force, statuses, &mu)
				record(tr)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	status := state.RunStatusCompleted
	errMsg := ""
	if ctx.Err() != nil {
		status = state.RunStatusFailed
		errMsg = ctx.Err().Error()
	} else if result.Failed > 0 {
		status = state.RunStatusFailed
		errMsg = fmt.Sprintf("%d target(s) failed", result.Failed)
	}
	if err := e.state.CompleteRun(run.ID, status, errMsg); err != nil {
		return nil, fmt.Errorf("failed to complete run: %w", err)
	}
	e.logger.Info("run finished", "run_id", run.ID, "status", status,
		"executed", result.Executed, "up_to_date", result.UpToDate,
		"skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// runTarget decides and executes one target. statuses is read under
// mu to see how dependencies fared in earlier levels.
func (e *Engine) runTarget(ctx context.Context, runID, name string, force bool, statuses map[string]state.TargetRunStatus, mu *sync.Mutex) TargetResult {
	t, _ := e.registry.Get(name)
	deps, err := e.registry.ResolvedDeps(t)
	if err != nil {
		return e.failTarget(runID, name, err)
	}

	mu.Lock()
	blocked := ""
	for _, dep := range deps {
		switch statuses[dep] {
		case state.TargetRunStatusFailed, state.TargetRunStatusSkipped:
			blocked = dep
		}
	}
	mu.Unlock()
	if blocked != "" {
		e.logger.Warn("skipping target", "target", name, "blocked_by", blocked)
		e.recordRun(runID, name, state.TargetRunStatusSkipped,
			fmt.Sprintf("dependency %q did not succeed", blocked), 0)
		return TargetResult{Name: name, Status: state.TargetRunStatusSkipped,
			Error: fmt.Sprintf("dependency %q did not succeed", blocked)}
	}

	if ctx.Err() != nil {
		e.recordRun(runID, name, state.TargetRunStatusSkipped, ctx.Err().Error(), 0)
		return TargetResult{Name: name, Status: state.TargetRunStatusSkipped, Error: ctx.Err().Error()}
	}

	inputHash, err := e.inputHash(t, deps)
	if err != nil {
		return e.failTarget(runID, name, err)
	}
	mu.Lock()
	commandChanged := e.changed[name]
	mu.Unlock()

	if !force {
		_, outdated, err := e.checkTarget(t, deps, commandChanged)
		if err != nil {
			return e.failTarget(runID, name, err)
		}
		if !outdated {
			e.logger.Debug("target up to date", "target", name)
			e.recordRun(runID, name, state.TargetRunStatusUpToDate, "", 0)
			return TargetResult{Name: name, Status: state.TargetRunStatusUpToDate}
		}
	}

	started := time.Now()
	tr := &state.TargetRun{
		ID:         uuid.NewString(),
		RunID:      runID,
		TargetName: name,
		Status:     state.TargetRunStatusRunning,
		StartedAt:  started,
	}
	if err := e.state.RecordTargetRun(tr); err != nil {
		return e.failTarget(runID, name, err)
	}

	resultHash, err := e.executeTarget(t)
	elapsed := time.Since(started)
	if err != nil {
		e.logger.Error("target failed", "target", name, "error", err)
		_ = e.state.UpdateTargetRun(tr.ID, state.TargetRunStatusFailed, err.Error(), elapsed.Milliseconds())
		return TargetResult{Name: name, Status: state.TargetRunStatusFailed,
			Error: err.Error(), Duration: elapsed}
	}

	if err := e.state.SetTargetHashes(name, inputHash, resultHash); err != nil {
		return e.failTarget(runID, name, err)
	}
	mu.Lock()
	delete(e.changed, name)
	mu.Unlock()
	_ = e.state.UpdateTargetRun(tr.ID, state.TargetRunStatusSuccess, "", elapsed.Milliseconds())
	e.logger.Info("target built", "target", name, "duration", elapsed)
	return TargetResult{Name: name, Status: state.TargetRunStatusSuccess, Duration: elapsed}
}

// executeTarget evaluates the target command and persists its result,
// returning the result hash.
func (e *Engine) executeTarget(t *pipeline.Target) (string, error) {
	var extra starlark.StringDict
	if t.IsBranch() {
		params, err := star.GoToStarlark(t.Branch.Rows)
		if err != nil {
			return "", fmt.Errorf("failed to bind branch parameters: %w", err)
		}
		extra = starlark.StringDict{"params": params}
	}

	v, err := e.env.EvalExpr(t.Name, t.Command, extra)
	if err != nil {
		return "", err
	}
	value, err := star.ToGo(v)
	if err != nil {
		return "", err
	}

	resultHash, err := e.objects.Put(t.Name, value)
	if err != nil {
		return "", err
	}

	if t.Format == pipeline.FormatFile {
		path, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("file target %q must evaluate to a path string, got %T", t.Name, value)
		}
		fileHash, err := objects.HashFile(path)
		if err != nil {
			return "", fmt.Errorf("file target %q: %w", t.Name, err)
		}
		resultHash = fileHash
	}
	return resultHash, nil
}

func (e *Engine) failTarget(runID, name string, err error) TargetResult {
	e.logger.Error("target failed", "target", name, "error", err)
	e.recordRun(runID, name, state.TargetRunStatusFailed, err.Error(), 0)
	return TargetResult{Name: name, Status: state.TargetRunStatusFailed, Error: err.Error()}
}

// recordRun writes a terminal target_run row for targets that never
// reached the running state.
func (e *Engine) recordRun(runID, name string, status state.TargetRunStatus, errMsg string, ms int64) {
	now := time.Now()
	tr := &state.TargetRun{
		ID:          uuid.NewString(),
		RunID:       runID,
		TargetName:  name,
		Status:      status,
		Error:       errMsg,
		ExecutionMS: ms,
		StartedAt:   now,
		CompletedAt: &now,
	}
	if err := e.state.RecordTargetRun(tr); err != nil {
		e.logger.Error("failed to record target run", "target", name, "error", err)
	}
}
