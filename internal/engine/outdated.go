package engine

import (
	"fmt"
	"os"

	"github.com/loomworks/loom/internal/objects"
	"github.com/loomworks/loom/internal/pipeline"
)

// Reason explains why a target is considered outdated.
type Reason string

const (
	ReasonNeverBuilt     Reason = "never built"
	ReasonCommandChanged Reason = "command changed"
	ReasonDepsChanged    Reason = "dependency changed"
	ReasonResultMissing  Reason = "result missing"
	ReasonFileChanged    Reason = "file changed"
	ReasonForced         Reason = "forced"
)

// OutdatedTarget is one entry in an outdated report.
type OutdatedTarget struct {
	Name   string `json:"name"`
	Reason Reason `json:"reason"`
}

// Outdated reports which discovered targets would run, in topological
// order. A target downstream of an outdated one is reported as
// outdated too, since its input hash may change once the upstream
// result is rebuilt.
func (e *Engine) Outdated() ([]OutdatedTarget, error) {
	if e.graph == nil {
		return nil, fmt.Errorf("pipeline not discovered")
	}

	nodes, err := e.graph.TopologicalSort()
	if err != nil {
		return nil, err
	}

	var report []OutdatedTarget
	stale := make(map[string]bool)
	for _, node := range nodes {
		t, _ := e.registry.Get(node.ID)
		deps, err := e.registry.ResolvedDeps(t)
		if err != nil {
			return nil, err
		}

		upstream := false
		for _, dep := range deps {
			if stale[dep] {
				upstream = true
				break
			}
		}
		if upstream {
			stale[t.Name] = true
			report = append(report, OutdatedTarget{Name: t.Name, Reason: ReasonDepsChanged})
			continue
		}

		reason, outdated, err := e.checkTarget(t, deps, e.changed[t.Name])
		if err != nil {
			return nil, err
		}
		if outdated {
			stale[t.Name] = true
			report = append(report, OutdatedTarget{Name: t.Name, Reason: reason})
		}
	}
	return report, nil
}

// checkTarget decides whether one target is outdated on its own,
// ignoring upstream staleness. commandChanged is the discovery-time
// comparison of the script command against the stored one.
func (e *Engine) checkTarget(t *pipeline.Target, deps []string, commandChanged bool) (Reason, bool, error) {
	rec, err := e.state.GetTarget(t.Name)
	if err != nil {
		return "", false, err
	}
	if rec == nil || rec.InputHash == "" {
		return ReasonNeverBuilt, true, nil
	}
	if commandChanged {
		return ReasonCommandChanged, true, nil
	}

	current, err := e.inputHash(t, deps)
	if err != nil {
		return "", false, err
	}
	if current != rec.InputHash {
		return ReasonDepsChanged, true, nil
	}

	if !e.objects.Has(t.Name) {
		return ReasonResultMissing, true, nil
	}
	if t.Format == pipeline.FormatFile {
		changed, err := e.fileChanged(t.Name, rec.ResultHash)
		if err != nil {
			return "", false, err
		}
		if changed {
			return ReasonFileChanged, true, nil
		}
	}
	return "", false, nil
}

// fileChanged rehashes the file a file-format target points at and
// compares it with the recorded result hash.
func (e *Engine) fileChanged(name, resultHash string) (bool, error) {
	v, err := e.objects.Get(name)
	if err != nil {
		return false, err
	}
	path, ok := v.(string)
	if !ok {
		return true, nil
	}
	if _, err := os.Stat(path); err != nil {
		return true, nil
	}
	hash, err := objects.HashFile(path)
	if err != nil {
		return true, nil
	}
	return hash != resultHash, nil
}
