package engine

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/loomworks/loom/internal/pipeline"
)

// inputHash fingerprints everything that determines a target's
// result: its command, its format, its branch parameters, and the
// result hashes of its dependencies. A target whose stored input hash
// matches is up to date.
func (e *Engine) inputHash(t *pipeline.Target, deps []string) (string, error) {
	h := xxhash.New()
	h.WriteString(t.Command)
	h.WriteString("\x00")
	h.WriteString(string(t.Format))
	h.WriteString("\x00")

	if t.IsBranch() {
		rows, err := json.Marshal(t.Branch.Rows)
		if err != nil {
			return "", fmt.Errorf("failed to hash branch parameters of %q: %w", t.Name, err)
		}
		h.Write(rows)
		h.WriteString("\x00")
	}

	sorted := make([]string, len(deps))
	copy(sorted, deps)
	sort.Strings(sorted)
	for _, dep := range sorted {
		rec, err := e.state.GetTarget(dep)
		if err != nil {
			return "", err
		}
		resultHash := ""
		if rec != nil {
			resultHash = rec.ResultHash
		}
		h.WriteString(dep)
		h.WriteString("=")
		h.WriteString(resultHash)
		h.WriteString("\x00")
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
