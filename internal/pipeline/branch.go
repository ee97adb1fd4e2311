package pipeline

import (
	"fmt"
)

// ExpandBranches generates one sub-target per parameter batch. Rows
// are assigned to batches in table order as contiguous slices whose
// sizes differ by at most one row, so exactly batches sub-targets come
// back. batches larger than the row count clamps to one row per batch.
// An empty table yields no sub-targets.
func ExpandBranches(base *Target, table *ParamTable, batches int) ([]*Target, error) {
	if err := base.Validate(); err != nil {
		return nil, err
	}
	if batches <= 0 {
		return nil, fmt.Errorf("target %q: batches must be positive, got %d", base.Name, batches)
	}
	if table == nil || table.Len() == 0 {
		return nil, nil
	}

	rows := table.Rows
	if batches > len(rows) {
		batches = len(rows)
	}
	size := len(rows) / batches
	extra := len(rows) % batches

	width := len(fmt.Sprintf("%d", batches))
	if width < 2 {
		width = 2
	}

	subs := make([]*Target, 0, batches)
	lo := 0
	for i := 0; i < batches; i++ {
		hi := lo + size
		if i < extra {
			hi++
		}

		subs = append(subs, &Target{
			Name:    fmt.Sprintf("%s.b%0*d", base.Name, width, i+1),
			Command: base.Command,
			Format:  base.Format,
			Deps:    append([]string(nil), base.Deps...),
			Doc:     base.Doc,
			Chunk:   base.Chunk,
			Branch: &BranchInfo{
				Parent: base.Name,
				Index:  i + 1,
				Rows:   rows[lo:hi],
			},
		})
		lo = hi
	}
	return subs, nil
}
