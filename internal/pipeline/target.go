// Package pipeline defines targets, the target registry, parameter
// tables, and dynamic branch expansion.
package pipeline

import (
	"errors"
	"fmt"
	"regexp"
)

// Format defines how a target's result is persisted.
type Format string

const (
	// FormatValue stores the command's value in the object store.
	FormatValue Format = "value"
	// FormatFile means the command returns a path; the engine tracks
	// the referenced file's content instead of the value.
	FormatFile Format = "file"
)

// Sentinel errors for registry and graph construction.
var (
	ErrDuplicateTarget = errors.New("duplicate target name")
	ErrUnknownTarget   = errors.New("unknown target")
	ErrInvalidName     = errors.New("invalid target name")
	ErrInvalidFormat   = errors.New("invalid target format")
	ErrCycle           = errors.New("dependency cycle")
)

// namePattern matches valid target names. Dots separate branch
// sub-target names from their base target.
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Target is a named, cached unit of computation.
type Target struct {
	// Name is the unique target name across the whole graph.
	Name string
	// Command is the Starlark expression producing the result.
	Command string
	// Format controls result persistence.
	Format Format
	// Deps are explicit dependencies, merged with analyzed ones.
	Deps []string
	// Doc is the source document path, empty for pipeline scripts.
	Doc string
	// Chunk is the originating chunk name, empty for pipeline scripts.
	Chunk string
	// Branch holds batch parameters for dynamic sub-targets.
	Branch *BranchInfo
}

// BranchInfo describes a dynamic sub-target produced by branch
// expansion.
type BranchInfo struct {
	// Parent is the base target name the branch was expanded from.
	Parent string
	// Index is the 1-based batch number.
	Index int
	// Rows are the parameter rows assigned to this batch, bound as
	// the params global during execution.
	Rows []map[string]any
}

// Validate checks name and format.
func (t *Target) Validate() error {
	if !namePattern.MatchString(t.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, t.Name)
	}
	switch t.Format {
	case FormatValue, FormatFile:
	case "":
		return fmt.Errorf("%w: empty", ErrInvalidFormat)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFormat, t.Format)
	}
	if t.Command == "" {
		return fmt.Errorf("target %q has no command", t.Name)
	}
	return nil
}

// IsBranch reports whether the target is a dynamic sub-target.
func (t *Target) IsBranch() bool {
	return t.Branch != nil
}
