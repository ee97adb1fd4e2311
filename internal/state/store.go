// Package state provides SQLite-backed persistence for the target
// graph: target records with hashes, dependency edges, and run
// history.
package state

import "time"

// RunStatus is the lifecycle status of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// TargetRunStatus is the status of one target within a run.
type TargetRunStatus string

const (
	TargetRunStatusPending  TargetRunStatus = "pending"
	TargetRunStatusRunning  TargetRunStatus = "running"
	TargetRunStatusSuccess  TargetRunStatus = "success"
	TargetRunStatusFailed   TargetRunStatus = "failed"
	TargetRunStatusSkipped  TargetRunStatus = "skipped"
	TargetRunStatusUpToDate TargetRunStatus = "up_to_date"
)

// Run is a single pipeline execution.
type Run struct {
	ID          string
	Environment string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// TargetRun records one target execution within a run.
type TargetRun struct {
	ID          string
	RunID       string
	TargetName  string
	Status      TargetRunStatus
	Error       string
	ExecutionMS int64
	StartedAt   time.Time
	CompletedAt *time.Time
}

// TargetRecord is the persisted view of a target definition.
type TargetRecord struct {
	ID         string
	Name       string
	Command    string
	Format     string
	InputHash  string
	ResultHash string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store is the persistence interface for the target graph.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	UpsertTarget(t *TargetRecord) error
	GetTarget(name string) (*TargetRecord, error)
	ListTargets() ([]*TargetRecord, error)
	PruneTargets(keep []string) (int, error)
	SetTargetHashes(name, inputHash, resultHash string) error
	ClearHashes(names []string) error

	SetDependencies(name string, parents []string) error
	GetDependencies(name string) ([]string, error)

	CreateRun(env string) (*Run, error)
	GetRun(id string) (*Run, error)
	GetLatestRun(env string) (*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error

	RecordTargetRun(tr *TargetRun) error
	UpdateTargetRun(id string, status TargetRunStatus, errMsg string, executionMS int64) error
	GetTargetRunsForRun(runID string) ([]*TargetRun, error)
}
