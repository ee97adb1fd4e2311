package state

import (
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite state store instance.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SQLiteStore{logger: logger}
}

// Open opens a connection to the SQLite database. Use ":memory:" for
// an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping state database: %w", err)
	}

	s.db = db
	s.path = path
	s.logger.Debug("state store opened", "path", path)
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InitSchema initializes the database schema.
func (s *SQLiteStore) InitSchema() error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func generateID() string {
	return uuid.New().String()
}

// --- Target operations ---

// UpsertTarget registers a target or updates an existing one by name.
func (s *SQLiteStore) UpsertTarget(t *TargetRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if t.Format == "" {
		t.Format = "value"
	}

	now := time.Now().UTC()

	existing, err := s.GetTarget(t.Name)
	if err != nil {
		return fmt.Errorf("failed to check existing target: %w", err)
	}

	if existing != nil {
		// Hashes are owned by SetTargetHashes/ClearHashes; a
		// re-discovered definition must not erase them.
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
		t.InputHash = existing.InputHash
		t.ResultHash = existing.ResultHash
		t.UpdatedAt = now
		_, err := s.db.Exec(
			`UPDATE targets SET command = ?, format = ?, updated_at = ? WHERE id = ?`,
			t.Command, t.Format, t.UpdatedAt, t.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update target: %w", err)
		}
		return nil
	}

	if t.ID == "" {
		t.ID = generateID()
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	_, err = s.db.Exec(
		`INSERT INTO targets (id, name, command, format, input_hash, result_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Command, t.Format, t.InputHash, t.ResultHash, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert target: %w", err)
	}
	return nil
}

// GetTarget retrieves a target by name. Returns nil without error when
// the target is unknown.
func (s *SQLiteStore) GetTarget(name string) (*TargetRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	t := &TargetRecord{}
	err := s.db.QueryRow(
		`SELECT id, name, command, format, input_hash, result_hash, created_at, updated_at
		 FROM targets WHERE name = ?`,
		name,
	).Scan(&t.ID, &t.Name, &t.Command, &t.Format, &t.InputHash, &t.ResultHash, &t.CreatedAt, &t.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target: %w", err)
	}
	return t, nil
}

// ListTargets retrieves all registered targets ordered by name.
func (s *SQLiteStore) ListTargets() ([]*TargetRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, name, command, format, input_hash, result_hash, created_at, updated_at
		 FROM targets ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	var targets []*TargetRecord
	for rows.Next() {
		t := &TargetRecord{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Command, &t.Format, &t.InputHash, &t.ResultHash, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// PruneTargets removes target rows whose names are not in keep,
// returning the number removed. Their dependency edges go with them.
func (s *SQLiteStore) PruneTargets(keep []string) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not opened")
	}

	keepSet := make(map[string]bool, len(keep))
	for _, n := range keep {
		keepSet[n] = true
	}

	all, err := s.ListTargets()
	if err != nil {
		return 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	removed := 0
	for _, t := range all {
		if keepSet[t.Name] {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM targets WHERE id = ?`, t.ID); err != nil {
			return 0, fmt.Errorf("failed to prune target %q: %w", t.Name, err)
		}
		if _, err := tx.Exec(`DELETE FROM dependencies WHERE target_name = ? OR parent_name = ?`, t.Name, t.Name); err != nil {
			return 0, fmt.Errorf("failed to prune dependencies of %q: %w", t.Name, err)
		}
		removed++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return removed, nil
}

// SetTargetHashes records the input and result hashes after a
// successful build.
func (s *SQLiteStore) SetTargetHashes(name, inputHash, resultHash string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	result, err := s.db.Exec(
		`UPDATE targets SET input_hash = ?, result_hash = ?, updated_at = ? WHERE name = ?`,
		inputHash, resultHash, time.Now().UTC(), name,
	)
	if err != nil {
		return fmt.Errorf("failed to update target hashes: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("target not found: %s", name)
	}
	return nil
}

// ClearHashes invalidates the stored hashes for the named targets, or
// for every target when names is empty.
func (s *SQLiteStore) ClearHashes(names []string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if len(names) == 0 {
		_, err := s.db.Exec(`UPDATE targets SET input_hash = '', result_hash = '', updated_at = ?`, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to clear hashes: %w", err)
		}
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	args := make([]any, 0, len(names)+1)
	args = append(args, time.Now().UTC())
	for _, n := range names {
		args = append(args, n)
	}
	_, err := s.db.Exec(
		fmt.Sprintf(`UPDATE targets SET input_hash = '', result_hash = '', updated_at = ? WHERE name IN (%s)`, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to clear hashes: %w", err)
	}
	return nil
}

// --- Dependency operations ---

// SetDependencies replaces the parent edges for a target.
func (s *SQLiteStore) SetDependencies(name string, parents []string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM dependencies WHERE target_name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete existing dependencies: %w", err)
	}
	for _, parent := range parents {
		if _, err := tx.Exec(`INSERT INTO dependencies (target_name, parent_name) VALUES (?, ?)`, name, parent); err != nil {
			return fmt.Errorf("failed to insert dependency: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetDependencies retrieves the parent names for a target.
func (s *SQLiteStore) GetDependencies(name string) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(`SELECT parent_name FROM dependencies WHERE target_name = ? ORDER BY parent_name`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get dependencies: %w", err)
	}
	defer rows.Close()

	var parents []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		parents = append(parents, p)
	}
	return parents, rows.Err()
}

// --- Run operations ---

// CreateRun creates a new pipeline run.
func (s *SQLiteStore) CreateRun(env string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &Run{
		ID:          generateID(),
		Environment: env,
		Status:      RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (id, environment, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Environment, run.Status, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(id string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &Run{}
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := s.db.QueryRow(
		`SELECT id, environment, status, started_at, completed_at, error FROM runs WHERE id = ?`,
		id,
	).Scan(&run.ID, &run.Environment, &run.Status, &run.StartedAt, &completedAt, &errMsg)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return run, nil
}

// GetLatestRun retrieves the most recent run for an environment.
// Returns nil without error when no runs exist.
func (s *SQLiteStore) GetLatestRun(env string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &Run{}
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := s.db.QueryRow(
		`SELECT id, environment, status, started_at, completed_at, error
		 FROM runs WHERE environment = ? ORDER BY started_at DESC LIMIT 1`,
		env,
	).Scan(&run.ID, &run.Environment, &run.Status, &run.StartedAt, &completedAt, &errMsg)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return run, nil
}

// CompleteRun marks a run as completed with the given status.
func (s *SQLiteStore) CompleteRun(id string, status RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	var errorPtr *string
	if errMsg != "" {
		errorPtr = &errMsg
	}

	result, err := s.db.Exec(
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		status, time.Now().UTC(), errorPtr, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// --- Target run operations ---

// RecordTargetRun records a new target execution.
func (s *SQLiteStore) RecordTargetRun(tr *TargetRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if tr.ID == "" {
		tr.ID = generateID()
	}
	tr.StartedAt = time.Now().UTC()

	_, err := s.db.Exec(
		`INSERT INTO target_runs (id, run_id, target_name, status, error, execution_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.RunID, tr.TargetName, tr.Status, tr.Error, tr.ExecutionMS, tr.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record target run: %w", err)
	}
	return nil
}

// UpdateTargetRun updates the status of a target run.
func (s *SQLiteStore) UpdateTargetRun(id string, status TargetRunStatus, errMsg string, executionMS int64) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	var errorPtr *string
	if errMsg != "" {
		errorPtr = &errMsg
	}

	result, err := s.db.Exec(
		`UPDATE target_runs SET status = ?, error = ?, execution_ms = ?, completed_at = ? WHERE id = ?`,
		status, errorPtr, executionMS, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update target run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("target run not found: %s", id)
	}
	return nil
}

// GetTargetRunsForRun retrieves all target runs for a pipeline run.
func (s *SQLiteStore) GetTargetRunsForRun(runID string) ([]*TargetRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, run_id, target_name, status, error, execution_ms, started_at, completed_at
		 FROM target_runs WHERE run_id = ? ORDER BY started_at, target_name`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get target runs: %w", err)
	}
	defer rows.Close()

	var targetRuns []*TargetRun
	for rows.Next() {
		tr := &TargetRun{}
		var completedAt sql.NullTime
		var errMsg sql.NullString

		if err := rows.Scan(&tr.ID, &tr.RunID, &tr.TargetName, &tr.Status, &errMsg, &tr.ExecutionMS, &tr.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan target run: %w", err)
		}
		if completedAt.Valid {
			tr.CompletedAt = &completedAt.Time
		}
		if errMsg.Valid {
			tr.Error = errMsg.String
		}
		targetRuns = append(targetRuns, tr)
	}
	return targetRuns, rows.Err()
}

// Ensure SQLiteStore implements the Store interface.
var _ Store = (*SQLiteStore)(nil)
