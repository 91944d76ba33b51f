// Package store keeps a local history of provisioning runs in sqlite.
//
// Each run is recorded once when it starts and updated as it progresses, so
// failed runs can be inspected after the fact (there is no rollback; the
// record points at whatever objects were created). Client secrets are never
// written to the store.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one provisioning run.
type Run struct {
	ID            string // uuid
	AppName       string // requested display name
	Status        string // running | succeeded | failed
	Stage         string // last stage reached
	FailureCode   string // clierror code when failed
	FailureReason string // human-readable cause when failed
	TenantID      string // set once VerifyTenant passes
	ClientID      string // appId, set once CreateApplication passes
	ObjectID      string // application object id
	SPObjectID    string // service principal object id
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// Store provides access to the run-history database.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default database location under the user's data
// directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "entraprov.db"
	}
	return filepath.Join(home, ".local", "share", "entraprov", "runs.db")
}

// Open opens (creating if needed) the run-history database at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL plus a busy timeout keeps concurrent CLI invocations from
	// immediately failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id             TEXT PRIMARY KEY,
		app_name       TEXT NOT NULL,
		status         TEXT NOT NULL,
		stage          TEXT NOT NULL DEFAULT '',
		failure_code   TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		tenant_id      TEXT NOT NULL DEFAULT '',
		client_id      TEXT NOT NULL DEFAULT '',
		object_id      TEXT NOT NULL DEFAULT '',
		sp_object_id   TEXT NOT NULL DEFAULT '',
		started_at     TIMESTAMP NOT NULL,
		finished_at    TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun records the start of a run.
func (s *Store) CreateRun(run *Run) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, app_name, status, stage, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.AppName, StatusRunning, run.Stage, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// UpdateProgress records the stage a run has reached and any object ids
// learned so far.
func (s *Store) UpdateProgress(run *Run) error {
	_, err := s.db.Exec(
		`UPDATE runs SET stage = ?, tenant_id = ?, client_id = ?, object_id = ?, sp_object_id = ? WHERE id = ?`,
		run.Stage, run.TenantID, run.ClientID, run.ObjectID, run.SPObjectID, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return nil
}

// FinishRun marks a run terminal. failureCode and failureReason are empty for
// successful runs.
func (s *Store) FinishRun(id, status, stage, failureCode, failureReason string) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, stage = ?, failure_code = ?, failure_reason = ?, finished_at = ? WHERE id = ?`,
		status, stage, failureCode, failureReason, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRun returns a run by id, or nil if no such run exists.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, app_name, status, stage, failure_code, failure_reason,
		        tenant_id, client_id, object_id, sp_object_id, started_at, finished_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs ordered most recent first.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, app_name, status, stage, failure_code, failure_reason,
		        tenant_id, client_id, object_id, sp_object_id, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var run Run
	var finishedAt sql.NullTime
	err := sc.Scan(
		&run.ID, &run.AppName, &run.Status, &run.Stage,
		&run.FailureCode, &run.FailureReason,
		&run.TenantID, &run.ClientID, &run.ObjectID, &run.SPObjectID,
		&run.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}
