// Package history provides a SQLite-backed, cross-run audit index at
// .ralph/history.db: one row per completed or failed session, queried
// by `ralph status --history`. It is separate from the per-run
// checksum-sealed ledger in internal/session — that ledger is the
// anti-gaming source of truth for one run in progress; this index is
// an append-only record across many runs, kept for operator visibility
// and retention pruning.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// Dir is the name of the directory the history database lives under,
// at the repository root.
const Dir = ".ralph"

// DBPath returns the history database path for a project rooted at repoRoot.
func DBPath(repoRoot string) string {
	return filepath.Join(repoRoot, Dir, "history.db")
}

// DB wraps a SQLite connection holding the run history table.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens (creating if absent) the history database at path,
// enabling WAL mode for concurrent readers.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("history: creating %s: %w", filepath.Dir(path), err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: opening %s: %w", path, err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: enabling WAL: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// OpenForProject opens the history database for a project at repoRoot.
func OpenForProject(repoRoot string) (*DB, error) {
	return Open(DBPath(repoRoot))
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

const migrationV1Runs = `
CREATE TABLE IF NOT EXISTS runs (
	session_id TEXT PRIMARY KEY,
	task_source TEXT NOT NULL,
	status TEXT NOT NULL,
	git_branch TEXT,
	git_commit TEXT,
	total_iterations INTEGER NOT NULL DEFAULT 0,
	completed_tasks INTEGER NOT NULL DEFAULT 0,
	pending_tasks INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	ended_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (db *DB) migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("history: creating schema_version: %w", err)
	}

	var current int
	if err := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("history: reading schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Runs},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("history: begin migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("history: apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("history: record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("history: commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// RunRecord is one row of run history.
type RunRecord struct {
	SessionID       string
	TaskSource      string
	Status          ralphmodel.SessionStatus
	GitBranch       string
	GitCommit       string
	TotalIterations int
	CompletedTasks  int
	PendingTasks    int
	StartedAt       string
	EndedAt         string
}

// RecordRun upserts one row from a session's final metadata, called
// once at the end of a run (success, failure, or abort).
func (db *DB) RecordRun(taskSource string, meta ralphmodel.SessionMetadata) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO runs (session_id, task_source, status, git_branch, git_commit,
			total_iterations, completed_tasks, pending_tasks, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			total_iterations = excluded.total_iterations,
			completed_tasks = excluded.completed_tasks,
			pending_tasks = excluded.pending_tasks,
			ended_at = excluded.ended_at
	`,
		meta.SessionID, taskSource, string(meta.Status), meta.GitBranch, meta.GitCommit,
		meta.TotalIterations, len(meta.CompletedTasks), len(meta.PendingTasks),
		meta.StartedAt, nullableString(meta.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("history: recording run %s: %w", meta.SessionID, err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListRuns returns the most recent limit runs, newest first. limit <=
// 0 means no limit.
func (db *DB) ListRuns(limit int) ([]RunRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	query := "SELECT session_id, task_source, status, COALESCE(git_branch, ''), COALESCE(git_commit, ''), " +
		"total_iterations, completed_tasks, pending_tasks, started_at, COALESCE(ended_at, '') " +
		"FROM runs ORDER BY started_at DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: listing runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		var status string
		if err := rows.Scan(&r.SessionID, &r.TaskSource, &status, &r.GitBranch, &r.GitCommit,
			&r.TotalIterations, &r.CompletedTasks, &r.PendingTasks, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("history: scanning run row: %w", err)
		}
		r.Status = ralphmodel.SessionStatus(status)
		records = append(records, r)
	}
	return records, rows.Err()
}

// PurgeOlderThan deletes runs started before the cutoff and returns
// how many rows were removed.
func (db *DB) PurgeOlderThan(olderThan time.Duration) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339)
	result, err := db.conn.Exec("DELETE FROM runs WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: purging runs older than %s: %w", olderThan, err)
	}
	return result.RowsAffected()
}
