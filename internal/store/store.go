// Package store persists run history in a SQLite database under .ralph/.
// The loop works without it (warn-and-continue), so every caller treats a
// nil *Store as "recording disabled".
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	workspace TEXT NOT NULL,
	agent TEXT NOT NULL,
	agent_command TEXT NOT NULL DEFAULT '',
	prompt_path TEXT NOT NULL,
	plan_path TEXT NOT NULL DEFAULT '',
	marker TEXT NOT NULL,
	max_iterations INTEGER NOT NULL,
	state TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	iterations INTEGER NOT NULL DEFAULT 0,
	total_cost_usd REAL NOT NULL DEFAULT 0,
	total_diff_lines INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS iterations (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP,
	attempts INTEGER NOT NULL DEFAULT 1,
	exit_code INTEGER NOT NULL DEFAULT 0,
	failure TEXT NOT NULL DEFAULT '',
	marker_seen INTEGER NOT NULL DEFAULT 0,
	boxes_total INTEGER NOT NULL DEFAULT 0,
	boxes_checked INTEGER NOT NULL DEFAULT 0,
	diff_lines INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	gates_ran INTEGER NOT NULL DEFAULT 0,
	gates_failed INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	iteration INTEGER NOT NULL DEFAULT 0,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	message TEXT NOT NULL,
	data TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_iterations_run ON iterations(run_id, seq);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, seq);
`

// Store is the SQLite-backed run history
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL so status/tail can read while the loop writes
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
