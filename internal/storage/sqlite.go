package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap creates tables/indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fleet_members (
  id      INTEGER PRIMARY KEY AUTOINCREMENT,
  dev_eui TEXT NOT NULL,
  tag     TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_fleet_members_tag ON fleet_members(tag);`,
		`CREATE TABLE IF NOT EXISTS dispatch_cycle (
  id           TEXT PRIMARY KEY,
  trigger      TEXT NOT NULL,
  status       TEXT NOT NULL,
  members      INTEGER NOT NULL DEFAULT 0,
  succeeded    INTEGER NOT NULL DEFAULT 0,
  failed       INTEGER NOT NULL DEFAULT 0,
  skipped      INTEGER NOT NULL DEFAULT 0,
  reason       TEXT,
  started_at   TEXT NOT NULL,
  finished_at  TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_cycle_started ON dispatch_cycle(started_at);`,
		`CREATE TABLE IF NOT EXISTS dispatch_outcome (
  cycle_id    TEXT NOT NULL REFERENCES dispatch_cycle(id),
  dev_eui     TEXT NOT NULL,
  result      TEXT NOT NULL,
  ack_id      TEXT,
  error       TEXT,
  duration_ms INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_outcome_cycle ON dispatch_outcome(cycle_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
