// Package storage owns the sqlite schema shared by the broker, task,
// schedule and cluster stores, plus the timestamp encoding helpers.
// All timestamps are stored as unix nanoseconds so ordering and age
// comparisons are plain integer arithmetic.
package storage

import (
	"context"
	"database/sql"
	"time"
)

// Execer is satisfied by both *sql.DB and *sql.Tx, so store operations
// can run standalone or inside a caller-owned transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
PRAGMA foreign_keys=ON;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  func TEXT NOT NULL,
  hook TEXT NOT NULL DEFAULT '',
  args BLOB,
  kwargs BLOB,
  result BLOB,
  grp TEXT NOT NULL DEFAULT '',
  cluster_type TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  started_at INTEGER,
  stopped_at INTEGER,
  duration INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL CHECK(status IN ('pending','running','success','failed')) DEFAULT 'pending',
  attempts INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tasks_grp ON tasks(grp);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created_at);
CREATE TABLE IF NOT EXISTS ormq (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  key TEXT NOT NULL,
  payload TEXT NOT NULL,
  lock INTEGER
);
CREATE INDEX IF NOT EXISTS idx_ormq_claim ON ormq(key, lock, id);
CREATE TABLE IF NOT EXISTS schedules (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL DEFAULT '',
  func TEXT NOT NULL,
  hook TEXT NOT NULL DEFAULT '',
  args TEXT NOT NULL DEFAULT '',
  kwargs TEXT NOT NULL DEFAULT '',
  grp TEXT NOT NULL DEFAULT '',
  kind TEXT NOT NULL CHECK(kind IN ('once','minutes','hourly','daily','weekly','monthly','quarterly','yearly','cron')),
  minutes INTEGER NOT NULL DEFAULT 0,
  cron TEXT NOT NULL DEFAULT '',
  repeats INTEGER NOT NULL DEFAULT -1,
  next_run INTEGER NOT NULL,
  task_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(next_run);
CREATE TABLE IF NOT EXISTS clusters (
  id TEXT PRIMARY KEY,
  started_at INTEGER NOT NULL,
  heartbeat_at INTEGER NOT NULL,
  hostname TEXT NOT NULL,
  pid INTEGER NOT NULL,
  cluster_type TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS workers (
  id TEXT PRIMARY KEY,
  cluster_id TEXT NOT NULL REFERENCES clusters(id) ON DELETE CASCADE,
  pid INTEGER NOT NULL,
  started_at INTEGER NOT NULL,
  heartbeat_at INTEGER NOT NULL,
  task_id TEXT REFERENCES tasks(id) ON DELETE SET NULL
);
`
	_, err := db.Exec(schema)
	return err
}

// UnixNano encodes a timestamp for storage, normalized to UTC.
func UnixNano(t time.Time) int64 { return t.UTC().UnixNano() }

// Time decodes a stored timestamp.
func Time(n int64) time.Time { return time.Unix(0, n).UTC() }

// NullTime decodes a nullable stored timestamp.
func NullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := Time(n.Int64)
	return &t
}
