// Package store provides the durable local cache backing the sync core:
// cached assignments, study materials, user info, and the queue of
// pending outbound mutations, all in one embedded SQLite database so a
// crash between a queue write and its flush leaves no orphaned state.
//
// The database runs in embedded mode with WAL for concurrent reads, one
// file per logged-in user profile. Writes are serialized by the sync
// engine; readers never observe a torn row and never touch the network.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// StorageError wraps a failed database operation. Storage failures are
// fatal for the operation that hit them and are never retried
// automatically, unlike network failures.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Store wraps the SQLite connection with the cache schema.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the cache database at the given path. The caller
// must Close it when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storageErr("create database directory", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, storageErr("open database", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, storageErr("ping database", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	// WAL keeps UI reads from blocking on sync writes.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, storageErr(pragma, err)
		}
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return storageErr("close database", err)
	}
	s.conn = nil
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// initSchema creates the tables if they don't exist. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	-- Sync cursors: a single row holding the last successfully merged
	-- server timestamp per collection. Empty string means "fetch all".
	CREATE TABLE IF NOT EXISTS sync (
		id INTEGER PRIMARY KEY CHECK (id = 0),
		assignments_updated_after TEXT NOT NULL DEFAULT '',
		study_materials_updated_after TEXT NOT NULL DEFAULT ''
	);
	INSERT OR IGNORE INTO sync (id) VALUES (0);

	CREATE TABLE IF NOT EXISTS assignments (
		subject_id INTEGER PRIMARY KEY,
		assignment_id INTEGER NOT NULL,
		subject_type TEXT NOT NULL,
		level INTEGER NOT NULL DEFAULT 0,
		srs_stage INTEGER NOT NULL DEFAULT 0,
		unlocked_at TEXT,
		started_at TEXT,
		passed_at TEXT,
		burned_at TEXT,
		available_at TEXT,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assignments_available
	    ON assignments(available_at);

	CREATE TABLE IF NOT EXISTS study_materials (
		subject_id INTEGER PRIMARY KEY,
		material_id INTEGER NOT NULL DEFAULT 0,
		meaning_note TEXT NOT NULL DEFAULT '',
		reading_note TEXT NOT NULL DEFAULT '',
		meaning_synonyms TEXT NOT NULL DEFAULT '[]',  -- JSON array
		updated_at TEXT NOT NULL
	);

	-- Outbound queue. seq gives subject-independent FIFO order; local_id
	-- is the identifier handed back to callers for dequeueing.
	CREATE TABLE IF NOT EXISTS pending_progress (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		local_id TEXT NOT NULL UNIQUE,
		assignment_id INTEGER NOT NULL,
		subject_id INTEGER NOT NULL,
		subject_type TEXT NOT NULL,
		level INTEGER NOT NULL DEFAULT 0,
		is_lesson INTEGER NOT NULL DEFAULT 0,
		meaning_wrong INTEGER NOT NULL DEFAULT 0,
		reading_wrong INTEGER NOT NULL DEFAULT 0,
		srs_stage INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_study_materials (
		subject_id INTEGER PRIMARY KEY
	);

	-- Local view of each subject's SRS position, kept ahead of the server
	-- while progress is still queued.
	CREATE TABLE IF NOT EXISTS subject_progress (
		subject_id INTEGER PRIMARY KEY,
		level INTEGER NOT NULL DEFAULT 0,
		srs_stage INTEGER NOT NULL DEFAULT 0,
		subject_type TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user (
		id INTEGER PRIMARY KEY CHECK (id = 0),
		username TEXT NOT NULL,
		level INTEGER NOT NULL,
		max_level_granted INTEGER NOT NULL,
		subscribed INTEGER NOT NULL,
		started_at TEXT,
		vacation_started_at TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS level_progressions (
		id INTEGER PRIMARY KEY,
		level INTEGER NOT NULL,
		created_at TEXT,
		unlocked_at TEXT,
		started_at TEXT,
		passed_at TEXT,
		completed_at TEXT,
		abandoned_at TEXT
	);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return storageErr("initialize schema", err)
	}
	return nil
}

// Clear drops every cached row and resets the sync cursors in one
// transaction. Used on logout.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin clear", err)
	}
	defer tx.Rollback()

	stmts := []string{
		"UPDATE sync SET assignments_updated_after = '', study_materials_updated_after = ''",
		"DELETE FROM assignments",
		"DELETE FROM study_materials",
		"DELETE FROM pending_progress",
		"DELETE FROM pending_study_materials",
		"DELETE FROM subject_progress",
		"DELETE FROM user",
		"DELETE FROM level_progressions",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storageErr("clear all data", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit clear", err)
	}
	return nil
}

// Destroy closes the store and removes the database file. Deleting the
// file is the documented logout mechanism.
func (s *Store) Destroy() error {
	path := s.path
	if err := s.Close(); err != nil {
		return err
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return storageErr("remove database file", err)
		}
	}
	return nil
}

// Time serialization: fixed-width UTC strings so lexicographic order is
// chronological order, which the last-writer-wins upserts rely on.
const timeFormat = "2006-01-02T15:04:05.000000Z"

func timeToString(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func timeToNullString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: timeToString(t), Valid: true}
}

func stringToTime(str string) time.Time {
	t, err := time.Parse(timeFormat, str)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStringToTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	return stringToTime(ns.String)
}
