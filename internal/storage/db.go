package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// FileName is the history database inside a peer directory.
const FileName = "calls.db"

// DB wraps the SQLite call history for a peer.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates calls.db in the given directory
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create peer dir: %w", err)
	}
	return OpenPath(filepath.Join(dir, FileName))
}

// OpenPath opens the database at an explicit path.
func OpenPath(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL so the viewer can read history while a call is being written.
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			id          TEXT PRIMARY KEY,
			local_peer  TEXT NOT NULL,
			remote_peer TEXT NOT NULL,
			direction   TEXT NOT NULL,
			started_at  TEXT NOT NULL,
			ended_at    TEXT NOT NULL,
			final_state TEXT NOT NULL,
			error       TEXT DEFAULT ''
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create calls table: %w", err)
	}

	// Migration: index added after the first release.
	db.Exec(`CREATE INDEX IF NOT EXISTS calls_started ON calls(started_at DESC)`)

	return &DB{db: db, path: dbPath}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}
