// Package store persists unsubscribe task records and resolves emails on SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrTaskNotFound  = errors.New("unsubscribe task not found")
	ErrEmailNotFound = errors.New("email not found")
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS unsubscribe_tasks (
	email_id         TEXT PRIMARY KEY,
	unsubscribe_link TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'completed', 'failed')),
	attempts         INTEGER NOT NULL DEFAULT 0,
	last_attempt     DATETIME,
	success_message  TEXT,
	error_message    TEXT,
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_unsubscribe_tasks_status ON unsubscribe_tasks (status, attempts);

CREATE TABLE IF NOT EXISTS emails (
	id               TEXT PRIMARY KEY,
	user_email       TEXT NOT NULL,
	unsubscribe_link TEXT
);
`

// SchemaSQL returns the authoritative schema, used by Open and by tests.
func SchemaSQL() string {
	return schemaSQL
}

// Open opens (creating if needed) the SQLite database at path and applies the
// schema. Use ":memory:" for an ephemeral database.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Ping reports whether the database is reachable.
func Ping(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM unsubscribe_tasks").Scan(&n); err != nil {
		return fmt.Errorf("failed to query tasks: %w", err)
	}
	return nil
}
