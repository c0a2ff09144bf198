// Package sqlite stores run history in SQLite through modernc.org/sqlite, a
// pure Go build of SQLite that needs no C toolchain.
//
// The database is a single file next to the server (or ":memory:" in tests).
// Only run metadata lives here: id, framework, final state, URL, error and
// timestamps. Terminal output stays in the in-memory stream of each run.
package sqlite

import (
	"database/sql"
	"fmt"

	// registers the "sqlite" driver with database/sql
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements repository.RunRepository.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/playground.db"  → file-based database (persistent)
//   - ":memory:"            → in-memory database, gone on Close
//
// sql.Open only creates the pool; Ping forces the first connection so a bad
// path fails here instead of on the first query.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// Every ":memory:" connection is a separate database. One connection
	// keeps the pool on the same one; a file database is fine with it too,
	// since run history writes are rare.
	conn.SetMaxOpenConns(1)

	// WAL keeps the file readable by other processes (backups, sqlite3 shell) during writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS makes every statement safe to run on an existing
// database, so migrations simply run on every start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			framework   TEXT NOT NULL,
			kind        TEXT NOT NULL,
			state       TEXT NOT NULL,
			url         TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT '',
			started_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`)
	if err != nil {
		return fmt.Errorf("creating runs table: %w", err)
	}

	// framework filter on the history listing
	if err := db.addIndexIfNotExists("idx_runs_framework", "runs", "framework"); err != nil {
		return fmt.Errorf("creating runs framework index: %w", err)
	}
	return nil
}

// addIndexIfNotExists creates a single-column index unless one with that name exists.
func (db *DB) addIndexIfNotExists(name, table, column string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`,
		name,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking index %s: %w", name, err)
	}
	if count > 0 {
		return nil // index already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`CREATE INDEX %s ON %s(%s)`, name, table, column,
	))
	return err
}
