// Package database is the SQLite persistence layer. Every table gets
// its own file of raw-SQL accessor methods on DB; the schema is applied
// idempotently on open.
package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DB wraps the SQLite connection
type DB struct {
	conn *sql.DB
}

// Open opens the database at path, applying pragmas and the schema.
// The pool is pinned to a single connection; SQLite allows one writer
// and the engine's workload is sequential per sync anyway.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// The DSN flag is not honored by every driver version, so set the
	// pragma explicitly as well
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.Init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// Init applies the schema. Safe to call on an already-initialized
// database; every statement is CREATE IF NOT EXISTS.
func (db *DB) Init() error {
	if _, err := db.conn.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn exposes the raw connection, used by tests to manipulate rows
// directly
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Health pings the database
func (db *DB) Health() error {
	return db.conn.Ping()
}
