package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
	path string
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database connection
	// Use WAL mode for better concurrency
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	return &DB{
		conn: conn,
		path: dbPath,
	}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// schema creates the rule-store tables if they do not already exist.
// Migrations are additive-only and idempotent; there is no teardown path.
const schema = `
CREATE TABLE IF NOT EXISTS firms (
	name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS programs (
	firm      TEXT NOT NULL REFERENCES firms(name),
	id        TEXT NOT NULL,
	alias     TEXT NOT NULL,
	PRIMARY KEY (firm, alias)
);

CREATE TABLE IF NOT EXISTS rules (
	firm                      TEXT NOT NULL,
	program_id                TEXT NOT NULL,
	name                      TEXT NOT NULL,
	max_daily_drawdown_pct    REAL NOT NULL DEFAULT 0,
	max_total_drawdown_pct    REAL NOT NULL DEFAULT 0,
	max_risk_per_trade_pct    REAL NOT NULL DEFAULT 0,
	max_open_lots             REAL NOT NULL DEFAULT 0,
	max_positions             INTEGER NOT NULL DEFAULT 0,
	margin_warn_level_pct     REAL NOT NULL DEFAULT 100,
	margin_critical_level_pct REAL NOT NULL DEFAULT 50,
	trading_days_only         INTEGER NOT NULL DEFAULT 0,
	require_stop_loss         INTEGER NOT NULL DEFAULT 0,
	max_leverage              REAL,
	warn_buffer_pct           REAL NOT NULL DEFAULT 0.8,
	updated_at                TEXT NOT NULL,
	PRIMARY KEY (firm, program_id)
);

CREATE TABLE IF NOT EXISTS soft_rules (
	firm       TEXT NOT NULL,
	program_id TEXT NOT NULL,
	advisory   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_soft_rules_firm_program ON soft_rules(firm, program_id);
`

// Migrate creates the rule-store schema if it does not already exist.
func (db *DB) Migrate() error {
	_, err := db.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Begin starts a new transaction
func (db *DB) Begin() (*sql.Tx, error) {
	return db.conn.Begin()
}

// Exec executes a query without returning rows
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}
