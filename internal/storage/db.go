// Package storage persists simulation runs to SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DB wraps the run database connection
type DB struct {
	conn *sql.DB
	path string
}

// Config holds database configuration
type Config struct {
	Path string
}

// New opens the run database, creating the file and its directory if needed
func New(cfg Config) (*DB, error) {
	// file: URIs are used for in-memory databases in tests; skip path handling
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = absPath
	}

	conn, err := sql.Open("sqlite", buildConnectionString(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single-writer workload; keep the pool small
	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(24 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn, path: cfg.Path}, nil
}

func buildConnectionString(path string) string {
	connStr := path + "?_pragma=journal_mode(WAL)"
	connStr += "&_pragma=synchronous(NORMAL)"
	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=temp_store(MEMORY)"
	connStr += "&_pragma=cache_size(-64000)"
	return connStr
}

// Migrate applies the run schema. Safe to call on an already-migrated file.
func (db *DB) Migrate() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}

	if _, err := tx.Exec(schema); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// HealthCheck pings the database and runs a SQLite integrity check
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// WALCheckpoint truncates the WAL file, typically before a backup upload
func (db *DB) WALCheckpoint() error {
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint failed: %w", err)
	}
	return nil
}

// WithTransaction executes fn inside a transaction, handling commit, rollback
// and panic recovery.
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rollbackErr)
			} else {
				err = fmt.Errorf("transaction failed: %w", err)
			}
		} else {
			if commitErr := tx.Commit(); commitErr != nil {
				err = fmt.Errorf("failed to commit transaction: %w", commitErr)
			}
		}
	}()

	err = fn(tx)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    started_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at TIMESTAMP,
    agents       INTEGER NOT NULL,
    total_days   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_agents (
    run_id           TEXT NOT NULL REFERENCES runs(id),
    agent_id         TEXT NOT NULL,
    agent_order      INTEGER NOT NULL,
    character        TEXT NOT NULL,
    initial_property REAL NOT NULL,
    PRIMARY KEY (run_id, agent_id)
);

CREATE TABLE IF NOT EXISTS snapshots (
    run_id    TEXT NOT NULL REFERENCES runs(id),
    day       INTEGER NOT NULL,
    agent_id  TEXT NOT NULL,
    cash      REAL NOT NULL,
    holding_a INTEGER NOT NULL,
    holding_b INTEGER NOT NULL,
    net_worth REAL NOT NULL,
    bankrupt  INTEGER NOT NULL DEFAULT 0,
    exited    INTEGER NOT NULL DEFAULT 0,
    loan_book BLOB,
    PRIMARY KEY (run_id, day, agent_id)
);

CREATE TABLE IF NOT EXISTS trades (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL REFERENCES runs(id),
    day        INTEGER NOT NULL,
    agent_id   TEXT NOT NULL,
    asset      TEXT NOT NULL,
    side       TEXT NOT NULL,
    quantity   INTEGER NOT NULL,
    price      REAL NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_trades_run_day ON trades(run_id, day);

CREATE TABLE IF NOT EXISTS loan_events (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id        TEXT NOT NULL REFERENCES runs(id),
    day           INTEGER NOT NULL,
    agent_id      TEXT NOT NULL,
    kind          TEXT NOT NULL,
    amount        REAL NOT NULL,
    loan_type     INTEGER NOT NULL,
    repayment_day INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_loan_events_run_day ON loan_events(run_id, day);

CREATE TABLE IF NOT EXISTS prices (
    run_id TEXT NOT NULL REFERENCES runs(id),
    day    INTEGER NOT NULL,
    asset  TEXT NOT NULL,
    price  REAL NOT NULL,
    PRIMARY KEY (run_id, day, asset)
);

CREATE TABLE IF NOT EXISTS forum_posts (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id   TEXT NOT NULL REFERENCES runs(id),
    day      INTEGER NOT NULL,
    agent_id TEXT NOT NULL,
    message  TEXT NOT NULL
);
`
