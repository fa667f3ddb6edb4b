// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

// Package ledger is the DuckDB persistence layer for everything settlement
// reads or writes: artist tier profiles, the track catalog, sealed windows
// and their buckets, royalty statements with their lines and transition
// history, and payment status.
//
// At-most-once statement creation is enforced by the UNIQUE idempotency_key
// column, not by application locking. Status changes are compare-and-set
// updates that also append a statement_transitions row in the same
// transaction.
package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write lost to a concurrent transaction
	// or hit a uniqueness constraint. Re-reading and retrying may succeed.
	ErrConflict = errors.New("conflicting ledger write")

	// ErrPeriodOverlap is returned when a regular statement would cover
	// time an existing regular statement for the same artist already covers.
	ErrPeriodOverlap = errors.New("period overlaps an existing statement")
)

// Config holds DuckDB connection settings.
type Config struct {
	// Path is the database file. Empty opens an in-memory database.
	Path         string        `koanf:"path"`
	Threads      int           `koanf:"threads"`
	MaxMemory    string        `koanf:"max_memory"`
	QueryTimeout time.Duration `koanf:"query_timeout"`
}

// DefaultConfig returns file-backed defaults.
func DefaultConfig() Config {
	return Config{
		Path:         "/data/encore.duckdb",
		Threads:      0,
		MaxMemory:    "1GB",
		QueryTimeout: 10 * time.Second,
	}
}

// DB wraps the DuckDB connection pool.
type DB struct {
	conn *sql.DB
	cfg  Config
}

// Open connects to DuckDB and creates the schema.
func Open(cfg Config) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	if cfg.MaxMemory == "" {
		cfg.MaxMemory = "1GB"
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}

	if cfg.Path != "" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, numThreads, cfg.MaxMemory)
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}
	db.configureConnectionPool()

	if err := db.createTables(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logging.Info().
		Str("path", displayPath(cfg.Path)).
		Int("threads", numThreads).
		Str("max_memory", cfg.MaxMemory).
		Msg("Ledger database opened")
	return db, nil
}

func displayPath(p string) string {
	if p == "" {
		return ":memory:"
	}
	return p
}

func (db *DB) configureConnectionPool() {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the pool.
func (db *DB) Close() error {
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("close ledger database: %w", err)
	}
	logging.Info().Msg("Ledger database closed")
	return nil
}

// queryContext bounds a call with the configured query timeout.
func (db *DB) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.cfg.QueryTimeout)
}

// inTx runs fn in a transaction, rolling back on error.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logging.Warn().Err(rbErr).Msg("Ledger rollback failed")
		}
		return classify("transaction", err)
	}
	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// classify maps driver failures onto the ledger's error taxonomy. Write
// conflicts and constraint violations wrap ErrConflict; lost connections and
// expired deadlines become a models.TransientStoreError. Anything else,
// including domain errors returned from inside a transaction, is returned
// unchanged.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict), models.IsTransient(err):
		return err
	case IsTransactionConflict(err), isConstraintViolation(err):
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.Is(err, context.DeadlineExceeded):
		return &models.TransientStoreError{Op: "ledger " + op, Err: err}
	default:
		return err
	}
}

// IsTransactionConflict reports a DuckDB optimistic concurrency conflict.
func IsTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update") ||
		strings.Contains(errStr, "Conflict on tuple deletion")
}

func isConstraintViolation(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "Constraint Error") ||
		strings.Contains(errStr, "Duplicate key")
}

func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
