// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary needs
// no C toolchain. Use ":memory:" for throwaway databases in tests.
//
// DATABASE/SQL OVERVIEW:
//   - sql.DB:   a connection pool (NOT a single connection!)
//   - sql.Row:  a single result row
//   - sql.Rows: multiple result rows (must be closed!)
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Connection retry schedule: 5 attempts, 2s growing to at most 10s.
const (
	connectAttempts        = 5
	connectInitialInterval = 2 * time.Second
	connectMaxInterval     = 10 * time.Second
)

// DB wraps a sql.DB connection pool. Repositories hang off it (see Users).
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens the database at dbPath and applies connection pragmas.
//
// dbPath examples:
//   - "data/auth.db" → file-based database (persistent)
//   - ":memory:"     → in-memory database (lost on close)
//
// sql.Open does not connect; the first Ping does. A failing Ping is retried
// with exponential backoff so the service survives a slow volume mount at
// startup. Schema changes are applied separately by Migrate.
func New(ctx context.Context, dbPath string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" gets its own empty database, so the pool
	// must hold exactly one.
	if dbPath == MemoryPath {
		conn.SetMaxOpenConns(1)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = connectInitialInterval
	b.MaxInterval = connectMaxInterval

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := conn.PingContext(ctx); err != nil {
			logger.Warn("database not reachable",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(connectAttempts))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight. busy_timeout makes
	// a writer wait for the lock instead of failing with SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	return &DB{conn: conn, logger: logger}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database answers.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Users returns the user repository backed by this database.
func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn, now: time.Now}
}
