// Package db is the terminal's persistent local store: cached server
// collections and the queues of pending operations, in one SQLite file.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/posync/internal/faults"
	_ "modernc.org/sqlite"
)

const (
	dbFile = "posync.db"

	timeLayout = time.RFC3339Nano
)

// DB wraps the database connection and the data directory lock
type DB struct {
	conn     *sql.DB
	dir      string
	lock     *dirLock
	now      func() time.Time
	newToken func() string
}

// Option configures Open
type Option func(*DB)

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// WithTokenGenerator overrides how idempotency tokens are minted
func WithTokenGenerator(gen func() string) Option {
	return func(db *DB) { db.newToken = gen }
}

// Open opens (creating if needed) the store in dir, takes the directory lock,
// runs pending migrations, and returns operations a crash left in flight to
// the queue.
func Open(dir string, opts ...Option) (*DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, faults.Storage("create data dir", err)
	}

	lock := newDirLock(dir)
	if err := lock.acquire(defaultLockTimeout); err != nil {
		return nil, faults.Storage("lock data dir", err)
	}

	conn, err := sql.Open("sqlite", filepath.Join(dir, dbFile))
	if err != nil {
		lock.release()
		return nil, faults.Storage("open database", err)
	}
	// One connection keeps every call a single serialized transaction.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=500",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			lock.release()
			return nil, faults.Storage(pragma, err)
		}
	}

	db := &DB{
		conn:     conn,
		dir:      dir,
		lock:     lock,
		now:      time.Now,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(db)
	}

	if err := migrateUp(conn); err != nil {
		db.Close()
		return nil, faults.Storage("run migrations", err)
	}

	n, err := db.RecoverInFlight(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	if n > 0 {
		slog.Info("requeued operations left in flight", "count", n)
	}

	return db, nil
}

// Close closes the database and releases the directory lock
func (db *DB) Close() error {
	err := db.conn.Close()
	db.lock.release()
	return err
}

// Dir returns the data directory
func (db *DB) Dir() string {
	return db.dir
}

// Ping verifies the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return faults.Storage("ping", err)
	}
	return nil
}

// withTx runs fn in a transaction, committing on nil and rolling back otherwise
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
