package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// journalDirMode and journalFileMode keep the journal private to the
	// bridge user. State history reveals occupancy patterns.
	journalDirMode  = 0750
	journalFileMode = 0600

	// openPingTimeout bounds the connectivity probe during Open.
	openPingTimeout = 5 * time.Second

	// idleConnLifetime recycles the idle connection periodically.
	idleConnLifetime = 30 * time.Minute
)

// DB wraps the journal's sql.DB handle with migrations, a health probe,
// and lifecycle helpers.
//
// The journal records device state transitions for the diagnostic API's
// history endpoint. It is strictly optional: device control runs from
// config and live mesh reports, so a missing or broken journal never
// blocks traffic.
type DB struct {
	*sql.DB
	path string
}

// Config carries the history section of config.yaml.
type Config struct {
	// Path to the SQLite file. Parent directories are created on open.
	Path string

	// WALMode turns on write-ahead logging so the API can read history
	// while the reconciler is appending.
	WALMode bool

	// BusyTimeout is how long SQLite waits on a locked database, in
	// seconds, before reporting SQLITE_BUSY.
	BusyTimeout int
}

// Open creates (if needed) and opens the journal file, applies the
// connection pragmas, and verifies the handle with a bounded ping.
// Callers should run Migrate before first use.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, journalDirMode); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	// Pragmas ride on the DSN; see mattn/go-sqlite3 connection string docs.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*1000, // seconds to milliseconds
	)
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// One writer keeps SQLite happy; WAL covers concurrent readers.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(idleConnLifetime)

	db := &DB{
		DB:   sqlDB,
		path: cfg.Path,
	}

	pingCtx, cancel := context.WithTimeout(ctx, openPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // best effort on the error path
		return nil, fmt.Errorf("verifying journal connection: %w", err)
	}

	// Chmod may race the file's creation on a fresh path; the mode is
	// applied once the first write materialises it.
	_ = os.Chmod(cfg.Path, journalFileMode) //nolint:errcheck

	return db, nil
}

// Close releases the underlying handle. Safe on a zero DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}
	return nil
}

// Path reports the journal file location.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to prove the handle is alive. Wired
// into startup verification and the diagnostic API.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("journal health check failed: %w", err)
	}
	return nil
}

// Stats exposes connection pool statistics for the runtime status
// endpoint.
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// ExecContext runs a statement that returns no rows, wrapping the error
// with context.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return result, nil
}

// QueryRowContext runs a single-row query.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, query, args...)
}

// BeginTx opens a transaction; multi-statement writes to the journal go
// through here.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}
