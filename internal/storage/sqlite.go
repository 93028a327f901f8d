package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Stored layouts. Both are fixed width so text ordering matches time ordering.
const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Options tunes a SQLiteStorage.
type Options struct {
	// BusyRetry controls how SQLITE_BUSY and SQLITE_LOCKED are retried before
	// the call is reported as a RepositoryTimeoutError.
	BusyRetry common.RetryOptions
	// Now stamps updated_at columns. Defaults to time.Now.
	Now func() time.Time
}

// SQLiteStorage implements service.Repository on SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	now    func() time.Time
	dbPath string
	busy   common.RetryOptions
}

var _ service.Repository = (*SQLiteStorage)(nil)

// Open creates the database directory if needed and opens the database at dbPath.
func Open(dbPath string, opts Options) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// _txlock=immediate takes the write lock at BEGIN so conflicting ledger
	// writes surface as busy errors instead of failing at commit.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewWithDB(db, opts)
	s.dbPath = dbPath
	return s, nil
}

// NewWithDB wraps an already opened database handle.
func NewWithDB(db *sql.DB, opts Options) *SQLiteStorage {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SQLiteStorage{
		db:   db,
		now:  opts.Now,
		busy: opts.BusyRetry,
	}
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the database file path, or "" for a wrapped handle.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// BeginTx starts a unit of work for the Decision Ledger.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Tx, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var tx *sql.Tx
	err := s.retryBusy(ctx, "begin", func(ctx context.Context) error {
		var err error
		tx, err = s.db.BeginTx(ctx, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTx{tx: tx, storage: s}, nil
}

func (s *SQLiteStorage) timestamp() string {
	return s.now().UTC().Format(timestampLayout)
}

// queryable is satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return t, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}
