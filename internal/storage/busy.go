package storage

import (
	"context"
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/Veraticus/invoice-match/internal/common"
)

// isBusy reports whether err is SQLite refusing a lock held by another connection.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// errStopRetry ends a retry loop without exposing the underlying error to
// common.IsRetryable, which would otherwise retry conflicts.
var errStopRetry = errors.New("stop retry")

// retryBusy runs fn, retrying while SQLite reports the database as busy or
// locked. Exhausted retries come back as a RepositoryTimeoutError; every
// other error is returned untouched after the first attempt.
func (s *SQLiteStorage) retryBusy(ctx context.Context, operation string, fn func(context.Context) error) error {
	var permanent error
	_, err := common.WithRetry(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case isBusy(err):
			return &common.RetryableError{Err: err, Retryable: true}
		default:
			permanent = err
			return errStopRetry
		}
	}, s.busy)
	switch {
	case err == nil:
		return nil
	case permanent != nil:
		return permanent
	case isBusy(err):
		return &common.RepositoryTimeoutError{Operation: operation, Err: err}
	default:
		return err
	}
}
