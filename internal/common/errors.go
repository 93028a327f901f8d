// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Error kinds. Typed errors below unwrap to one of these so callers can use errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrConfiguration     = errors.New("invalid configuration")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrRepositoryTimeout = errors.New("repository timeout")
)

// ValidationError reports a malformed invoice or transaction record.
type ValidationError struct {
	Record string
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("invalid %s %q: %s %s", e.Record, e.ID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s %s", e.Record, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ConfigurationError reports a configuration that must stop startup.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Key, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// ConflictError reports that a transaction or invoice was claimed by someone else first.
type ConflictError struct {
	InvoiceID     string
	TransactionID string
	Reason        string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("match conflict for invoice %q and transaction %q: %s", e.InvoiceID, e.TransactionID, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// NotFoundError reports an unknown invoice or transaction ID.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// RepositoryTimeoutError reports a storage call that did not finish in time.
type RepositoryTimeoutError struct {
	Err       error
	Operation string
}

func (e *RepositoryTimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("repository timeout during %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("repository timeout during %s", e.Operation)
}

func (e *RepositoryTimeoutError) Unwrap() error {
	return e.Err
}

// Is matches ErrRepositoryTimeout.
func (e *RepositoryTimeoutError) Is(target error) bool {
	return target == ErrRepositoryTimeout
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
// Cancellation never does; a cancelled run stops between chunks.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRepositoryTimeout) || errors.Is(err, ErrConflict) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
