// Package storage provides the SQLite persistence layer for invoices,
// transactions, and the decision ledger.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString rejects blank identifiers.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

type validatable[T any] interface {
	*T
	Validate() error
}

// validateBatch rejects the whole batch if any record is malformed.
func validateBatch[T any, P validatable[T]](kind string, records []T) error {
	for i := range records {
		if err := P(&records[i]).Validate(); err != nil {
			return fmt.Errorf("%s at index %d: %w", kind, i, err)
		}
	}
	return nil
}
