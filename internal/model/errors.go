package model

import "github.com/Veraticus/invoice-match/internal/common"

func newValidationError(record, id, field, reason string) error {
	return &common.ValidationError{
		Record: record,
		ID:     id,
		Field:  field,
		Reason: reason,
	}
}
