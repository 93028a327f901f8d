package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus tracks an invoice through reconciliation.
type InvoiceStatus string

// Invoice status constants.
const (
	InvoiceOpen            InvoiceStatus = "open"
	InvoiceMatched         InvoiceStatus = "matched"
	InvoiceRejectedPending InvoiceStatus = "rejected_pending"
)

// InvoiceDirection says which side of the ledger an invoice lands on.
type InvoiceDirection string

const (
	// DirectionPayable is a vendor bill; its transaction becomes an expense.
	DirectionPayable InvoiceDirection = "payable"
	// DirectionReceivable is a customer invoice; its transaction becomes revenue.
	DirectionReceivable InvoiceDirection = "receivable"
)

// Invoice represents a vendor or customer invoice owned by the invoicing subsystem.
type Invoice struct {
	IssueDate           time.Time
	UpdatedAt           time.Time
	Amount              decimal.Decimal
	ID                  string
	Vendor              string
	Entity              string
	Currency            string
	Status              InvoiceStatus
	Direction           InvoiceDirection
	LinkedTransactionID string
}

// IsOpen reports whether the invoice may still receive candidates.
func (i *Invoice) IsOpen() bool {
	return i.Status == InvoiceOpen
}

// SettledBy reports whether a signed bank amount flows the right way to pay
// the invoice. Payables are settled by outflows, receivables by inflows.
func (i *Invoice) SettledBy(amount decimal.Decimal) bool {
	if i.Direction == DirectionReceivable {
		return amount.IsPositive()
	}
	return amount.IsNegative()
}

// Fingerprint hashes the invoice fields that matching depends on.
func (i *Invoice) Fingerprint() string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s:%s",
		i.IssueDate.Format("2006-01-02"),
		i.Amount.StringFixed(2),
		strings.ToUpper(i.Currency),
		strings.TrimSpace(i.Vendor),
		i.Entity,
		i.Direction)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// Validate rejects malformed invoice records.
func (i *Invoice) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return newValidationError("invoice", i.ID, "id", "is required")
	}
	if strings.TrimSpace(i.Vendor) == "" {
		return newValidationError("invoice", i.ID, "vendor", "is required")
	}
	if strings.TrimSpace(i.Entity) == "" {
		return newValidationError("invoice", i.ID, "entity", "is required")
	}
	if !i.Amount.IsPositive() {
		return newValidationError("invoice", i.ID, "amount", "must be positive")
	}
	if strings.TrimSpace(i.Currency) == "" {
		return newValidationError("invoice", i.ID, "currency", "is required")
	}
	if i.IssueDate.IsZero() {
		return newValidationError("invoice", i.ID, "issue_date", "is required")
	}
	switch i.Status {
	case InvoiceOpen, InvoiceMatched, InvoiceRejectedPending:
	default:
		return newValidationError("invoice", i.ID, "status", fmt.Sprintf("unknown status %q", i.Status))
	}
	switch i.Direction {
	case DirectionPayable, DirectionReceivable:
	default:
		return newValidationError("invoice", i.ID, "direction", fmt.Sprintf("unknown direction %q", i.Direction))
	}
	if i.Status == InvoiceMatched && i.LinkedTransactionID == "" {
		return newValidationError("invoice", i.ID, "linked_transaction_id", "is required for matched invoices")
	}
	return nil
}
