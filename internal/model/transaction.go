package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UncategorizedCategory is the accounting category of a cash movement nobody has explained yet.
const UncategorizedCategory = "Uncategorized"

// Transaction represents a single ledger transaction for a business entity.
type Transaction struct {
	Date               time.Time
	UpdatedAt          time.Time
	Amount             decimal.Decimal // negative = outflow, positive = inflow
	ID                 string
	Currency           string
	Description        string // Raw bank description
	Entity             string // Business entity that owns the account
	AccountID          string
	AccountingCategory string
	LinkedInvoiceID    string
	Confidence         float64
}

// IsLinked reports whether the transaction already backs an invoice.
func (t *Transaction) IsLinked() bool {
	return t.LinkedInvoiceID != ""
}

// Magnitude returns the absolute transaction amount.
func (t *Transaction) Magnitude() decimal.Decimal {
	return t.Amount.Abs()
}

// Fingerprint hashes the fields that matching depends on. A change in any of them
// makes a previously rejected pairing eligible again.
func (t *Transaction) Fingerprint() string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount.StringFixed(2),
		strings.ToUpper(t.Currency),
		strings.TrimSpace(t.Description),
		t.Entity)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// Validate rejects malformed transaction records before they reach candidate generation.
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return newValidationError("transaction", t.ID, "id", "is required")
	}
	if t.Date.IsZero() {
		return newValidationError("transaction", t.ID, "date", "is required")
	}
	if t.Amount.IsZero() {
		return newValidationError("transaction", t.ID, "amount", "must be non-zero")
	}
	if strings.TrimSpace(t.Currency) == "" {
		return newValidationError("transaction", t.ID, "currency", "is required")
	}
	if strings.TrimSpace(t.Entity) == "" {
		return newValidationError("transaction", t.ID, "entity", "is required")
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return newValidationError("transaction", t.ID, "confidence", "must be between 0 and 1")
	}
	return nil
}
