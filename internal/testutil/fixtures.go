package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/invoice-match/internal/model"
)

// DefaultEntity and DefaultCurrency are used by fixtures unless overridden.
const (
	DefaultEntity   = "acme-co"
	DefaultCurrency = "USD"
)

// Date parses a YYYY-MM-DD date in UTC and panics on malformed input.
func Date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// Money parses a decimal amount and panics on malformed input.
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// InvoiceBuilder builds model.Invoice fixtures fluently.
//
//	inv := testutil.Invoice("INV-1").Vendor("AWS").Amount("3146.50").Issued("2025-01-10").Build()
type InvoiceBuilder struct {
	inv model.Invoice
}

// Invoice starts an open, payable USD invoice for the default entity.
func Invoice(id string) *InvoiceBuilder {
	return &InvoiceBuilder{inv: model.Invoice{
		ID:        id,
		Vendor:    "Vendor " + id,
		Entity:    DefaultEntity,
		Currency:  DefaultCurrency,
		Amount:    decimal.NewFromInt(100),
		IssueDate: Date("2025-01-01"),
		Status:    model.InvoiceOpen,
		Direction: model.DirectionPayable,
	}}
}

// Vendor sets the vendor name.
func (b *InvoiceBuilder) Vendor(v string) *InvoiceBuilder { b.inv.Vendor = v; return b }

// Amount sets the invoice total.
func (b *InvoiceBuilder) Amount(a string) *InvoiceBuilder { b.inv.Amount = Money(a); return b }

// Issued sets the issue date.
func (b *InvoiceBuilder) Issued(d string) *InvoiceBuilder { b.inv.IssueDate = Date(d); return b }

// Entity sets the owning business entity.
func (b *InvoiceBuilder) Entity(e string) *InvoiceBuilder { b.inv.Entity = e; return b }

// Currency sets the currency code.
func (b *InvoiceBuilder) Currency(c string) *InvoiceBuilder { b.inv.Currency = c; return b }

// Receivable marks the invoice as customer-facing.
func (b *InvoiceBuilder) Receivable() *InvoiceBuilder {
	b.inv.Direction = model.DirectionReceivable
	return b
}

// Status sets the invoice status.
func (b *InvoiceBuilder) Status(s model.InvoiceStatus) *InvoiceBuilder { b.inv.Status = s; return b }

// Build returns the invoice.
func (b *InvoiceBuilder) Build() model.Invoice { return b.inv }

// TransactionBuilder builds model.Transaction fixtures fluently.
type TransactionBuilder struct {
	txn model.Transaction
}

// Transaction starts an uncategorized USD outflow for the default entity.
func Transaction(id string) *TransactionBuilder {
	return &TransactionBuilder{txn: model.Transaction{
		ID:                 id,
		Description:        "TXN " + id,
		Entity:             DefaultEntity,
		Currency:           DefaultCurrency,
		AccountID:          "checking",
		Amount:             decimal.NewFromInt(-100),
		Date:               Date("2025-01-01"),
		AccountingCategory: model.UncategorizedCategory,
	}}
}

// Description sets the bank description.
func (b *TransactionBuilder) Description(d string) *TransactionBuilder {
	b.txn.Description = d
	return b
}

// Amount sets the signed amount.
func (b *TransactionBuilder) Amount(a string) *TransactionBuilder { b.txn.Amount = Money(a); return b }

// On sets the posting date.
func (b *TransactionBuilder) On(d string) *TransactionBuilder { b.txn.Date = Date(d); return b }

// Entity sets the owning business entity.
func (b *TransactionBuilder) Entity(e string) *TransactionBuilder { b.txn.Entity = e; return b }

// Currency sets the currency code.
func (b *TransactionBuilder) Currency(c string) *TransactionBuilder { b.txn.Currency = c; return b }

// LinkedTo marks the transaction as already backing an invoice.
func (b *TransactionBuilder) LinkedTo(invoiceID string) *TransactionBuilder {
	b.txn.LinkedInvoiceID = invoiceID
	return b
}

// Build returns the transaction.
func (b *TransactionBuilder) Build() model.Transaction { return b.txn }
