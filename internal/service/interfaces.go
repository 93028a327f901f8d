// Package service defines the contracts between the reconciliation engine and its collaborators.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/invoice-match/internal/model"
)

// TransactionQuery bounds a transaction lookup to one entity and a date range.
// End is exclusive.
type TransactionQuery struct {
	Start         time.Time
	End           time.Time
	Entity        string
	ExcludeLinked bool
}

// InvoiceFilter narrows the set of open invoices considered by a run.
type InvoiceFilter struct {
	Since      *time.Time
	InvoiceIDs []string
}

// DecisionFilter narrows audit log queries.
type DecisionFilter struct {
	InvoiceID     string
	TransactionID string
	Decision      model.DecisionKind
	Limit         int
}

// PatternStore holds learned vendor/description weights.
// The Scorer reads it; only the Decision Ledger writes it.
type PatternStore interface {
	GetPattern(ctx context.Context, key string) (*model.LearnedPattern, error)
	AdjustPattern(ctx context.Context, key string, delta float64) (*model.LearnedPattern, error)
}

// SimilarityProvider scores how alike two pieces of text are, in [0,1].
type SimilarityProvider interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// Repository is the persistence boundary the engine depends on.
// Implementations own lock handling and retry-on-busy. GetInvoice and
// GetTransaction return a *common.NotFoundError for unknown IDs.
type Repository interface {
	PatternStore

	FindTransactions(ctx context.Context, query TransactionQuery) ([]model.Transaction, error)
	FindOpenInvoices(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	RejectedPairs(ctx context.Context, invoiceIDs []string) ([]model.RejectedPair, error)
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.MatchDecision, error)
	ListPatterns(ctx context.Context) ([]model.LearnedPattern, error)

	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a unit of work used by the Decision Ledger. Nothing is visible to other
// readers until Commit succeeds.
type Tx interface {
	PatternStore

	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	// LinkTransaction claims the transaction for the invoice. It must fail with a
	// ConflictError when the transaction is already linked at write time.
	LinkTransaction(ctx context.Context, transactionID, invoiceID, category string, confidence float64) error
	// MarkInvoiceMatched must fail with a ConflictError when the invoice is already matched.
	MarkInvoiceMatched(ctx context.Context, invoiceID, transactionID string) error
	SetInvoiceStatus(ctx context.Context, invoiceID string, status model.InvoiceStatus) error
	AppendDecision(ctx context.Context, decision *model.MatchDecision) error
	AddRejectedPair(ctx context.Context, pair model.RejectedPair) error

	Commit() error
	Rollback() error
}
