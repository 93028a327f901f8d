package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/metrics"
	"github.com/Veraticus/invoice-match/internal/model"
	"github.com/Veraticus/invoice-match/internal/pattern"
	"github.com/Veraticus/invoice-match/internal/service"
)

// acceptedConfidence is written to a transaction once a human confirms its invoice.
const acceptedConfidence = 1.0

// Ledger records human decisions and applies the linkage they imply. Every
// call runs inside one repository transaction.
type Ledger struct {
	repo            service.Repository
	metrics         *metrics.Recorder
	now             func() time.Time
	newID           func() string
	learner         pattern.Learner
	revenueCategory string
	expenseCategory string
	timeout         time.Duration
}

// LedgerOptions configures a Ledger.
type LedgerOptions struct {
	Metrics         *metrics.Recorder
	Now             func() time.Time
	NewID           func() string
	RevenueCategory string
	ExpenseCategory string
	AcceptStep      float64
	RejectStep      float64
	Timeout         time.Duration
}

// NewLedger creates a ledger over repo.
func NewLedger(repo service.Repository, opts LedgerOptions) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Ledger{
		repo:            repo,
		metrics:         opts.Metrics,
		now:             opts.Now,
		newID:           opts.NewID,
		learner:         pattern.NewLearner(opts.AcceptStep, opts.RejectStep),
		revenueCategory: opts.RevenueCategory,
		expenseCategory: opts.ExpenseCategory,
		timeout:         opts.Timeout,
	}
}

// Accept links the transaction to the invoice, marks the invoice matched,
// appends an accepted decision, and reinforces the pair's pattern. The
// transaction's free state is re-checked inside the write, so a concurrent
// accept of the same transaction fails with a ConflictError.
func (l *Ledger) Accept(ctx context.Context, invoiceID, transactionID, actor string) (*model.MatchDecision, error) {
	if err := validateDecisionInput(invoiceID, transactionID, actor); err != nil {
		return nil, err
	}

	var decision *model.MatchDecision
	err := l.inTx(ctx, "accept", func(ctx context.Context, tx service.Tx) error {
		inv, txn, err := loadPair(ctx, tx, invoiceID, transactionID)
		if err != nil {
			return err
		}

		if inv.Status == model.InvoiceMatched {
			reason := fmt.Sprintf("invoice already matched to transaction %s", inv.LinkedTransactionID)
			if inv.LinkedTransactionID == transactionID {
				reason = "pair already accepted"
			}
			return &common.ConflictError{InvoiceID: invoiceID, TransactionID: transactionID, Reason: reason}
		}
		if txn.IsLinked() {
			return &common.ConflictError{
				InvoiceID:     invoiceID,
				TransactionID: transactionID,
				Reason:        fmt.Sprintf("transaction already linked to invoice %s", txn.LinkedInvoiceID),
			}
		}
		if !inv.SettledBy(txn.Amount) {
			return &common.ConflictError{
				InvoiceID:     invoiceID,
				TransactionID: transactionID,
				Reason:        fmt.Sprintf("%s invoice cannot be settled by amount %s", inv.Direction, txn.Amount.StringFixed(2)),
			}
		}

		if err := tx.LinkTransaction(ctx, transactionID, invoiceID, l.categoryFor(inv), acceptedConfidence); err != nil {
			return err
		}
		if err := tx.MarkInvoiceMatched(ctx, invoiceID, transactionID); err != nil {
			return err
		}

		key := pattern.Key(inv.Vendor, txn.Description)
		decision = &model.MatchDecision{
			ID:            l.newID(),
			InvoiceID:     invoiceID,
			TransactionID: transactionID,
			Decision:      model.DecisionAccepted,
			Actor:         actor,
			PatternKey:    key,
			DecidedAt:     l.now().UTC(),
		}
		if err := tx.AppendDecision(ctx, decision); err != nil {
			return fmt.Errorf("failed to append decision: %w", err)
		}

		_, err = l.learner.Record(ctx, tx, key, model.DecisionAccepted)
		return err
	})

	l.metrics.ObserveDecision(string(model.DecisionAccepted), decisionResult(err))
	if err != nil {
		return nil, err
	}

	slog.Info("Match accepted",
		"invoice_id", invoiceID,
		"transaction_id", transactionID,
		"actor", actor,
		"decision_id", decision.ID)
	return decision, nil
}

// Reject records a rejected decision, adds the pair to the exclusion set, and
// weakens the pair's pattern. The invoice stays open. An accepted pair cannot
// be rejected; that returns a ConflictError.
func (l *Ledger) Reject(ctx context.Context, invoiceID, transactionID, actor, reason string) (*model.MatchDecision, error) {
	if err := validateDecisionInput(invoiceID, transactionID, actor); err != nil {
		return nil, err
	}

	var decision *model.MatchDecision
	err := l.inTx(ctx, "reject", func(ctx context.Context, tx service.Tx) error {
		inv, txn, err := loadPair(ctx, tx, invoiceID, transactionID)
		if err != nil {
			return err
		}

		if inv.Status == model.InvoiceMatched && inv.LinkedTransactionID == transactionID {
			return &common.ConflictError{
				InvoiceID:     invoiceID,
				TransactionID: transactionID,
				Reason:        "pair already accepted",
			}
		}

		now := l.now().UTC()
		key := pattern.Key(inv.Vendor, txn.Description)
		decision = &model.MatchDecision{
			ID:            l.newID(),
			InvoiceID:     invoiceID,
			TransactionID: transactionID,
			Decision:      model.DecisionRejected,
			Actor:         actor,
			Reason:        reason,
			PatternKey:    key,
			DecidedAt:     now,
		}
		if err := tx.AppendDecision(ctx, decision); err != nil {
			return fmt.Errorf("failed to append decision: %w", err)
		}

		if err := tx.AddRejectedPair(ctx, model.RejectedPair{
			InvoiceID:              invoiceID,
			TransactionID:          transactionID,
			InvoiceFingerprint:     inv.Fingerprint(),
			TransactionFingerprint: txn.Fingerprint(),
			RejectedAt:             now,
		}); err != nil {
			return fmt.Errorf("failed to record rejected pair: %w", err)
		}

		if _, err := l.learner.Record(ctx, tx, key, model.DecisionRejected); err != nil {
			return err
		}

		if inv.Status == model.InvoiceRejectedPending {
			return tx.SetInvoiceStatus(ctx, invoiceID, model.InvoiceOpen)
		}
		return nil
	})

	l.metrics.ObserveDecision(string(model.DecisionRejected), decisionResult(err))
	if err != nil {
		return nil, err
	}

	slog.Info("Match rejected",
		"invoice_id", invoiceID,
		"transaction_id", transactionID,
		"actor", actor,
		"decision_id", decision.ID)
	return decision, nil
}

func (l *Ledger) inTx(ctx context.Context, operation string, fn func(context.Context, service.Tx) error) error {
	return withRepoTimeout(ctx, l.timeout, operation, func(ctx context.Context) error {
		tx, err := l.repo.BeginTx(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		committed := false
		defer func() {
			if !committed {
				if rbErr := tx.Rollback(); rbErr != nil {
					slog.Warn("Rollback failed", "operation", operation, "error", rbErr)
				}
			}
		}()

		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit %s: %w", operation, err)
		}
		committed = true
		return nil
	})
}

func (l *Ledger) categoryFor(inv *model.Invoice) string {
	if inv.Direction == model.DirectionReceivable {
		return l.revenueCategory
	}
	return l.expenseCategory
}

func loadPair(ctx context.Context, tx service.Tx, invoiceID, transactionID string) (*model.Invoice, *model.Transaction, error) {
	inv, err := tx.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	txn, err := tx.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	return inv, txn, nil
}

func validateDecisionInput(invoiceID, transactionID, actor string) error {
	switch {
	case strings.TrimSpace(invoiceID) == "":
		return &common.ValidationError{Record: "decision", Field: "invoice_id", Reason: "is required"}
	case strings.TrimSpace(transactionID) == "":
		return &common.ValidationError{Record: "decision", Field: "transaction_id", Reason: "is required"}
	case strings.TrimSpace(actor) == "":
		return &common.ValidationError{Record: "decision", Field: "actor", Reason: "is required"}
	}
	return nil
}

func decisionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrConflict):
		return "conflict"
	case errors.Is(err, common.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
