package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/model"
)

// sqliteTx wraps sql.Tx to implement service.Tx.
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if isBusy(err) {
			return &common.RepositoryTimeoutError{Operation: "commit", Err: err}
		}
		return err
	}
	return nil
}

func (t *sqliteTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (t *sqliteTx) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	return getInvoice(ctx, t.tx, id)
}

func (t *sqliteTx) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	return getTransaction(ctx, t.tx, id)
}

func (t *sqliteTx) GetPattern(ctx context.Context, key string) (*model.LearnedPattern, error) {
	return getPattern(ctx, t.tx, key)
}

func (t *sqliteTx) AdjustPattern(ctx context.Context, key string, delta float64) (*model.LearnedPattern, error) {
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}
	return adjustPattern(ctx, t.tx, key, delta, t.storage.timestamp())
}

// LinkTransaction only claims a transaction that is still unlinked at write time.
func (t *sqliteTx) LinkTransaction(ctx context.Context, transactionID, invoiceID, category string, confidence float64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE transactions
		SET linked_invoice_id = ?, accounting_category = ?, confidence = ?, updated_at = ?
		WHERE id = ? AND linked_invoice_id = ''
	`, invoiceID, category, confidence, t.storage.timestamp(), transactionID)
	if err != nil {
		return fmt.Errorf("failed to link transaction %s: %w", transactionID, err)
	}
	if claimed, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to link transaction %s: %w", transactionID, err)
	} else if claimed == 1 {
		return nil
	}

	txn, err := getTransaction(ctx, t.tx, transactionID)
	if err != nil {
		return err
	}
	return &common.ConflictError{
		InvoiceID:     invoiceID,
		TransactionID: transactionID,
		Reason:        fmt.Sprintf("transaction already linked to invoice %s", txn.LinkedInvoiceID),
	}
}

// MarkInvoiceMatched only succeeds while the invoice is not already matched.
func (t *sqliteTx) MarkInvoiceMatched(ctx context.Context, invoiceID, transactionID string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE invoices
		SET status = ?, linked_transaction_id = ?, updated_at = ?
		WHERE id = ? AND status != ?
	`, string(model.InvoiceMatched), transactionID, t.storage.timestamp(), invoiceID, string(model.InvoiceMatched))
	if err != nil {
		return fmt.Errorf("failed to mark invoice %s matched: %w", invoiceID, err)
	}
	if updated, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to mark invoice %s matched: %w", invoiceID, err)
	} else if updated == 1 {
		return nil
	}

	if _, err := getInvoice(ctx, t.tx, invoiceID); err != nil {
		return err
	}
	return &common.ConflictError{InvoiceID: invoiceID, TransactionID: transactionID, Reason: "invoice already matched"}
}

func (t *sqliteTx) SetInvoiceStatus(ctx context.Context, invoiceID string, status model.InvoiceStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE invoices SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), t.storage.timestamp(), invoiceID)
	if err != nil {
		return fmt.Errorf("failed to set invoice %s status: %w", invoiceID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &common.NotFoundError{Kind: "invoice", ID: invoiceID}
	}
	return nil
}

func (t *sqliteTx) AppendDecision(ctx context.Context, decision *model.MatchDecision) error {
	if decision == nil {
		return fmt.Errorf("%w: decision", ErrNilParameter)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO match_decisions (id, invoice_id, transaction_id, decision, actor, reason, pattern_key, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		decision.ID,
		decision.InvoiceID,
		decision.TransactionID,
		string(decision.Decision),
		decision.Actor,
		decision.Reason,
		decision.PatternKey,
		decision.DecidedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return conflictFromConstraint(err, decision)
	}
	return nil
}

// AddRejectedPair replaces any earlier rejection of the same pair so the
// stored fingerprints always describe the latest rejection.
func (t *sqliteTx) AddRejectedPair(ctx context.Context, pair model.RejectedPair) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rejected_pairs (invoice_id, transaction_id, invoice_fingerprint, transaction_fingerprint, rejected_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(invoice_id, transaction_id) DO UPDATE SET
			invoice_fingerprint = excluded.invoice_fingerprint,
			transaction_fingerprint = excluded.transaction_fingerprint,
			rejected_at = excluded.rejected_at
	`,
		pair.InvoiceID,
		pair.TransactionID,
		pair.InvoiceFingerprint,
		pair.TransactionFingerprint,
		pair.RejectedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record rejected pair: %w", err)
	}
	return nil
}
