package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/model"
	"github.com/Veraticus/invoice-match/internal/service"
)

const invoiceColumns = `id, vendor, amount, currency, issue_date, entity, direction,
	status, linked_transaction_id, updated_at`

// SaveInvoices upserts invoices from the invoicing system. Matching fields
// are refreshed; status and linkage are owned by the ledger and kept.
func (s *SQLiteStorage) SaveInvoices(ctx context.Context, invoices []model.Invoice) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(invoices) == 0 {
		return nil
	}
	if err := validateBatch("invoice", invoices); err != nil {
		return err
	}

	return s.retryBusy(ctx, "save_invoices", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO invoices (`+invoiceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				vendor = excluded.vendor,
				amount = excluded.amount,
				currency = excluded.currency,
				issue_date = excluded.issue_date,
				entity = excluded.entity,
				direction = excluded.direction,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		now := s.timestamp()
		for _, inv := range invoices {
			_, err := stmt.ExecContext(ctx,
				inv.ID,
				inv.Vendor,
				inv.Amount.String(),
				strings.ToUpper(inv.Currency),
				inv.IssueDate.UTC().Format(dateLayout),
				inv.Entity,
				string(inv.Direction),
				string(inv.Status),
				inv.LinkedTransactionID,
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert invoice %s: %w", inv.ID, err)
			}
		}
		return tx.Commit()
	})
}

// FindOpenInvoices implements service.Repository.
func (s *SQLiteStorage) FindOpenInvoices(ctx context.Context, filter service.InvoiceFilter) ([]model.Invoice, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE status = ?`
	args := []any{string(model.InvoiceOpen)}
	if filter.Since != nil {
		query += " AND issue_date >= ?"
		args = append(args, filter.Since.UTC().Format(dateLayout))
	}
	if len(filter.InvoiceIDs) > 0 {
		query += " AND id IN (?" + strings.Repeat(", ?", len(filter.InvoiceIDs)-1) + ")"
		for _, id := range filter.InvoiceIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY id ASC"

	var invoices []model.Invoice
	err := s.retryBusy(ctx, "find_open_invoices", func(ctx context.Context) error {
		var err error
		invoices, err = queryInvoices(ctx, s.db, query, args...)
		return err
	})
	return invoices, err
}

// ListInvoices returns every invoice with the given status, or all invoices
// when status is empty.
func (s *SQLiteStorage) ListInvoices(ctx context.Context, status model.InvoiceStatus) ([]model.Invoice, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY issue_date ASC, id ASC"

	var invoices []model.Invoice
	err := s.retryBusy(ctx, "list_invoices", func(ctx context.Context) error {
		var err error
		invoices, err = queryInvoices(ctx, s.db, query, args...)
		return err
	})
	return invoices, err
}

// GetInvoice implements service.Repository.
func (s *SQLiteStorage) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var inv *model.Invoice
	err := s.retryBusy(ctx, "get_invoice", func(ctx context.Context) error {
		var err error
		inv, err = getInvoice(ctx, s.db, id)
		return err
	})
	return inv, err
}

func getInvoice(ctx context.Context, q queryable, id string) (*model.Invoice, error) {
	row := q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &common.NotFoundError{Kind: "invoice", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice %s: %w", id, err)
	}
	return inv, nil
}

func queryInvoices(ctx context.Context, q queryable, query string, args ...any) ([]model.Invoice, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var invoices []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoices: %w", err)
	}
	return invoices, nil
}

func scanInvoice(row scanner) (*model.Invoice, error) {
	var inv model.Invoice
	var issueDate, direction, status, updatedAt string
	err := row.Scan(
		&inv.ID,
		&inv.Vendor,
		&inv.Amount,
		&inv.Currency,
		&issueDate,
		&inv.Entity,
		&direction,
		&status,
		&inv.LinkedTransactionID,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Direction = model.InvoiceDirection(direction)
	inv.Status = model.InvoiceStatus(status)
	if inv.IssueDate, err = parseDate(issueDate); err != nil {
		return nil, err
	}
	if inv.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &inv, nil
}
