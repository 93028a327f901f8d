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

const transactionColumns = `id, date, amount, currency, description, entity, account_id,
	accounting_category, linked_invoice_id, confidence, updated_at`

// SaveTransactions upserts bank transactions. Re-importing a transaction
// refreshes its bank fields but never touches its invoice linkage.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(transactions) == 0 {
		return nil
	}
	if err := validateBatch("transaction", transactions); err != nil {
		return err
	}

	return s.retryBusy(ctx, "save_transactions", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := s.saveTransactionsTx(ctx, tx, transactions); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *SQLiteStorage) saveTransactionsTx(ctx context.Context, tx *sql.Tx, transactions []model.Transaction) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			amount = excluded.amount,
			currency = excluded.currency,
			description = excluded.description,
			entity = excluded.entity,
			account_id = excluded.account_id,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := s.timestamp()
	for _, txn := range transactions {
		category := txn.AccountingCategory
		if category == "" {
			category = model.UncategorizedCategory
		}
		_, err := stmt.ExecContext(ctx,
			txn.ID,
			txn.Date.UTC().Format(dateLayout),
			txn.Amount.String(),
			strings.ToUpper(txn.Currency),
			txn.Description,
			txn.Entity,
			txn.AccountID,
			category,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert transaction %s: %w", txn.ID, err)
		}
	}
	return nil
}

// FindTransactions implements service.Repository.
func (s *SQLiteStorage) FindTransactions(ctx context.Context, query service.TransactionQuery) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	sqlQuery := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`
	var args []any
	if query.Entity != "" {
		sqlQuery += " AND entity = ?"
		args = append(args, query.Entity)
	}
	if !query.Start.IsZero() {
		sqlQuery += " AND date >= ?"
		args = append(args, query.Start.UTC().Format(dateLayout))
	}
	if !query.End.IsZero() {
		sqlQuery += " AND date < ?"
		args = append(args, query.End.UTC().Format(dateLayout))
	}
	if query.ExcludeLinked {
		sqlQuery += " AND linked_invoice_id = ''"
	}
	sqlQuery += " ORDER BY date ASC, id ASC"

	var transactions []model.Transaction
	err := s.retryBusy(ctx, "find_transactions", func(ctx context.Context) error {
		var err error
		transactions, err = queryTransactions(ctx, s.db, sqlQuery, args...)
		return err
	})
	return transactions, err
}

// GetTransaction implements service.Repository.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var txn *model.Transaction
	err := s.retryBusy(ctx, "get_transaction", func(ctx context.Context) error {
		var err error
		txn, err = getTransaction(ctx, s.db, id)
		return err
	})
	return txn, err
}

func getTransaction(ctx context.Context, q queryable, id string) (*model.Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &common.NotFoundError{Kind: "transaction", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, err)
	}
	return txn, nil
}

func queryTransactions(ctx context.Context, q queryable, query string, args ...any) ([]model.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

func scanTransaction(row scanner) (*model.Transaction, error) {
	var txn model.Transaction
	var date, updatedAt string
	err := row.Scan(
		&txn.ID,
		&date,
		&txn.Amount,
		&txn.Currency,
		&txn.Description,
		&txn.Entity,
		&txn.AccountID,
		&txn.AccountingCategory,
		&txn.LinkedInvoiceID,
		&txn.Confidence,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if txn.Date, err = parseDate(date); err != nil {
		return nil, err
	}
	if txn.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &txn, nil
}
