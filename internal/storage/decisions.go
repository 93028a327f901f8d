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

// ListDecisions returns audit records oldest first.
func (s *SQLiteStorage) ListDecisions(ctx context.Context, filter service.DecisionFilter) ([]model.MatchDecision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, invoice_id, transaction_id, decision, actor, reason, pattern_key, decided_at
		FROM match_decisions WHERE 1=1`
	var args []any
	if filter.InvoiceID != "" {
		query += " AND invoice_id = ?"
		args = append(args, filter.InvoiceID)
	}
	if filter.TransactionID != "" {
		query += " AND transaction_id = ?"
		args = append(args, filter.TransactionID)
	}
	if filter.Decision != "" {
		query += " AND decision = ?"
		args = append(args, string(filter.Decision))
	}
	query += " ORDER BY decided_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var decisions []model.MatchDecision
	err := s.retryBusy(ctx, "list_decisions", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query decisions: %w", err)
		}
		defer func() { _ = rows.Close() }()

		decisions = nil
		for rows.Next() {
			var d model.MatchDecision
			var kind, decidedAt string
			if err := rows.Scan(&d.ID, &d.InvoiceID, &d.TransactionID, &kind, &d.Actor, &d.Reason, &d.PatternKey, &decidedAt); err != nil {
				return fmt.Errorf("failed to scan decision: %w", err)
			}
			d.Decision = model.DecisionKind(kind)
			if d.DecidedAt, err = parseTimestamp(decidedAt); err != nil {
				return err
			}
			decisions = append(decisions, d)
		}
		return rows.Err()
	})
	return decisions, err
}

// RejectedPairs implements service.Repository.
func (s *SQLiteStorage) RejectedPairs(ctx context.Context, invoiceIDs []string) ([]model.RejectedPair, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if len(invoiceIDs) == 0 {
		return nil, nil
	}

	query := `SELECT invoice_id, transaction_id, invoice_fingerprint, transaction_fingerprint, rejected_at
		FROM rejected_pairs WHERE invoice_id IN (?` + strings.Repeat(", ?", len(invoiceIDs)-1) + `)
		ORDER BY invoice_id ASC, transaction_id ASC`
	args := make([]any, len(invoiceIDs))
	for i, id := range invoiceIDs {
		args[i] = id
	}

	var pairs []model.RejectedPair
	err := s.retryBusy(ctx, "rejected_pairs", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query rejected pairs: %w", err)
		}
		defer func() { _ = rows.Close() }()

		pairs = nil
		for rows.Next() {
			var p model.RejectedPair
			var rejectedAt string
			if err := rows.Scan(&p.InvoiceID, &p.TransactionID, &p.InvoiceFingerprint, &p.TransactionFingerprint, &rejectedAt); err != nil {
				return fmt.Errorf("failed to scan rejected pair: %w", err)
			}
			if p.RejectedAt, err = parseTimestamp(rejectedAt); err != nil {
				return err
			}
			pairs = append(pairs, p)
		}
		return rows.Err()
	})
	return pairs, err
}

// ListPatterns returns every learned pattern ordered by key.
func (s *SQLiteStorage) ListPatterns(ctx context.Context) ([]model.LearnedPattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var patterns []model.LearnedPattern
	err := s.retryBusy(ctx, "list_patterns", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT key, weight, usage_count, updated_at FROM learned_patterns ORDER BY key ASC`)
		if err != nil {
			return fmt.Errorf("failed to query patterns: %w", err)
		}
		defer func() { _ = rows.Close() }()

		patterns = nil
		for rows.Next() {
			p, err := scanPattern(rows)
			if err != nil {
				return err
			}
			patterns = append(patterns, *p)
		}
		return rows.Err()
	})
	return patterns, err
}

// GetPattern returns nil when nothing has been learned for key.
func (s *SQLiteStorage) GetPattern(ctx context.Context, key string) (*model.LearnedPattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var p *model.LearnedPattern
	err := s.retryBusy(ctx, "get_pattern", func(ctx context.Context) error {
		var err error
		p, err = getPattern(ctx, s.db, key)
		return err
	})
	return p, err
}

// AdjustPattern moves a pattern weight outside of a ledger transaction.
func (s *SQLiteStorage) AdjustPattern(ctx context.Context, key string, delta float64) (*model.LearnedPattern, error) {
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}

	var p *model.LearnedPattern
	err := s.retryBusy(ctx, "adjust_pattern", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if p, err = adjustPattern(ctx, tx, key, delta, s.timestamp()); err != nil {
			return err
		}
		return tx.Commit()
	})
	return p, err
}

func getPattern(ctx context.Context, q queryable, key string) (*model.LearnedPattern, error) {
	row := q.QueryRowContext(ctx, `SELECT key, weight, usage_count, updated_at FROM learned_patterns WHERE key = ?`, key)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern %q: %w", key, err)
	}
	return p, nil
}

// adjustPattern clamps in SQL so concurrent writers cannot push a weight out of range.
func adjustPattern(ctx context.Context, q queryable, key string, delta float64, now string) (*model.LearnedPattern, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO learned_patterns (key, weight, usage_count, updated_at)
		VALUES (?, MIN(MAX(?, -1.0), 1.0), 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			weight = MIN(MAX(learned_patterns.weight + ?, -1.0), 1.0),
			usage_count = learned_patterns.usage_count + 1,
			updated_at = excluded.updated_at
	`, key, delta, now, delta)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust pattern %q: %w", key, err)
	}
	return getPattern(ctx, q, key)
}

func scanPattern(row scanner) (*model.LearnedPattern, error) {
	var p model.LearnedPattern
	var updatedAt string
	if err := row.Scan(&p.Key, &p.Weight, &p.UsageCount, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// conflictFromConstraint maps a unique-index violation on match_decisions to
// the ConflictError the ledger expects.
func conflictFromConstraint(err error, decision *model.MatchDecision) error {
	if isUniqueViolation(err) {
		return &common.ConflictError{
			InvoiceID:     decision.InvoiceID,
			TransactionID: decision.TransactionID,
			Reason:        "an accepted decision already references this pair",
		}
	}
	return err
}
