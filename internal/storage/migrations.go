package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS invoices (
					id TEXT PRIMARY KEY,
					vendor TEXT NOT NULL,
					amount TEXT NOT NULL,
					currency TEXT NOT NULL,
					issue_date TEXT NOT NULL,
					entity TEXT NOT NULL,
					direction TEXT NOT NULL DEFAULT 'payable',
					status TEXT NOT NULL DEFAULT 'open',
					linked_transaction_id TEXT NOT NULL DEFAULT '',
					updated_at TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					date TEXT NOT NULL,
					amount TEXT NOT NULL,
					currency TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					entity TEXT NOT NULL,
					account_id TEXT NOT NULL DEFAULT '',
					accounting_category TEXT NOT NULL DEFAULT 'Uncategorized',
					linked_invoice_id TEXT NOT NULL DEFAULT '',
					confidence REAL NOT NULL DEFAULT 0,
					updated_at TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS match_decisions (
					id TEXT PRIMARY KEY,
					invoice_id TEXT NOT NULL,
					transaction_id TEXT NOT NULL,
					decision TEXT NOT NULL CHECK (decision IN ('accepted', 'rejected')),
					actor TEXT NOT NULL,
					reason TEXT NOT NULL DEFAULT '',
					pattern_key TEXT NOT NULL DEFAULT '',
					decided_at TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS rejected_pairs (
					invoice_id TEXT NOT NULL,
					transaction_id TEXT NOT NULL,
					invoice_fingerprint TEXT NOT NULL,
					transaction_fingerprint TEXT NOT NULL,
					rejected_at TEXT NOT NULL,
					PRIMARY KEY (invoice_id, transaction_id)
				)`,
				`CREATE TABLE IF NOT EXISTS learned_patterns (
					key TEXT PRIMARY KEY,
					weight REAL NOT NULL DEFAULT 0 CHECK (weight BETWEEN -1 AND 1),
					usage_count INTEGER NOT NULL DEFAULT 0,
					updated_at TEXT NOT NULL
				)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Add lookup indexes",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status, issue_date)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_entity_date ON transactions(entity, date)`,
				`CREATE INDEX IF NOT EXISTS idx_match_decisions_invoice ON match_decisions(invoice_id)`,
				`CREATE INDEX IF NOT EXISTS idx_match_decisions_transaction ON match_decisions(transaction_id)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Allow at most one accepted decision per invoice and per transaction",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_match_decisions_accepted_transaction
					ON match_decisions(transaction_id) WHERE decision = 'accepted'`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_match_decisions_accepted_invoice
					ON match_decisions(invoice_id) WHERE decision = 'accepted'`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

// SchemaVersion reports the database's current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
