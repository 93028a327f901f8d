// Package testutil provides test doubles, fixture builders, and database
// helpers for the reconciliation packages.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/model"
	"github.com/Veraticus/invoice-match/internal/service"
	"github.com/Veraticus/invoice-match/internal/storage"
)

// TestDB is a migrated SQLite database that lives for one test.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup  func(context.Context, *storage.SQLiteStorage) error
	Invoices     []model.Invoice
	Transactions []model.Transaction
}

// SetupTestDB creates a migrated database in a temporary directory and seeds
// it with the given invoices.
//
// Example:
//
//	db := testutil.SetupTestDB(t,
//		testutil.Invoice("INV-1").Vendor("Acme").Amount("120.00").Build(),
//	)
func SetupTestDB(t *testing.T, invoices ...model.Invoice) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{Invoices: invoices})
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "reconcile.db"), storage.Options{
		BusyRetry: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	if err := store.SaveInvoices(ctx, opts.Invoices); err != nil {
		t.Fatalf("failed to seed invoices: %v", err)
	}
	if err := store.SaveTransactions(ctx, opts.Transactions); err != nil {
		t.Fatalf("failed to seed transactions: %v", err)
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	return &TestDB{Storage: store, t: t}
}

// MustGetInvoice returns the stored invoice or fails the test.
func (db *TestDB) MustGetInvoice(id string) *model.Invoice {
	db.t.Helper()
	inv, err := db.Storage.GetInvoice(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to get invoice %s: %v", id, err)
	}
	return inv
}

// MustGetTransaction returns the stored transaction or fails the test.
func (db *TestDB) MustGetTransaction(id string) *model.Transaction {
	db.t.Helper()
	txn, err := db.Storage.GetTransaction(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to get transaction %s: %v", id, err)
	}
	return txn
}

// WithTransaction executes the given function within a unit of work that
// is always rolled back.
func (db *TestDB) WithTransaction(fn func(tx service.Tx) error) error {
	ctx := context.Background()
	tx, err := db.Storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	return fn(tx)
}
