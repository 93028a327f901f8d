package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/model"
	"github.com/Veraticus/invoice-match/internal/service"
)

var fixedNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func fastRetry() common.RetryOptions {
	return common.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

// createTestStorage opens and migrates a database in a temporary directory.
func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"), Options{
		BusyRetry: fastRetry(),
		Now:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func day(s string) time.Time {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func invoice(id, vendor, amount, issued string) model.Invoice {
	return model.Invoice{
		ID:        id,
		Vendor:    vendor,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "usd",
		IssueDate: day(issued),
		Entity:    "acme-co",
		Status:    model.InvoiceOpen,
		Direction: model.DirectionPayable,
	}
}

func transaction(id, description, amount, date string) model.Transaction {
	return model.Transaction{
		ID:          id,
		Date:        day(date),
		Amount:      decimal.RequireFromString(amount),
		Currency:    "USD",
		Description: description,
		Entity:      "acme-co",
		AccountID:   "checking",
	}
}

func TestMigrate(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)

	require.NoError(t, store.Migrate(ctx), "migrating twice is a no-op")

	var indexCount int
	require.NoError(t, store.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'index' AND name LIKE 'idx_match_decisions_accepted_%'
	`).Scan(&indexCount))
	assert.Equal(t, 2, indexCount)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("  ", Options{})
	assert.ErrorIs(t, err, ErrEmptyString)
}

func TestInvoiceRoundTrip(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	in := invoice("INV-1", "Acme Hosting", "1234.50", "2025-03-04")
	require.NoError(t, store.SaveInvoices(ctx, []model.Invoice{in}))

	got, err := store.GetInvoice(ctx, "INV-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Hosting", got.Vendor)
	assert.True(t, got.Amount.Equal(in.Amount), "amount %s", got.Amount)
	assert.Equal(t, "USD", got.Currency, "currency is normalized on write")
	assert.True(t, got.IssueDate.Equal(in.IssueDate))
	assert.Equal(t, model.InvoiceOpen, got.Status)
	assert.Equal(t, model.DirectionPayable, got.Direction)
	assert.Equal(t, fixedNow, got.UpdatedAt)

	_, err = store.GetInvoice(ctx, "INV-404")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSaveRejectsInvalidRecords(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	bad := invoice("INV-1", "Acme", "0", "2025-03-04")
	err := store.SaveInvoices(ctx, []model.Invoice{invoice("INV-0", "Fine", "1", "2025-03-01"), bad})
	assert.ErrorIs(t, err, common.ErrValidation)

	all, err := store.ListInvoices(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all, "a bad record rejects the whole batch")

	txn := transaction("T-1", "ACME", "-10", "2025-03-04")
	txn.Entity = ""
	assert.ErrorIs(t, store.SaveTransactions(ctx, []model.Transaction{txn}), common.ErrValidation)

	assert.NoError(t, store.SaveInvoices(ctx, nil))
}

func TestReimportKeepsLedgerState(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveInvoices(ctx, []model.Invoice{invoice("INV-1", "Acme", "120", "2025-03-04")}))
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{transaction("T-1", "ACME", "-120", "2025-03-05")}))

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.LinkTransaction(ctx, "T-1", "INV-1", "Invoice Expense", 1))
	require.NoError(t, tx.MarkInvoiceMatched(ctx, "INV-1", "T-1"))
	require.NoError(t, tx.Commit())

	require.NoError(t, store.SaveInvoices(ctx, []model.Invoice{invoice("INV-1", "Acme Corp", "120", "2025-03-04")}))
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{transaction("T-1", "ACME CORP", "-120", "2025-03-05")}))

	inv, err := store.GetInvoice(ctx, "INV-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", inv.Vendor)
	assert.Equal(t, model.InvoiceMatched, inv.Status)
	assert.Equal(t, "T-1", inv.LinkedTransactionID)

	txn, err := store.GetTransaction(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, "ACME CORP", txn.Description)
	assert.Equal(t, "INV-1", txn.LinkedInvoiceID)
	assert.Equal(t, "Invoice Expense", txn.AccountingCategory)
	assert.InDelta(t, 1.0, txn.Confidence, 1e-12)
}

func TestFindTransactions(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	other := transaction("T-OTHER", "ACME", "-10", "2025-03-10")
	other.Entity = "globex"
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		transaction("T-1", "ACME", "-10", "2025-03-01"),
		transaction("T-2", "ACME", "-10", "2025-03-15"),
		transaction("T-3", "ACME", "-10", "2025-04-01"),
		transaction("T-4", "ACME", "-10", "2025-03-20"),
		other,
	}))
	require.NoError(t, store.SaveInvoices(ctx, []model.Invoice{invoice("INV-1", "Acme", "10", "2025-03-01")}))

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.LinkTransaction(ctx, "T-4", "INV-1", "Invoice Expense", 1))
	require.NoError(t, tx.Commit())

	tests := []struct {
		name  string
		query service.TransactionQuery
		want  []string
	}{
		{
			name:  "end is exclusive",
			query: service.TransactionQuery{Entity: "acme-co", Start: day("2025-03-01"), End: day("2025-04-01")},
			want:  []string{"T-1", "T-2", "T-4"},
		},
		{
			name:  "linked transactions excluded",
			query: service.TransactionQuery{Entity: "acme-co", Start: day("2025-03-01"), End: day("2025-04-01"), ExcludeLinked: true},
			want:  []string{"T-1", "T-2"},
		},
		{
			name:  "other entity",
			query: service.TransactionQuery{Entity: "globex"},
			want:  []string{"T-OTHER"},
		},
		{
			name:  "open ended",
			query: service.TransactionQuery{Entity: "acme-co", Start: day("2025-03-15")},
			want:  []string{"T-2", "T-4", "T-3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.FindTransactions(ctx, tt.query)
			require.NoError(t, err)
			ids := make([]string, len(got))
			for i, txn := range got {
				ids[i] = txn.ID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestFindOpenInvoices(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	matched := invoice("INV-3", "Acme", "10", "2025-05-01")
	matched.Status = model.InvoiceMatched
	matched.LinkedTransactionID = "T-9"
	require.NoError(t, store.SaveInvoices(ctx, []model.Invoice{
		invoice("INV-1", "Acme", "10", "2025-01-01"),
		invoice("INV-2", "Acme", "10", "2025-04-01"),
		matched,
	}))

	all, err := store.FindOpenInvoices(ctx, service.InvoiceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	since := day("2025-02-01")
	recent, err := store.FindOpenInvoices(ctx, service.InvoiceFilter{Since: &since})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "INV-2", recent[0].ID)

	picked, err := store.FindOpenInvoices(ctx, service.InvoiceFilter{InvoiceIDs: []string{"INV-1", "INV-3"}})
	require.NoError(t, err)
	require.Len(t, picked, 1)
	assert.Equal(t, "INV-1", picked[0].ID)

	matchedOnly, err := store.ListInvoices(ctx, model.InvoiceMatched)
	require.NoError(t, err)
	require.Len(t, matchedOnly, 1)
	assert.Equal(t, "INV-3", matchedOnly[0].ID)
}

func TestTxConflicts(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	require.NoError(t, store.SaveInvoices(ctx, []model.Invoice{
		invoice("INV-1", "Acme", "10", "2025-03-01"),
		invoice("INV-2", "Acme", "10", "2025-03-01"),
	}))
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{transaction("T-1", "ACME", "-10", "2025-03-01")}))

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.LinkTransaction(ctx, "T-1", "INV-1", "Invoice Expense", 1))
	require.NoError(t, tx.MarkInvoiceMatched(ctx, "INV-1", "T-1"))

	assert.ErrorIs(t, tx.LinkTransaction(ctx, "T-1", "INV-2", "Invoice Expense", 1), common.ErrConflict)
	assert.ErrorIs(t, tx.MarkInvoiceMatched(ctx, "INV-1", "T-2"), common.ErrConflict)
	assert.ErrorIs(t, tx.LinkTransaction(ctx, "T-404", "INV-2", "Invoice Expense", 1), common.ErrNotFound)
	assert.ErrorIs(t, tx.MarkInvoiceMatched(ctx, "INV-404", "T-1"), common.ErrNotFound)
	assert.ErrorIs(t, tx.SetInvoiceStatus(ctx, "INV-404", model.InvoiceOpen), common.ErrNotFound)

	accepted := &model.MatchDecision{
		ID: "d-1", InvoiceID: "INV-1", TransactionID: "T-1",
		Decision: model.DecisionAccepted, Actor: "alice", DecidedAt: fixedNow,
	}
	require.NoError(t, tx.AppendDecision(ctx, accepted))

	duplicate := *accepted
	duplicate.ID = "d-2"
	duplicate.InvoiceID = "INV-2"
	assert.ErrorIs(t, tx.AppendDecision(ctx, &duplicate), common.ErrConflict)

	rejected := duplicate
	rejected.ID = "d-3"
	rejected.Decision = model.DecisionRejected
	assert.NoError(t, tx.AppendDecision(ctx, &rejected), "rejections are not unique")

	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback(), "rollback after commit is a no-op")
}

func TestTxRollbackDiscardsWrites(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	require.NoError(t, store.SaveInvoices(ctx, []model.Invoice{invoice("INV-1", "Acme", "10", "2025-03-01")}))
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{transaction("T-1", "ACME", "-10", "2025-03-01")}))

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.LinkTransaction(ctx, "T-1", "INV-1", "Invoice Expense", 1))
	_, err = tx.AdjustPattern(ctx, "acme|acme", 0.2)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	txn, err := store.GetTransaction(ctx, "T-1")
	require.NoError(t, err)
	assert.False(t, txn.IsLinked())
	assert.Equal(t, model.UncategorizedCategory, txn.AccountingCategory)

	p, err := store.GetPattern(ctx, "acme|acme")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestAdjustPatternClamps(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	var p *model.LearnedPattern
	var err error
	for i := 0; i < 7; i++ {
		p, err = store.AdjustPattern(ctx, "acme|acme", 0.2)
		require.NoError(t, err)
	}
	assert.InDelta(t, 1.0, p.Weight, 1e-12)
	assert.Equal(t, 7, p.UsageCount)

	p, err = store.AdjustPattern(ctx, "acme|acme", -2.5)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, p.Weight, 1e-12)

	_, err = store.AdjustPattern(ctx, "", 0.2)
	assert.ErrorIs(t, err, ErrEmptyString)

	_, err = store.AdjustPattern(ctx, "globex|globex", 0.4)
	require.NoError(t, err)
	patterns, err := store.ListPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Equal(t, "acme|acme", patterns[0].Key)
	assert.Equal(t, "globex|globex", patterns[1].Key)
}

func TestRejectedPairsAndDecisions(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	for i, pair := range []model.RejectedPair{
		{InvoiceID: "INV-1", TransactionID: "T-1", InvoiceFingerprint: "a", TransactionFingerprint: "b", RejectedAt: fixedNow},
		{InvoiceID: "INV-1", TransactionID: "T-1", InvoiceFingerprint: "a", TransactionFingerprint: "c", RejectedAt: fixedNow.Add(time.Hour)},
		{InvoiceID: "INV-2", TransactionID: "T-1", InvoiceFingerprint: "d", TransactionFingerprint: "e", RejectedAt: fixedNow},
	} {
		require.NoError(t, tx.AddRejectedPair(ctx, pair), "pair %d", i)
	}
	for i, d := range []model.MatchDecision{
		{ID: "d-2", InvoiceID: "INV-1", TransactionID: "T-1", Decision: model.DecisionRejected, Actor: "bob", Reason: "wrong", DecidedAt: fixedNow.Add(time.Minute)},
		{ID: "d-1", InvoiceID: "INV-2", TransactionID: "T-1", Decision: model.DecisionRejected, Actor: "alice", DecidedAt: fixedNow},
	} {
		require.NoError(t, tx.AppendDecision(ctx, &d), "decision %d", i)
	}
	require.NoError(t, tx.Commit())

	pairs, err := store.RejectedPairs(ctx, []string{"INV-1"})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "c", pairs[0].TransactionFingerprint, "the latest rejection wins")
	assert.Equal(t, fixedNow.Add(time.Hour), pairs[0].RejectedAt)

	none, err := store.RejectedPairs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := store.ListDecisions(ctx, service.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "d-1", all[0].ID, "oldest first")
	assert.Equal(t, "wrong", all[1].Reason)

	filtered, err := store.ListDecisions(ctx, service.DecisionFilter{InvoiceID: "INV-1", Decision: model.DecisionRejected, Limit: 5})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "bob", filtered[0].Actor)
}

func TestBackup(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	require.NoError(t, store.SaveInvoices(ctx, []model.Invoice{invoice("INV-1", "Acme", "10", "2025-03-01")}))

	dest := filepath.Join(t.TempDir(), "copies", "backup.db")
	require.NoError(t, store.Backup(ctx, dest))
	assert.ErrorIs(t, store.Backup(ctx, dest), ErrBackupExists)
	assert.Error(t, store.Backup(ctx, "relative.db"))
	assert.Error(t, store.Backup(ctx, filepath.Join(t.TempDir(), "bad'name.db")))

	copied, err := Open(dest, Options{})
	require.NoError(t, err)
	defer func() { _ = copied.Close() }()

	inv, err := copied.GetInvoice(ctx, "INV-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", inv.Vendor)

	path, err := store.BackupBeforeMigrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, path, "nothing to back up at the current schema")
}
