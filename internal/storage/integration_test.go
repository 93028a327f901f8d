package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/config"
	"github.com/Veraticus/invoice-match/internal/engine"
	"github.com/Veraticus/invoice-match/internal/model"
	"github.com/Veraticus/invoice-match/internal/service"
	"github.com/Veraticus/invoice-match/internal/similarity"
	tu "github.com/Veraticus/invoice-match/internal/testutil"
)

func TestEngineOnSQLite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	db := tu.SetupTestDBWithOptions(t, tu.TestDBOptions{
		Invoices: []model.Invoice{
			tu.Invoice("INV-1").Vendor("Acme Hosting").Amount("120.00").Issued("2025-04-01").Build(),
			tu.Invoice("INV-2").Vendor("Acme Hosting").Amount("120.00").Issued("2025-04-02").Build(),
			tu.Invoice("INV-3").Vendor("Initech").Amount("900.00").Issued("2025-04-03").Receivable().Build(),
		},
		Transactions: []model.Transaction{
			tu.Transaction("T-1").Description("ACME HOSTING 4411").Amount("-120.00").On("2025-04-02").Build(),
			tu.Transaction("T-2").Description("ACME HOSTING 4412").Amount("-120.00").On("2025-04-03").Build(),
			tu.Transaction("T-3").Description("INITECH DEPOSIT").Amount("900.00").On("2025-04-05").Build(),
		},
	})

	e, err := engine.New(db.Storage, similarity.Composite{}, config.Default())
	require.NoError(t, err)

	report, err := e.ProposeMatches(ctx, engine.ProposeRequest{})
	require.NoError(t, err)
	require.Len(t, report.Assignments, 3)
	assert.Empty(t, report.Unmatched)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, invoiceID := range []string{"INV-1", "INV-2"} {
		wg.Add(1)
		go func(i int, invoiceID string) {
			defer wg.Done()
			_, errs[i] = e.AcceptMatch(ctx, invoiceID, "T-1", "operator")
		}(i, invoiceID)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.True(t, errors.Is(err, common.ErrConflict), "got %v", err)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one concurrent accept wins")

	accepted, err := db.Storage.ListDecisions(ctx, service.DecisionFilter{TransactionID: "T-1", Decision: model.DecisionAccepted})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	winner := accepted[0].InvoiceID
	assert.Equal(t, winner, db.MustGetTransaction("T-1").LinkedInvoiceID)
	assert.Equal(t, model.InvoiceMatched, db.MustGetInvoice(winner).Status)

	_, err = e.AcceptMatch(ctx, "INV-3", "T-3", "operator")
	require.NoError(t, err)
	assert.Equal(t, config.Default().Ledger.RevenueCategory, db.MustGetTransaction("T-3").AccountingCategory)

	loser := "INV-1"
	if winner == "INV-1" {
		loser = "INV-2"
	}
	_, err = e.RejectMatch(ctx, loser, "T-2", "operator", "different subscription")
	require.NoError(t, err)

	report, err = e.ProposeMatches(ctx, engine.ProposeRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{loser}, report.Unmatched)
	assert.Empty(t, report.Assignments)

	patterns, err := db.Storage.ListPatterns(ctx)
	require.NoError(t, err)
	byKey := make(map[string]float64, len(patterns))
	for _, p := range patterns {
		byKey[p.Key] = p.Weight
	}
	assert.InDelta(t, 0.0, byKey["acme hosting|acme hosting"], 1e-9, "one accept and one reject cancel out")
	assert.InDelta(t, 0.2, byKey["initech|initech deposit"], 1e-9)
}
