package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/model"
	"github.com/Veraticus/invoice-match/internal/service"
	"github.com/Veraticus/invoice-match/internal/similarity"
	tu "github.com/Veraticus/invoice-match/internal/testutil"
)

func chunkStatuses(report *model.MatchReport) map[string]model.ChunkStatus {
	out := make(map[string]model.ChunkStatus, len(report.Chunks))
	for _, c := range report.Chunks {
		out[c.Chunk.ID] = c.Status
	}
	return out
}

func TestProposeMatchesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := tu.NewMemoryRepository()
	repo.PutInvoices(
		tu.Invoice("INV-1").Vendor("Acme Hosting").Amount("120.00").Issued("2025-04-01").Build(),
		tu.Invoice("INV-2").Vendor("Globex Supplies").Amount("75.50").Issued("2025-04-10").Build(),
		tu.Invoice("INV-3").Vendor("Initech").Amount("900.00").Issued("2025-05-20").Receivable().Build(),
		tu.Invoice("INV-4").Vendor("Nobody Ltd").Amount("3.00").Issued("2025-05-01").Build(),
	)
	repo.PutTransactions(
		tu.Transaction("T-1").Description("ACME HOSTING").Amount("-120.00").On("2025-04-02").Build(),
		tu.Transaction("T-2").Description("GLOBEX SUPPLIES").Amount("-76.00").On("2025-04-12").Build(),
		tu.Transaction("T-3").Description("INITECH").Amount("900.00").On("2025-05-25").Build(),
		tu.Transaction("T-4").Description("ACME HOSTING").Amount("-121.00").On("2025-04-20").Build(),
	)
	e := newTestEngine(t, repo)

	first, err := e.ProposeMatches(ctx, ProposeRequest{})
	require.NoError(t, err)
	second, err := e.ProposeMatches(ctx, ProposeRequest{})
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	assert.False(t, first.Partial)
	assert.False(t, first.Cancelled)
	assert.Equal(t, []string{"INV-4"}, first.Unmatched)
	require.Len(t, first.Assignments, 3)
	assert.Equal(t, "T-1", first.Assignments[0].TransactionID)
	assert.Equal(t, "T-2", first.Assignments[1].TransactionID)
	assert.Equal(t, "T-3", first.Assignments[2].TransactionID)
	assert.Empty(t, repo.Decisions(), "proposing writes nothing")
}

func TestProposeMatchesEmpty(t *testing.T) {
	e := newTestEngine(t, tu.NewMemoryRepository())

	report, err := e.ProposeMatches(context.Background(), ProposeRequest{})
	require.NoError(t, err)
	assert.NotNil(t, report.Assignments)
	assert.NotNil(t, report.Unmatched)
	assert.NotNil(t, report.Candidates)
	assert.Empty(t, report.Chunks)

	raw, err := json.Marshal(report)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"assignments":[]`)
}

func TestRejectedPairStaysExcluded(t *testing.T) {
	ctx := context.Background()
	repo := tu.NewMemoryRepository()
	repo.PutInvoices(tu.Invoice("INV-D").Vendor("Acme Hosting").Amount("120.00").Issued("2025-04-01").Build())
	repo.PutTransactions(tu.Transaction("T-D").Description("ACME HOSTING").Amount("-120.00").On("2025-04-02").Build())
	e := newTestEngine(t, repo)

	report, err := e.ProposeMatches(ctx, ProposeRequest{})
	require.NoError(t, err)
	_, ok := report.AssignmentFor("INV-D")
	require.True(t, ok)

	_, err = e.RejectMatch(ctx, "INV-D", "T-D", "alice", "wrong account")
	require.NoError(t, err)

	report, err = e.ProposeMatches(ctx, ProposeRequest{})
	require.NoError(t, err)
	assert.False(t, report.HasCandidate("INV-D", "T-D"))
	assert.Equal(t, []string{"INV-D"}, report.Unmatched)

	// Correcting the bank description makes the pair eligible again.
	repo.PutTransactions(tu.Transaction("T-D").Description("ACME HOSTING SERVICES").Amount("-120.00").On("2025-04-02").Build())
	report, err = e.ProposeMatches(ctx, ProposeRequest{})
	require.NoError(t, err)
	assert.True(t, report.HasCandidate("INV-D", "T-D"))
}

func TestProposeRetriesTransientFailures(t *testing.T) {
	repo := tu.NewMemoryRepository()
	repo.PutInvoices(tu.Invoice("INV-1").Vendor("Acme Hosting").Amount("120.00").Issued("2025-01-15").Build())
	repo.PutTransactions(tu.Transaction("T-1").Description("ACME HOSTING").Amount("-120.00").On("2025-01-16").Build())

	var calls atomic.Int32
	repo.FindTransactionsHook = func(context.Context, service.TransactionQuery) error {
		if calls.Add(1) == 1 {
			return &common.RepositoryTimeoutError{Operation: "find_transactions"}
		}
		return nil
	}

	cfg := testConfig()
	cfg.Orchestrator.ChunkDays = 365
	e := newTestEngineWith(t, repo, similarity.Composite{}, cfg)

	report, err := e.ProposeMatches(context.Background(), ProposeRequest{})
	require.NoError(t, err)
	require.Len(t, report.Chunks, 1)
	assert.Equal(t, model.ChunkCompleted, report.Chunks[0].Status)
	assert.Equal(t, 2, report.Chunks[0].Attempts)
	assert.Equal(t, "2024-12-16", report.Chunks[0].Chunk.ID)
	assert.False(t, report.Partial)

	_, ok := report.AssignmentFor("INV-1")
	assert.True(t, ok)
}

func TestPartialRunThenResume(t *testing.T) {
	ctx := context.Background()
	repo := tu.NewMemoryRepository()
	repo.PutInvoices(
		tu.Invoice("INV-JAN").Vendor("Acme Hosting").Amount("120.00").Issued("2025-01-15").Build(),
		tu.Invoice("INV-JUL").Vendor("Globex").Amount("80.00").Issued("2025-07-15").Build(),
	)
	repo.PutTransactions(
		tu.Transaction("T-JAN").Description("ACME HOSTING").Amount("-120.00").On("2025-01-16").Build(),
		tu.Transaction("T-JUL").Description("GLOBEX").Amount("-80.00").On("2025-07-16").Build(),
	)

	outage := tu.Date("2025-06-01")
	repo.FindTransactionsHook = func(_ context.Context, q service.TransactionQuery) error {
		if !q.Start.Before(outage) {
			return &common.RepositoryTimeoutError{Operation: "find_transactions"}
		}
		return nil
	}

	e := newTestEngine(t, repo)
	report, err := e.ProposeMatches(ctx, ProposeRequest{})
	require.NoError(t, err)
	assert.True(t, report.Partial)
	assert.Equal(t, map[string]model.ChunkStatus{
		"2024-12": model.ChunkCompleted,
		"2025-01": model.ChunkCompleted,
		"2025-02": model.ChunkCompleted,
		"2025-06": model.ChunkFailed,
		"2025-07": model.ChunkFailed,
		"2025-08": model.ChunkFailed,
	}, chunkStatuses(report))
	for _, c := range report.FailedChunks() {
		assert.Equal(t, 3, c.Attempts, c.Chunk.ID)
		assert.NotEmpty(t, c.Error)
	}

	_, ok := report.AssignmentFor("INV-JAN")
	assert.True(t, ok, "completed chunks still produce proposals")
	assert.Equal(t, []string{"INV-JUL"}, report.Unmatched)

	repo.FindTransactionsHook = nil
	resumed, err := e.Resume(ctx, ProposeRequest{}, report)
	require.NoError(t, err)
	assert.False(t, resumed.Partial)
	assert.Empty(t, resumed.FailedChunks())
	assert.Empty(t, resumed.Unmatched)

	a, ok := resumed.AssignmentFor("INV-JUL")
	require.True(t, ok)
	assert.Equal(t, "T-JUL", a.TransactionID)
	a, ok = resumed.AssignmentFor("INV-JAN")
	require.True(t, ok)
	assert.Equal(t, "T-JAN", a.TransactionID)

	_, err = e.Resume(ctx, ProposeRequest{}, nil)
	assert.Error(t, err)
}

func TestResumeDropsCandidatesClaimedSince(t *testing.T) {
	ctx := context.Background()
	repo := tu.NewMemoryRepository()
	repo.PutInvoices(
		tu.Invoice("INV-1").Vendor("Acme Hosting").Amount("120.00").Issued("2025-01-15").Build(),
		tu.Invoice("INV-2").Vendor("Acme Hosting").Amount("120.00").Issued("2025-07-15").Build(),
	)
	repo.PutTransactions(
		tu.Transaction("T-1").Description("ACME HOSTING").Amount("-120.00").On("2025-01-16").Build(),
		tu.Transaction("T-2").Description("ACME HOSTING").Amount("-120.00").On("2025-07-16").Build(),
	)
	outage := tu.Date("2025-06-01")
	repo.FindTransactionsHook = func(_ context.Context, q service.TransactionQuery) error {
		if !q.Start.Before(outage) {
			return errors.New("permanent failure")
		}
		return nil
	}

	e := newTestEngine(t, repo)
	report, err := e.ProposeMatches(ctx, ProposeRequest{})
	require.NoError(t, err)
	require.True(t, report.Partial)
	for _, c := range report.FailedChunks() {
		assert.Equal(t, 1, c.Attempts, "non-retryable errors are not retried")
	}
	require.True(t, report.HasCandidate("INV-1", "T-1"))

	_, err = e.AcceptMatch(ctx, "INV-1", "T-1", "alice")
	require.NoError(t, err)

	repo.FindTransactionsHook = nil
	resumed, err := e.Resume(ctx, ProposeRequest{}, report)
	require.NoError(t, err)
	assert.False(t, resumed.HasCandidate("INV-1", "T-1"))
	assert.True(t, resumed.HasCandidate("INV-2", "T-2"))
	assert.Empty(t, resumed.Unmatched)
}

func TestCancelledRunKeepsCompletedChunks(t *testing.T) {
	repo := tu.NewMemoryRepository()
	repo.PutInvoices(tu.Invoice("INV-1").Vendor("Acme Hosting").Amount("120.00").Issued("2025-01-15").Build())
	repo.PutTransactions(tu.Transaction("T-1").Description("ACME HOSTING").Amount("-120.00").On("2025-01-16").Build())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []Progress
	e := newTestEngine(t, repo, WithProgress(func(p Progress) {
		seen = append(seen, p)
		if p.Completed == 1 {
			cancel()
		}
	}))

	report, err := e.ProposeMatches(ctx, ProposeRequest{})
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	require.Len(t, report.Chunks, 3)
	assert.Equal(t, model.ChunkCompleted, report.Chunks[0].Status)
	for _, c := range report.Chunks[1:] {
		assert.Equal(t, model.ChunkSkipped, c.Status)
		assert.Equal(t, "run cancelled", c.Error)
	}

	require.Len(t, seen, 3)
	for i, p := range seen {
		assert.Equal(t, i+1, p.Completed)
		assert.Equal(t, 3, p.Total)
	}

	resumed, err := e.Resume(context.Background(), ProposeRequest{}, report)
	require.NoError(t, err)
	assert.False(t, resumed.Cancelled)
	assert.Empty(t, resumed.FailedChunks())
	_, ok := resumed.AssignmentFor("INV-1")
	assert.True(t, ok)
}

func TestProposeAbortsOnInvalidRecords(t *testing.T) {
	tests := []struct {
		setup func(repo *tu.MemoryRepository)
		name  string
	}{
		{
			name: "invoice without vendor",
			setup: func(repo *tu.MemoryRepository) {
				repo.PutInvoices(tu.Invoice("INV-1").Vendor("").Build())
			},
		},
		{
			name: "transaction without currency",
			setup: func(repo *tu.MemoryRepository) {
				repo.PutInvoices(tu.Invoice("INV-1").Build())
				repo.PutTransactions(tu.Transaction("T-1").Currency("").Build())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := tu.NewMemoryRepository()
			tt.setup(repo)
			e := newTestEngine(t, repo)

			report, err := e.ProposeMatches(context.Background(), ProposeRequest{})
			assert.Nil(t, report)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestProposeFilters(t *testing.T) {
	ctx := context.Background()
	repo := tu.NewMemoryRepository()
	repo.PutInvoices(
		tu.Invoice("INV-OLD").Vendor("Acme").Amount("10").Issued("2025-01-05").Build(),
		tu.Invoice("INV-NEW").Vendor("Acme").Amount("20").Issued("2025-03-05").Build(),
		tu.Invoice("INV-DONE").Vendor("Acme").Amount("30").Issued("2025-03-06").
			Status(model.InvoiceMatched).Build(),
	)
	e := newTestEngine(t, repo)

	since := tu.Date("2025-02-01")
	report, err := e.ProposeMatches(ctx, ProposeRequest{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, []string{"INV-NEW"}, report.Unmatched)

	report, err = e.ProposeMatches(ctx, ProposeRequest{InvoiceIDs: []string{"INV-OLD", "INV-DONE"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"INV-OLD"}, report.Unmatched)
}

func TestProposeMatchesHonorsDirection(t *testing.T) {
	ctx := context.Background()
	payable := tu.Invoice("INV-1").Vendor("Acme Hosting").Amount("120.00").Issued("2025-04-01").Build()
	receivable := tu.Invoice("INV-R").Vendor("Acme Hosting").Amount("120.00").Issued("2025-04-01").Receivable().Build()
	inflow := tu.Transaction("T-IN").Description("ACME HOSTING").Amount("120.00").On("2025-04-01").Build()
	outflow := tu.Transaction("T-OUT").Description("ACME HOSTING").Amount("-120.00").On("2025-04-01").Build()

	tests := []struct {
		name         string
		invoices     []model.Invoice
		transactions []model.Transaction
		want         map[string]string
		unmatched    []string
	}{
		{
			name:         "payable ignores an inflow",
			invoices:     []model.Invoice{payable},
			transactions: []model.Transaction{inflow},
			want:         map[string]string{},
			unmatched:    []string{"INV-1"},
		},
		{
			name:         "receivable ignores an outflow",
			invoices:     []model.Invoice{receivable},
			transactions: []model.Transaction{outflow},
			want:         map[string]string{},
			unmatched:    []string{"INV-R"},
		},
		{
			name:         "each direction takes its own flow",
			invoices:     []model.Invoice{payable, receivable},
			transactions: []model.Transaction{inflow, outflow},
			want:         map[string]string{"INV-1": "T-OUT", "INV-R": "T-IN"},
			unmatched:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := tu.NewMemoryRepository()
			repo.PutInvoices(tt.invoices...)
			repo.PutTransactions(tt.transactions...)
			e := newTestEngine(t, repo)

			report, err := e.ProposeMatches(ctx, ProposeRequest{})
			require.NoError(t, err)

			got := make(map[string]string)
			for _, a := range report.Assignments {
				got[a.InvoiceID] = a.TransactionID
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.unmatched, report.Unmatched)
			assert.False(t, report.HasCandidate("INV-1", "T-IN"))
			assert.False(t, report.HasCandidate("INV-R", "T-OUT"))
		})
	}
}

func TestCandidateCapKeepsBestScored(t *testing.T) {
	ctx := context.Background()
	repo := tu.NewMemoryRepository()
	repo.PutInvoices(tu.Invoice("INV-1").Vendor("Acme Hosting").Amount("100.00").Issued("2025-03-10").Build())
	repo.PutTransactions(
		tu.Transaction("T-NEAR").Description("GLOBEX LOGISTICS").Amount("-100.00").On("2025-03-10").Build(),
		tu.Transaction("T-FAR").Description("ACME HOSTING").Amount("-100.00").On("2025-03-13").Build(),
	)
	cfg := testConfig()
	cfg.Matching.MaxCandidatesPerInvoice = 1
	e := newTestEngineWith(t, repo, similarity.Composite{}, cfg)

	report, err := e.ProposeMatches(ctx, ProposeRequest{})
	require.NoError(t, err)

	assert.True(t, report.HasCandidate("INV-1", "T-FAR"), "a closer date must not crowd out a better vendor match")
	assert.False(t, report.HasCandidate("INV-1", "T-NEAR"))
	a, ok := report.AssignmentFor("INV-1")
	require.True(t, ok)
	assert.Equal(t, "T-FAR", a.TransactionID)
}

func TestAcceptedPatternBoostsLaterRuns(t *testing.T) {
	ctx := context.Background()
	repo := seededRepo()
	e := newTestEngine(t, repo)

	before, err := e.ProposeMatches(ctx, ProposeRequest{InvoiceIDs: []string{"INV-2"}})
	require.NoError(t, err)
	base := candidateFor(t, before, "INV-2", "T-2")
	assert.InDelta(t, 0, base.Breakdown.Pattern, 1e-12)

	_, err = e.AcceptMatch(ctx, "INV-1", "T-1", "alice")
	require.NoError(t, err)

	after, err := e.ProposeMatches(ctx, ProposeRequest{InvoiceIDs: []string{"INV-2"}})
	require.NoError(t, err)
	boosted := candidateFor(t, after, "INV-2", "T-2")
	assert.InDelta(t, 0.2, boosted.Breakdown.Pattern, 1e-12)
	assert.Greater(t, boosted.TotalScore, base.TotalScore)
	assert.False(t, after.HasCandidate("INV-2", "T-1"), "linked transactions leave the pool")
}

func TestProposeRespectsRepositoryTimeout(t *testing.T) {
	repo := tu.NewMemoryRepository()
	repo.PutInvoices(tu.Invoice("INV-1").Build())
	repo.FindOpenInvoicesHook = func(ctx context.Context, _ service.InvoiceFilter) error {
		<-ctx.Done()
		return ctx.Err()
	}

	cfg := testConfig()
	cfg.Storage.Timeout = 5 * time.Millisecond
	e := newTestEngineWith(t, repo, similarity.Composite{}, cfg)

	_, err := e.ProposeMatches(context.Background(), ProposeRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRepositoryTimeout)
	assert.ErrorIs(t, err, common.ErrMaxRetries)
}

func candidateFor(t *testing.T, report *model.MatchReport, invoiceID, transactionID string) model.MatchCandidate {
	t.Helper()
	for _, c := range report.Candidates {
		if c.InvoiceID == invoiceID && c.TransactionID == transactionID {
			return c
		}
	}
	t.Fatalf("no candidate for %s/%s", invoiceID, transactionID)
	return model.MatchCandidate{}
}
