package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/config"
	"github.com/Veraticus/invoice-match/internal/model"
	"github.com/Veraticus/invoice-match/internal/service"
	"github.com/Veraticus/invoice-match/internal/similarity"
	"github.com/Veraticus/invoice-match/internal/testutil"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Orchestrator.Retry = common.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
	cfg.Storage.Timeout = time.Second
	return cfg
}

func newTestEngine(t *testing.T, repo service.Repository, opts ...Option) *Engine {
	t.Helper()
	return newTestEngineWith(t, repo, similarity.Composite{}, testConfig(), opts...)
}

func newTestEngineWith(t *testing.T, repo service.Repository, sim service.SimilarityProvider, cfg config.Config, opts ...Option) *Engine {
	t.Helper()
	e, err := New(repo, sim, cfg, opts...)
	require.NoError(t, err)
	return e
}

func pairFor(inv model.Invoice, txn model.Transaction) (*model.Invoice, *model.Transaction) {
	return &inv, &txn
}

// acceptedByTransaction counts accepted decisions per transaction ID.
func acceptedByTransaction(repo *testutil.MemoryRepository) map[string]int {
	counts := make(map[string]int)
	for _, d := range repo.Decisions() {
		if d.Decision == model.DecisionAccepted {
			counts[d.TransactionID]++
		}
	}
	return counts
}
