package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/config"
	"github.com/Veraticus/invoice-match/internal/metrics"
	"github.com/Veraticus/invoice-match/internal/service"
	"github.com/Veraticus/invoice-match/internal/similarity"
	tu "github.com/Veraticus/invoice-match/internal/testutil"
)

func TestNewRejectsBadConfiguration(t *testing.T) {
	tests := []struct {
		repo    service.Repository
		sim     service.SimilarityProvider
		mutate  func(*config.Config)
		name    string
		wantKey string
	}{
		{name: "missing repository", sim: similarity.Composite{}, wantKey: "repository"},
		{name: "missing similarity", repo: tu.NewMemoryRepository(), wantKey: "matching.similarity"},
		{
			name: "weights off by a little",
			repo: tu.NewMemoryRepository(), sim: similarity.Composite{},
			mutate:  func(c *config.Config) { c.Matching.Weights.Pattern = 0.06 },
			wantKey: "matching.weights",
		},
		{
			name: "floor below low tier",
			repo: tu.NewMemoryRepository(), sim: similarity.Composite{},
			mutate:  func(c *config.Config) { c.Matching.ConfidenceFloor = 0.1 },
			wantKey: "matching.confidence_floor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}

			e, err := New(tt.repo, tt.sim, cfg)
			assert.Nil(t, e)
			require.ErrorIs(t, err, common.ErrConfiguration)

			var cfgErr *common.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantKey, cfgErr.Key)
		})
	}
}

func TestEngineRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	recorder := metrics.NewRecorder()
	repo := seededRepo()
	e := newTestEngine(t, repo, WithMetrics(recorder))

	_, err := e.ProposeMatches(ctx, ProposeRequest{})
	require.NoError(t, err)
	_, err = e.AcceptMatch(ctx, "INV-1", "T-1", "alice")
	require.NoError(t, err)
	_, err = e.AcceptMatch(ctx, "INV-2", "T-1", "bob")
	require.Error(t, err)

	expected := `
# HELP reconcile_ledger_decisions_total Ledger decisions by kind and result.
# TYPE reconcile_ledger_decisions_total counter
reconcile_ledger_decisions_total{decision="accepted",result="conflict"} 1
reconcile_ledger_decisions_total{decision="accepted",result="ok"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(recorder.Registry(), strings.NewReader(expected), "reconcile_ledger_decisions_total"))

	runs, err := testutil.GatherAndCount(recorder.Registry(), "reconcile_orchestrator_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, runs)

	chunks, err := testutil.GatherAndCount(recorder.Registry(), "reconcile_orchestrator_chunks_total")
	require.NoError(t, err)
	assert.Positive(t, chunks)
}
