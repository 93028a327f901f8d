package cli

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/invoice-match/internal/model"
)

func sampleReport() *model.MatchReport {
	candidate := model.MatchCandidate{
		InvoiceID:     "INV-1",
		TransactionID: "T-1",
		AmountDelta:   decimal.RequireFromString("-0.50"),
		DateDelta:     1,
		Band:          "within_2pct",
		Tier:          model.TierHigh,
		TotalScore:    0.912345,
		Breakdown:     model.ScoreBreakdown{Amount: 0.85, Date: 0.97, Vendor: 1, Pattern: 0},
	}
	return &model.MatchReport{
		Assignments: []model.Assignment{{
			InvoiceID:     "INV-1",
			TransactionID: "T-1",
			Tier:          model.TierHigh,
			Score:         candidate.TotalScore,
			Candidate:     candidate,
		}},
		Unmatched:  []string{"INV-2"},
		Candidates: []model.MatchCandidate{candidate},
		Chunks: []model.ChunkResult{
			{
				Chunk:      model.Chunk{ID: "2025-04", Start: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)},
				Status:     model.ChunkCompleted,
				Attempts:   1,
				Candidates: 1,
			},
			{
				Chunk:    model.Chunk{ID: "2025-05", Start: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
				Status:   model.ChunkFailed,
				Attempts: 3,
				Error:    "repository timeout",
			},
		},
		Partial: true,
	}
}

func TestRenderReportTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, RenderReport(&out, sampleReport(), FormatTable))

	text := out.String()
	for _, want := range []string{
		"Proposed matches",
		"INVOICE", "TRANSACTION", "SCORE",
		"INV-1", "T-1", "0.912", "high", "within_2pct", "-0.50",
		"1 unmatched: INV-2",
		"chunk 2025-05 failed after 3 attempts: repository timeout",
		"the report is partial",
		"1 assignments, 1 candidates, 2 chunks",
	} {
		assert.Contains(t, text, want)
	}
}

func TestRenderReportEmpty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, RenderReport(&out, &model.MatchReport{}, FormatTable))
	assert.Contains(t, out.String(), "No matches proposed.")
	assert.NotContains(t, out.String(), "partial")
}

func TestRenderReportYAML(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, RenderReport(&out, sampleReport(), FormatYAML))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, true, decoded["partial"])
	assert.Equal(t, []any{"INV-2"}, decoded["unmatched_invoices"])

	assignments, ok := decoded["assignments"].([]any)
	require.True(t, ok)
	require.Len(t, assignments, 1)
	first, ok := assignments[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "high", first["confidence_tier"])
}

func TestRenderReportJSONIsStable(t *testing.T) {
	var first, second bytes.Buffer
	require.NoError(t, RenderReport(&first, sampleReport(), FormatJSON))
	require.NoError(t, RenderReport(&second, sampleReport(), FormatJSON))
	assert.Equal(t, first.String(), second.String())
	assert.Contains(t, first.String(), `"amount_delta": "-0.5"`)
}

func TestRenderRejectsUnknownFormat(t *testing.T) {
	assert.Error(t, ValidateFormat("xml"))
	assert.NoError(t, ValidateFormat(FormatYAML))
	assert.Error(t, RenderReport(&bytes.Buffer{}, sampleReport(), "xml"))
}

func TestSaveAndLoadReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	report := sampleReport()

	require.NoError(t, SaveReport(path, report))
	loaded, err := LoadReport(path)
	require.NoError(t, err)

	assert.Equal(t, report.Unmatched, loaded.Unmatched)
	assert.Equal(t, report.Chunks, loaded.Chunks)
	assert.True(t, loaded.Partial)
	require.Len(t, loaded.Assignments, 1)
	assert.True(t, report.Assignments[0].Candidate.AmountDelta.Equal(loaded.Assignments[0].Candidate.AmountDelta))

	_, err = LoadReport(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestRenderDecisionsAndPatterns(t *testing.T) {
	decisions := []model.MatchDecision{
		{
			ID: "d-1", InvoiceID: "INV-1", TransactionID: "T-1",
			Decision: model.DecisionAccepted, Actor: "alice",
			DecidedAt: time.Date(2025, 4, 10, 9, 30, 0, 0, time.UTC),
		},
		{
			ID: "d-2", InvoiceID: "INV-2", TransactionID: "T-2",
			Decision: model.DecisionRejected, Actor: "bob", Reason: "different subscription",
			DecidedAt: time.Date(2025, 4, 11, 9, 30, 0, 0, time.UTC),
		},
	}

	var out bytes.Buffer
	require.NoError(t, RenderDecisions(&out, decisions, FormatTable))
	assert.Contains(t, out.String(), "2025-04-10 09:30:00")
	assert.Contains(t, out.String(), "different subscription")
	assert.Contains(t, out.String(), "rejected")

	out.Reset()
	require.NoError(t, RenderPatterns(&out, []model.LearnedPattern{{Key: "acme hosting|acme hosting", Weight: 0.4, UsageCount: 2}}, FormatTable))
	assert.Contains(t, out.String(), "acme hosting|acme hosting")
	assert.Contains(t, out.String(), "0.40")

	out.Reset()
	require.NoError(t, RenderPatterns(&out, []model.LearnedPattern{{Key: "k", Weight: -0.2}}, FormatJSON))
	assert.Contains(t, out.String(), `"weight": -0.2`)
}
