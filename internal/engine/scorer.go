package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Veraticus/invoice-match/internal/config"
	"github.com/Veraticus/invoice-match/internal/model"
	"github.com/Veraticus/invoice-match/internal/pattern"
	"github.com/Veraticus/invoice-match/internal/service"
)

// exponentialRate controls how fast exponential date decay falls off. The curve
// is rescaled so it still reaches zero at the window edge.
const exponentialRate = 3.0

// Scorer turns a Pair into a scored MatchCandidate.
type Scorer struct {
	similarity service.SimilarityProvider
	patterns   service.PatternStore
	decay      string
	weights    config.Weights
	windowDays int
}

// NewScorer builds a scorer. patterns may be nil, in which case pattern_score is always 0.
func NewScorer(m config.Matching, similarity service.SimilarityProvider, patterns service.PatternStore) *Scorer {
	return &Scorer{
		similarity: similarity,
		patterns:   patterns,
		decay:      m.DateDecay,
		weights:    m.Weights,
		windowDays: m.DateWindowDays,
	}
}

// Score computes the weighted total and the per-signal breakdown for p.
func (s *Scorer) Score(ctx context.Context, p Pair) (model.MatchCandidate, error) {
	inv, txn := p.Invoice, p.Transaction

	text := txn.Description
	if strings.TrimSpace(text) == "" {
		text = txn.Entity
	}
	vendor, err := s.similarity.Similarity(ctx, inv.Vendor, text)
	if err != nil {
		return model.MatchCandidate{}, fmt.Errorf("similarity for invoice %s and transaction %s: %w", inv.ID, txn.ID, err)
	}

	key := pattern.Key(inv.Vendor, txn.Description)
	weight, err := pattern.Weight(ctx, s.patterns, key)
	if err != nil {
		return model.MatchCandidate{}, fmt.Errorf("pattern lookup %q: %w", key, err)
	}

	breakdown := model.ScoreBreakdown{
		Amount:  model.RoundScore(clamp01(p.Band.Score)),
		Date:    model.RoundScore(s.dateScore(p.DateDelta)),
		Vendor:  model.RoundScore(clamp01(vendor)),
		Pattern: model.RoundScore(model.ClampWeight(weight)),
	}

	total := s.weights.Amount*breakdown.Amount +
		s.weights.Date*breakdown.Date +
		s.weights.Vendor*breakdown.Vendor +
		s.weights.Pattern*breakdown.Pattern
	total = model.RoundScore(clamp01(total))

	return model.MatchCandidate{
		InvoiceID:     inv.ID,
		TransactionID: txn.ID,
		Band:          p.Band.Name,
		AmountDelta:   p.AmountDelta,
		DateDelta:     p.DateDelta,
		PatternKey:    key,
		Breakdown:     breakdown,
		TotalScore:    total,
		Tier:          model.TierFor(total),
	}, nil
}

// dateScore decays from 1 at zero days to 0 at the window edge.
func (s *Scorer) dateScore(days int) float64 {
	if days <= 0 {
		return 1
	}
	if days >= s.windowDays {
		return 0
	}
	x := float64(days) / float64(s.windowDays)
	if s.decay == config.DecayExponential {
		floor := math.Exp(-exponentialRate)
		return clamp01((math.Exp(-exponentialRate*x) - floor) / (1 - floor))
	}
	return 1 - x
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
