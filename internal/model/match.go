package model

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ConfidenceTier is the presentation bucket for a total score.
type ConfidenceTier string

// Confidence tiers. TierNone marks scores under the floor; such candidates are never materialized.
const (
	TierHigh   ConfidenceTier = "high"
	TierMedium ConfidenceTier = "medium"
	TierLow    ConfidenceTier = "low"
	TierNone   ConfidenceTier = "none"
)

// Tier boundaries.
const (
	HighTierThreshold   = 0.8
	MediumTierThreshold = 0.6
	LowTierThreshold    = 0.4
)

// TierFor maps a total score onto its confidence tier.
func TierFor(score float64) ConfidenceTier {
	switch {
	case score >= HighTierThreshold:
		return TierHigh
	case score >= MediumTierThreshold:
		return TierMedium
	case score >= LowTierThreshold:
		return TierLow
	default:
		return TierNone
	}
}

// ToleranceBand is one amount tolerance cutoff. Tolerance is a fraction of the invoice total.
type ToleranceBand struct {
	Name      string  `mapstructure:"name" json:"name" yaml:"name"`
	Tolerance float64 `mapstructure:"tolerance" json:"tolerance" yaml:"tolerance"`
	Score     float64 `mapstructure:"score" json:"score" yaml:"score"`
}

// Contains reports whether an amount delta falls inside the band for the given invoice total.
func (b ToleranceBand) Contains(delta, total decimal.Decimal) bool {
	delta = delta.Abs()
	if b.Tolerance == 0 {
		return delta.Round(2).IsZero()
	}
	limit := total.Abs().Mul(decimal.NewFromFloat(b.Tolerance))
	return delta.LessThanOrEqual(limit)
}

// ScoreBreakdown holds the per-signal sub-scores of a candidate.
type ScoreBreakdown struct {
	Amount  float64 `json:"amount_score" yaml:"amount_score"`
	Date    float64 `json:"date_score" yaml:"date_score"`
	Vendor  float64 `json:"vendor_score" yaml:"vendor_score"`
	Pattern float64 `json:"pattern_score" yaml:"pattern_score"`
}

// MatchCandidate is a scored, undecided (invoice, transaction) pairing.
type MatchCandidate struct {
	AmountDelta   decimal.Decimal `json:"amount_delta" yaml:"amount_delta"`
	InvoiceID     string          `json:"invoice_id" yaml:"invoice_id"`
	TransactionID string          `json:"transaction_id" yaml:"transaction_id"`
	Band          string          `json:"band" yaml:"band"`
	PatternKey    string          `json:"pattern_key,omitempty" yaml:"pattern_key,omitempty"`
	Tier          ConfidenceTier  `json:"confidence_tier" yaml:"confidence_tier"`
	Breakdown     ScoreBreakdown  `json:"breakdown" yaml:"breakdown"`
	TotalScore    float64         `json:"total_score" yaml:"total_score"`
	DateDelta     int             `json:"date_delta_days" yaml:"date_delta_days"`
}

// PairKey identifies the (invoice, transaction) pair.
func (c *MatchCandidate) PairKey() PairKey {
	return PairKey{InvoiceID: c.InvoiceID, TransactionID: c.TransactionID}
}

// PairKey identifies an (invoice, transaction) pairing.
type PairKey struct {
	InvoiceID     string
	TransactionID string
}

// RoundScore fixes a score to six decimal places so equal signals compare equal.
func RoundScore(score float64) float64 {
	return math.Round(score*1e6) / 1e6
}

// CandidateLess orders candidates by descending score, then smaller date delta, then smaller
// absolute amount delta, then transaction ID and invoice ID.
func CandidateLess(a, b *MatchCandidate) bool {
	if a.TotalScore != b.TotalScore {
		return a.TotalScore > b.TotalScore
	}
	if a.DateDelta != b.DateDelta {
		return a.DateDelta < b.DateDelta
	}
	if cmp := a.AmountDelta.Abs().Cmp(b.AmountDelta.Abs()); cmp != 0 {
		return cmp < 0
	}
	if a.TransactionID != b.TransactionID {
		return a.TransactionID < b.TransactionID
	}
	return a.InvoiceID < b.InvoiceID
}

// SortCandidates sorts candidates in place using CandidateLess.
func SortCandidates(candidates []MatchCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return CandidateLess(&candidates[i], &candidates[j])
	})
}

// Assignment is the Selector's proposal for one invoice.
type Assignment struct {
	InvoiceID     string         `json:"invoice_id" yaml:"invoice_id"`
	TransactionID string         `json:"transaction_id" yaml:"transaction_id"`
	Tier          ConfidenceTier `json:"confidence_tier" yaml:"confidence_tier"`
	Candidate     MatchCandidate `json:"candidate" yaml:"candidate"`
	Score         float64        `json:"score" yaml:"score"`
}

// ChunkStatus records what happened to one chunk of a run.
type ChunkStatus string

// Chunk statuses.
const (
	ChunkCompleted ChunkStatus = "completed"
	ChunkFailed    ChunkStatus = "failed"
	ChunkSkipped   ChunkStatus = "skipped"
)

// Chunk is a time-bounded slice of the transaction pool. End is exclusive.
type Chunk struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
	ID    string    `json:"id" yaml:"id"`
}

// ChunkResult summarizes one chunk's processing.
type ChunkResult struct {
	Error      string      `json:"error,omitempty" yaml:"error,omitempty"`
	Status     ChunkStatus `json:"status" yaml:"status"`
	Chunk      Chunk       `json:"chunk" yaml:"chunk"`
	Attempts   int         `json:"attempts" yaml:"attempts"`
	Candidates int         `json:"candidates" yaml:"candidates"`
}

// MatchReport is the proposal produced by a reconciliation run. Nothing in it has been applied.
type MatchReport struct {
	Assignments []Assignment     `json:"assignments" yaml:"assignments"`
	Unmatched   []string         `json:"unmatched_invoices" yaml:"unmatched_invoices"`
	Candidates  []MatchCandidate `json:"candidates" yaml:"candidates"`
	Chunks      []ChunkResult    `json:"chunks" yaml:"chunks"`
	Partial     bool             `json:"partial" yaml:"partial"`
	Cancelled   bool             `json:"cancelled" yaml:"cancelled"`
}

// AssignmentFor returns the proposed assignment for an invoice, if any.
func (r *MatchReport) AssignmentFor(invoiceID string) (Assignment, bool) {
	for _, a := range r.Assignments {
		if a.InvoiceID == invoiceID {
			return a, true
		}
	}
	return Assignment{}, false
}

// HasCandidate reports whether the pair appears anywhere in the candidate list.
func (r *MatchReport) HasCandidate(invoiceID, transactionID string) bool {
	for _, c := range r.Candidates {
		if c.InvoiceID == invoiceID && c.TransactionID == transactionID {
			return true
		}
	}
	return false
}

// FailedChunks returns the chunks that did not complete.
func (r *MatchReport) FailedChunks() []ChunkResult {
	var failed []ChunkResult
	for _, c := range r.Chunks {
		if c.Status != ChunkCompleted {
			failed = append(failed, c)
		}
	}
	return failed
}
