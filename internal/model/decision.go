package model

import "time"

// DecisionKind is the human verdict on a proposed match.
type DecisionKind string

// Decision kinds.
const (
	DecisionAccepted DecisionKind = "accepted"
	DecisionRejected DecisionKind = "rejected"
)

// MatchDecision is an immutable audit record of an accept or reject action.
type MatchDecision struct {
	DecidedAt     time.Time    `json:"decided_at" yaml:"decided_at"`
	ID            string       `json:"id" yaml:"id"`
	InvoiceID     string       `json:"invoice_id" yaml:"invoice_id"`
	TransactionID string       `json:"transaction_id" yaml:"transaction_id"`
	Decision      DecisionKind `json:"decision" yaml:"decision"`
	Actor         string       `json:"actor" yaml:"actor"`
	Reason        string       `json:"reason,omitempty" yaml:"reason,omitempty"`
	PatternKey    string       `json:"pattern_key,omitempty" yaml:"pattern_key,omitempty"`
}

// RejectedPair is an entry of the exclusion set consulted during candidate generation.
// The fingerprints capture both records as they were when the pair was rejected.
type RejectedPair struct {
	RejectedAt             time.Time
	InvoiceID              string
	TransactionID          string
	InvoiceFingerprint     string
	TransactionFingerprint string
}

// Key returns the pair key of the rejected pairing.
func (p RejectedPair) Key() PairKey {
	return PairKey{InvoiceID: p.InvoiceID, TransactionID: p.TransactionID}
}

// Applies reports whether the rejection still covers the pair given the current records.
func (p RejectedPair) Applies(inv *Invoice, txn *Transaction) bool {
	return p.InvoiceID == inv.ID &&
		p.TransactionID == txn.ID &&
		p.InvoiceFingerprint == inv.Fingerprint() &&
		p.TransactionFingerprint == txn.Fingerprint()
}

// MaxPatternWeight bounds the absolute value of a learned pattern weight.
const MaxPatternWeight = 1.0

// LearnedPattern nudges future scores for a normalized vendor/description key.
type LearnedPattern struct {
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
	Key        string    `json:"key" yaml:"key"`
	Weight     float64   `json:"weight" yaml:"weight"`
	UsageCount int       `json:"usage_count" yaml:"usage_count"`
}

// ClampWeight bounds a pattern weight to [-MaxPatternWeight, MaxPatternWeight].
func ClampWeight(w float64) float64 {
	if w > MaxPatternWeight {
		return MaxPatternWeight
	}
	if w < -MaxPatternWeight {
		return -MaxPatternWeight
	}
	return w
}
