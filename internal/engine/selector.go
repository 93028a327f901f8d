package engine

import (
	"sort"

	"github.com/Veraticus/invoice-match/internal/model"
)

// Selector resolves competing claims across a batch. Each invoice and each
// transaction ends up in at most one assignment.
type Selector struct {
	floor float64
}

// NewSelector creates a selector that ignores candidates below floor.
func NewSelector(floor float64) Selector {
	return Selector{floor: floor}
}

// Select walks candidates from best to worst and takes a pair whenever neither
// side has been claimed yet. Assignments come back ordered by invoice ID.
func (s Selector) Select(candidates []model.MatchCandidate) []model.Assignment {
	sorted := make([]model.MatchCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.TotalScore >= s.floor {
			sorted = append(sorted, c)
		}
	}
	model.SortCandidates(sorted)

	claimedInvoices := make(map[string]bool)
	claimedTransactions := make(map[string]bool)
	assignments := make([]model.Assignment, 0)

	for _, c := range sorted {
		if claimedInvoices[c.InvoiceID] || claimedTransactions[c.TransactionID] {
			continue
		}
		claimedInvoices[c.InvoiceID] = true
		claimedTransactions[c.TransactionID] = true

		assignments = append(assignments, model.Assignment{
			InvoiceID:     c.InvoiceID,
			TransactionID: c.TransactionID,
			Score:         c.TotalScore,
			Tier:          c.Tier,
			Candidate:     c,
		})
	}

	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].InvoiceID < assignments[j].InvoiceID
	})
	return assignments
}

// mergeCandidates drops duplicate pairs, keeping the better-ranked copy, caps
// each invoice at limit candidates, and returns the rest in ranking order.
func mergeCandidates(limit int, sets ...[]model.MatchCandidate) []model.MatchCandidate {
	best := make(map[model.PairKey]model.MatchCandidate)
	for _, set := range sets {
		for _, c := range set {
			key := c.PairKey()
			if prev, ok := best[key]; ok && !model.CandidateLess(&c, &prev) {
				continue
			}
			best[key] = c
		}
	}

	merged := make([]model.MatchCandidate, 0, len(best))
	for _, c := range best {
		merged = append(merged, c)
	}
	model.SortCandidates(merged)

	if limit <= 0 {
		return merged
	}
	perInvoice := make(map[string]int)
	capped := merged[:0]
	for _, c := range merged {
		if perInvoice[c.InvoiceID] >= limit {
			continue
		}
		perInvoice[c.InvoiceID]++
		capped = append(capped, c)
	}
	return capped
}
