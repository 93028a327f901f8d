package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/invoice-match/internal/config"
	"github.com/Veraticus/invoice-match/internal/model"
)

// Pair is a plausible (invoice, transaction) pairing awaiting a score.
type Pair struct {
	Invoice     *model.Invoice
	Transaction *model.Transaction
	AmountDelta decimal.Decimal
	Band        model.ToleranceBand
	BandIndex   int
	DateDelta   int
}

// ExclusionSet holds rejected pairs keyed by invoice and transaction.
type ExclusionSet map[model.PairKey]model.RejectedPair

// NewExclusionSet indexes rejected pairs.
func NewExclusionSet(pairs []model.RejectedPair) ExclusionSet {
	set := make(ExclusionSet, len(pairs))
	for _, p := range pairs {
		set[p.Key()] = p
	}
	return set
}

// Excludes reports whether the pair was rejected and neither record has changed since.
func (s ExclusionSet) Excludes(inv *model.Invoice, txn *model.Transaction) bool {
	p, ok := s[model.PairKey{InvoiceID: inv.ID, TransactionID: txn.ID}]
	return ok && p.Applies(inv, txn)
}

// Generator selects the transactions that could plausibly pay an invoice.
// It is a pure function of its inputs.
type Generator struct {
	bands      []model.ToleranceBand
	windowDays int
}

// NewGenerator builds a generator from validated matching config.
func NewGenerator(m config.Matching) *Generator {
	bands := make([]model.ToleranceBand, len(m.Bands))
	copy(bands, m.Bands)
	return &Generator{
		bands:      bands,
		windowDays: m.DateWindowDays,
	}
}

// WindowDays is the half-width of the date window around an invoice's issue date.
func (g *Generator) WindowDays() int {
	return g.windowDays
}

// Generate returns the pool transactions that fall inside the date window and
// the widest tolerance band, tagged with the tightest band they satisfy.
// Linked transactions, other entities, other currencies, money flowing the
// wrong way for the invoice's direction, and rejected pairs are skipped. The
// result is not truncated; the per-invoice cap applies after scoring. An empty
// result is not an error.
func (g *Generator) Generate(inv *model.Invoice, pool []model.Transaction, excluded ExclusionSet) []Pair {
	var pairs []Pair
	for i := range pool {
		txn := &pool[i]
		if txn.IsLinked() || txn.Entity != inv.Entity {
			continue
		}
		if !strings.EqualFold(txn.Currency, inv.Currency) {
			continue
		}
		if !inv.SettledBy(txn.Amount) {
			continue
		}

		days := dayDelta(inv.IssueDate, txn.Date)
		if days > g.windowDays {
			continue
		}

		delta := txn.Magnitude().Sub(inv.Amount)
		bandIndex := g.bandFor(delta, inv.Amount)
		if bandIndex < 0 {
			continue
		}

		if excluded.Excludes(inv, txn) {
			continue
		}

		pairs = append(pairs, Pair{
			Invoice:     inv,
			Transaction: txn,
			AmountDelta: delta,
			Band:        g.bands[bandIndex],
			BandIndex:   bandIndex,
			DateDelta:   days,
		})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.BandIndex != b.BandIndex {
			return a.BandIndex < b.BandIndex
		}
		if a.DateDelta != b.DateDelta {
			return a.DateDelta < b.DateDelta
		}
		return a.Transaction.ID < b.Transaction.ID
	})
	return pairs
}

// bandFor returns the index of the tightest band containing delta, or -1.
func (g *Generator) bandFor(delta, total decimal.Decimal) int {
	for i, band := range g.bands {
		if band.Contains(delta, total) {
			return i
		}
	}
	return -1
}

// dayDelta is the absolute number of calendar days between two dates.
func dayDelta(a, b time.Time) int {
	d := int(dateOnly(b).Sub(dateOnly(a)).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// windowOf returns the inclusive date range an invoice can match within, as a
// half-open [start, end) interval.
func windowOf(inv *model.Invoice, windowDays int) (time.Time, time.Time) {
	issued := dateOnly(inv.IssueDate)
	return issued.AddDate(0, 0, -windowDays), issued.AddDate(0, 0, windowDays+1)
}
