package sheets

import (
	"github.com/Veraticus/invoice-match/internal/model"
)

// Tab titles.
const (
	TabProposals = "Proposals"
	TabUnmatched = "Unmatched"
	TabChunks    = "Chunks"
	TabDecisions = "Decisions"
)

// Tab is one worksheet. The first row is the header.
type Tab struct {
	Title string
	Rows  [][]any
}

// Export is everything written in one pass.
type Export struct {
	Report    *model.MatchReport
	Decisions []model.MatchDecision
}

// Tabs lays out an export. Tabs are always present, even when empty, so
// formulas that reference them keep working between runs.
func Tabs(e Export) []Tab {
	report := e.Report
	if report == nil {
		report = &model.MatchReport{}
	}
	return []Tab{
		proposalsTab(report),
		unmatchedTab(report),
		chunksTab(report),
		decisionsTab(e.Decisions),
	}
}

func proposalsTab(report *model.MatchReport) Tab {
	rows := make([][]any, 0, len(report.Assignments)+1)
	rows = append(rows, []any{
		"Invoice", "Transaction", "Score", "Tier", "Band", "Days Apart", "Amount Delta",
		"Amount Score", "Date Score", "Vendor Score", "Pattern Score",
	})
	for _, a := range report.Assignments {
		c := a.Candidate
		rows = append(rows, []any{
			a.InvoiceID,
			a.TransactionID,
			a.Score,
			string(a.Tier),
			c.Band,
			c.DateDelta,
			c.AmountDelta.InexactFloat64(),
			c.Breakdown.Amount,
			c.Breakdown.Date,
			c.Breakdown.Vendor,
			c.Breakdown.Pattern,
		})
	}
	return Tab{Title: TabProposals, Rows: rows}
}

func unmatchedTab(report *model.MatchReport) Tab {
	best := make(map[string]model.MatchCandidate, len(report.Unmatched))
	for _, c := range report.Candidates {
		if prev, ok := best[c.InvoiceID]; !ok || model.CandidateLess(&c, &prev) {
			best[c.InvoiceID] = c
		}
	}

	rows := make([][]any, 0, len(report.Unmatched)+1)
	rows = append(rows, []any{"Invoice", "Best Transaction", "Best Score", "Candidates"})
	for _, id := range report.Unmatched {
		count := 0
		for _, c := range report.Candidates {
			if c.InvoiceID == id {
				count++
			}
		}
		if c, ok := best[id]; ok {
			rows = append(rows, []any{id, c.TransactionID, c.TotalScore, count})
		} else {
			rows = append(rows, []any{id, "", "", 0})
		}
	}
	return Tab{Title: TabUnmatched, Rows: rows}
}

func chunksTab(report *model.MatchReport) Tab {
	rows := make([][]any, 0, len(report.Chunks)+1)
	rows = append(rows, []any{"Chunk", "Start", "End", "Status", "Attempts", "Candidates", "Error"})
	for _, c := range report.Chunks {
		rows = append(rows, []any{
			c.Chunk.ID,
			c.Chunk.Start.Format("2006-01-02"),
			c.Chunk.End.Format("2006-01-02"),
			string(c.Status),
			c.Attempts,
			c.Candidates,
			c.Error,
		})
	}
	return Tab{Title: TabChunks, Rows: rows}
}

func decisionsTab(decisions []model.MatchDecision) Tab {
	rows := make([][]any, 0, len(decisions)+1)
	rows = append(rows, []any{"Decided At", "Invoice", "Transaction", "Decision", "Actor", "Reason", "Pattern"})
	for _, d := range decisions {
		rows = append(rows, []any{
			d.DecidedAt.UTC().Format("2006-01-02 15:04:05"),
			d.InvoiceID,
			d.TransactionID,
			string(d.Decision),
			d.Actor,
			d.Reason,
			d.PatternKey,
		})
	}
	return Tab{Title: TabDecisions, Rows: rows}
}
