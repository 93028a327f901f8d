package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/invoice-match/internal/model"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ValidateFormat rejects unknown output formats.
func ValidateFormat(format string) error {
	switch format {
	case FormatTable, FormatJSON, FormatYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

// RenderReport writes a match report in the requested format.
func RenderReport(w io.Writer, report *model.MatchReport, format string) error {
	if format != FormatTable {
		return renderStructured(w, report, format)
	}

	var b strings.Builder
	b.WriteString(FormatTitle("Proposed matches") + "\n")

	if len(report.Assignments) == 0 {
		b.WriteString(SubtleStyle.Render("No matches proposed.") + "\n")
	} else {
		rows := make([][]string, 0, len(report.Assignments))
		tiers := make([]model.ConfidenceTier, 0, len(report.Assignments))
		for _, a := range report.Assignments {
			rows = append(rows, []string{
				a.InvoiceID,
				a.TransactionID,
				strconv.FormatFloat(a.Score, 'f', 3, 64),
				string(a.Tier),
				a.Candidate.Band,
				strconv.Itoa(a.Candidate.DateDelta),
				a.Candidate.AmountDelta.StringFixed(2),
			})
			tiers = append(tiers, a.Tier)
		}
		b.WriteString(renderTable(
			[]string{"INVOICE", "TRANSACTION", "SCORE", "TIER", "BAND", "DAYS", "DELTA"},
			rows,
			func(row, col int, s lipgloss.Style) lipgloss.Style {
				if col == 3 {
					return s.Inherit(TierStyle(tiers[row]))
				}
				return s
			},
		))
	}

	if len(report.Unmatched) > 0 {
		b.WriteString("\n" + FormatWarning(fmt.Sprintf("%d unmatched: %s",
			len(report.Unmatched), strings.Join(report.Unmatched, ", "))) + "\n")
	}

	if failed := report.FailedChunks(); len(failed) > 0 {
		for _, c := range failed {
			b.WriteString(FormatError(fmt.Sprintf("chunk %s %s after %d attempts: %s",
				c.Chunk.ID, c.Status, c.Attempts, c.Error)) + "\n")
		}
	}

	switch {
	case report.Cancelled:
		b.WriteString(FormatWarning("Run was cancelled; the report is partial.") + "\n")
	case report.Partial:
		b.WriteString(FormatWarning("Some chunks failed; the report is partial.") + "\n")
	}

	b.WriteString(SubtleStyle.Render(fmt.Sprintf("%d assignments, %d candidates, %d chunks",
		len(report.Assignments), len(report.Candidates), len(report.Chunks))) + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderDecisions writes the decision audit trail.
func RenderDecisions(w io.Writer, decisions []model.MatchDecision, format string) error {
	if format != FormatTable {
		return renderStructured(w, decisions, format)
	}

	rows := make([][]string, 0, len(decisions))
	for _, d := range decisions {
		rows = append(rows, []string{
			d.DecidedAt.UTC().Format("2006-01-02 15:04:05"),
			string(d.Decision),
			d.InvoiceID,
			d.TransactionID,
			d.Actor,
			d.Reason,
		})
	}
	out := FormatTitle("Decisions") + "\n" + renderTable(
		[]string{"DECIDED", "DECISION", "INVOICE", "TRANSACTION", "ACTOR", "REASON"},
		rows,
		func(row, col int, s lipgloss.Style) lipgloss.Style {
			if col != 1 {
				return s
			}
			if decisions[row].Decision == model.DecisionAccepted {
				return s.Inherit(SuccessStyle)
			}
			return s.Inherit(ErrorStyle)
		},
	)
	_, err := io.WriteString(w, out)
	return err
}

// RenderPatterns writes learned vendor patterns.
func RenderPatterns(w io.Writer, patterns []model.LearnedPattern, format string) error {
	if format != FormatTable {
		return renderStructured(w, patterns, format)
	}

	rows := make([][]string, 0, len(patterns))
	for _, p := range patterns {
		rows = append(rows, []string{
			p.Key,
			strconv.FormatFloat(p.Weight, 'f', 2, 64),
			strconv.Itoa(p.UsageCount),
		})
	}
	out := FormatTitle("Learned patterns") + "\n" + renderTable(
		[]string{"KEY", "WEIGHT", "USES"}, rows, nil)
	_, err := io.WriteString(w, out)
	return err
}

// SaveReport writes a report as JSON so a later run can resume it.
func SaveReport(path string, report *model.MatchReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// LoadReport reads a report written by SaveReport.
func LoadReport(path string) (*model.MatchReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var report model.MatchReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return &report, nil
}

func renderStructured(w io.Writer, v any, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return ValidateFormat(format)
	}
}

// renderTable lays out rows in padded columns. style may adjust a body cell.
func renderTable(headers []string, rows [][]string, style func(row, col int, s lipgloss.Style) lipgloss.Style) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = TableCellStyle.Width(widths[i] + 2).Inherit(TableHeaderStyle).Render(h)
	}
	b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " ") + "\n")

	for r, row := range rows {
		for i, cell := range row {
			s := TableCellStyle.Width(widths[i] + 2)
			if style != nil {
				s = style(r, i, s)
			}
			cells[i] = s.Render(cell)
		}
		b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " ") + "\n")
	}
	return b.String()
}
