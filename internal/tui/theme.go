package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/invoice-match/internal/model"
)

// Theme holds the styles of the review screen.
type Theme struct {
	Title    lipgloss.Style
	Muted    lipgloss.Style
	Cursor   lipgloss.Style
	Row      lipgloss.Style
	Detail   lipgloss.Style
	Accepted lipgloss.Style
	Rejected lipgloss.Style
	Failed   lipgloss.Style
	Pending  lipgloss.Style
	tiers    map[model.ConfidenceTier]lipgloss.Style
}

type palette struct {
	text, muted, border, accent, good, warn, bad string
}

var darkPalette = palette{
	text:   "#e5e7eb",
	muted:  "#6b7280",
	border: "#374151",
	accent: "#2563eb",
	good:   "#22c55e",
	warn:   "#eab308",
	bad:    "#f43f5e",
}

func newTheme(p palette) Theme {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }

	return Theme{
		Title:    fg(p.text).Bold(true).Underline(true).MarginBottom(1),
		Muted:    fg(p.muted),
		Cursor:   fg(p.text).Background(lipgloss.Color(p.accent)).Bold(true),
		Row:      fg(p.text),
		Detail:   lipgloss.NewStyle().Border(lipgloss.NormalBorder(), true, false).BorderForeground(lipgloss.Color(p.border)),
		Accepted: fg(p.good).Bold(true),
		Rejected: fg(p.warn).Bold(true),
		Failed:   fg(p.bad).Bold(true),
		Pending:  fg(p.muted).Italic(true),
		tiers: map[model.ConfidenceTier]lipgloss.Style{
			model.TierHigh:   fg(p.good),
			model.TierMedium: fg(p.warn),
			model.TierLow:    fg(p.bad),
		},
	}
}

// Default is the theme used by the CLI.
var Default = newTheme(darkPalette)

// Tier styles a confidence tier label.
func (t Theme) Tier(tier model.ConfidenceTier) string {
	if style, ok := t.tiers[tier]; ok {
		return style.Render(string(tier))
	}
	return string(tier)
}
