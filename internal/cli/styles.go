// Package cli renders reconciliation output for the terminal and wires
// operator interaction: prompts, progress and interrupt handling.
package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/invoice-match/internal/model"
)

const (
	accent  = lipgloss.Color("#5B8DEF")
	good    = lipgloss.Color("#4ECDC4")
	caution = lipgloss.Color("#FFE66D")
	bad     = lipgloss.Color("#FF6B6B")
	note    = lipgloss.Color("#95E1D3")
	faint   = lipgloss.Color("#666666")
	frame   = lipgloss.Color("#333333")
)

// Markers prefixed to decision and status lines.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	warnIcon    = "!"
	infoIcon    = "i"
)

var (
	SuccessStyle = lipgloss.NewStyle().Foreground(good)
	ErrorStyle   = lipgloss.NewStyle().Foreground(bad)
	SubtleStyle  = lipgloss.NewStyle().Foreground(faint)

	warnStyle   = lipgloss.NewStyle().Foreground(caution)
	infoStyle   = lipgloss.NewStyle().Foreground(note)
	accentStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(frame).
			Padding(1, 2)

	TableHeaderStyle = accentStyle
	TableCellStyle   = lipgloss.NewStyle().PaddingRight(2)
)

// TierStyle colors a confidence tier; unknown tiers render faint.
func TierStyle(tier model.ConfidenceTier) lipgloss.Style {
	switch tier {
	case model.TierHigh:
		return SuccessStyle
	case model.TierMedium:
		return warnStyle
	case model.TierLow:
		return ErrorStyle
	}
	return SubtleStyle
}

func marked(style lipgloss.Style, icon, message string) string {
	return style.Render(icon + " " + message)
}

func FormatSuccess(message string) string { return marked(SuccessStyle, SuccessIcon, message) }
func FormatError(message string) string   { return marked(ErrorStyle, ErrorIcon, message) }
func FormatWarning(message string) string { return marked(warnStyle, warnIcon, message) }
func FormatInfo(message string) string    { return marked(infoStyle, infoIcon, message) }

// FormatTitle renders a section heading followed by a blank line.
func FormatTitle(title string) string {
	return accentStyle.MarginBottom(1).Render(title)
}

// FormatPrompt renders a question followed by an input arrow.
func FormatPrompt(prompt string) string {
	return accentStyle.Render(prompt + " → ")
}

// RenderBox draws content under a bold title inside a rounded border.
func RenderBox(title, content string) string {
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, accentStyle.Render(title), content))
}
