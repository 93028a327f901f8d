// Package tui implements the interactive review screen where an operator
// accepts or rejects proposed matches.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/invoice-match/internal/model"
)

// Decider applies review decisions. *engine.Engine satisfies it.
type Decider interface {
	AcceptMatch(ctx context.Context, invoiceID, transactionID, actor string) (*model.MatchDecision, error)
	RejectMatch(ctx context.Context, invoiceID, transactionID, actor, reason string) (*model.MatchDecision, error)
}

// ItemStatus is where one proposed match stands in the review.
type ItemStatus int

// Item statuses.
const (
	StatusPending ItemStatus = iota
	StatusWorking
	StatusAccepted
	StatusRejected
	StatusSkipped
	StatusFailed
)

func (s ItemStatus) String() string {
	switch s {
	case StatusWorking:
		return "working"
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Summary counts what happened during a review.
type Summary struct {
	Accepted int
	Rejected int
	Skipped  int
	Failed   int
	Pending  int
}

type reviewItem struct {
	assignment model.Assignment
	err        string
	status     ItemStatus
}

// decisionMsg reports the outcome of an accept or reject.
type decisionMsg struct {
	err      error
	decision *model.MatchDecision
	index    int
}

// Config configures a review session.
type Config struct {
	Decider Decider
	Actor   string
	Theme   Theme
	// Timeout bounds each decision call.
	Timeout time.Duration
}

// ReviewModel is the bubbletea model for reviewing a match report.
type ReviewModel struct {
	decider   Decider
	ctx       context.Context
	theme     Theme
	keymap    KeyMap
	help      help.Model
	reason    textinput.Model
	actor     string
	items     []reviewItem
	unmatched []string
	timeout   time.Duration
	cursor    int
	width     int
	rejecting bool
	quitting  bool
}

// NewReviewModel builds a review over the report's proposed assignments.
func NewReviewModel(ctx context.Context, report *model.MatchReport, cfg Config) ReviewModel {
	items := make([]reviewItem, 0, len(report.Assignments))
	for _, a := range report.Assignments {
		items = append(items, reviewItem{assignment: a})
	}

	reason := textinput.New()
	reason.Placeholder = "why is this the wrong transaction?"
	reason.CharLimit = 200
	reason.Prompt = "Reason: "

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return ReviewModel{
		decider:   cfg.Decider,
		ctx:       ctx,
		theme:     cfg.Theme,
		keymap:    DefaultKeyMap(),
		help:      help.New(),
		reason:    reason,
		actor:     cfg.Actor,
		items:     items,
		unmatched: report.Unmatched,
		timeout:   timeout,
		width:     100,
	}
}

// Init initializes the model.
func (m ReviewModel) Init() tea.Cmd {
	if len(m.items) == 0 {
		return tea.Quit
	}
	return nil
}

// Update handles messages and updates the model.
func (m ReviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case decisionMsg:
		item := &m.items[msg.index]
		switch {
		case msg.err != nil:
			item.status = StatusFailed
			item.err = msg.err.Error()
		case msg.decision.Decision == model.DecisionAccepted:
			item.status = StatusAccepted
		default:
			item.status = StatusRejected
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keymap.ForceQuit) {
			m.quitting = true
			return m, tea.Quit
		}
		if m.rejecting {
			return m.updateReason(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m ReviewModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keymap.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keymap.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keymap.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keymap.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keymap.Accept):
		if !m.actionable() {
			return m, nil
		}
		m.items[m.cursor].status = StatusWorking
		cmd := m.accept(m.cursor)
		m.advance()
		return m, cmd
	case key.Matches(msg, m.keymap.Reject):
		if !m.actionable() {
			return m, nil
		}
		m.rejecting = true
		m.reason.SetValue("")
		return m, m.reason.Focus()
	case key.Matches(msg, m.keymap.Skip):
		if m.actionable() {
			m.items[m.cursor].status = StatusSkipped
			m.advance()
		}
	}
	return m, nil
}

func (m ReviewModel) updateReason(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keymap.Cancel):
		m.rejecting = false
		m.reason.Blur()
		return m, nil
	case key.Matches(msg, m.keymap.Submit):
		m.rejecting = false
		m.reason.Blur()
		m.items[m.cursor].status = StatusWorking
		cmd := m.reject(m.cursor, strings.TrimSpace(m.reason.Value()))
		m.advance()
		return m, cmd
	}

	var cmd tea.Cmd
	m.reason, cmd = m.reason.Update(msg)
	return m, cmd
}

// actionable reports whether the item under the cursor still awaits a decision.
// Failed items may be retried.
func (m ReviewModel) actionable() bool {
	if len(m.items) == 0 {
		return false
	}
	switch m.items[m.cursor].status {
	case StatusPending, StatusSkipped, StatusFailed:
		return true
	default:
		return false
	}
}

// advance moves the cursor to the next item still pending, if there is one.
func (m *ReviewModel) advance() {
	for i := m.cursor + 1; i < len(m.items); i++ {
		if m.items[i].status == StatusPending {
			m.cursor = i
			return
		}
	}
}

func (m ReviewModel) accept(index int) tea.Cmd {
	a := m.items[index].assignment
	decider, parent, timeout, actor := m.decider, m.ctx, m.timeout, m.actor
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		decision, err := decider.AcceptMatch(ctx, a.InvoiceID, a.TransactionID, actor)
		return decisionMsg{index: index, decision: decision, err: err}
	}
}

func (m ReviewModel) reject(index int, reason string) tea.Cmd {
	a := m.items[index].assignment
	decider, parent, timeout, actor := m.decider, m.ctx, m.timeout, m.actor
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		decision, err := decider.RejectMatch(ctx, a.InvoiceID, a.TransactionID, actor, reason)
		return decisionMsg{index: index, decision: decision, err: err}
	}
}

// Summary counts the review outcomes so far.
func (m ReviewModel) Summary() Summary {
	var s Summary
	for _, item := range m.items {
		switch item.status {
		case StatusAccepted:
			s.Accepted++
		case StatusRejected:
			s.Rejected++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}

// View renders the review screen.
func (m ReviewModel) View() string {
	if m.quitting {
		return ""
	}
	if len(m.items) == 0 {
		return m.theme.Muted.Render("Nothing to review.") + "\n"
	}

	var b strings.Builder
	b.WriteString(m.theme.Title.Render(fmt.Sprintf("Review matches (%d proposed)", len(m.items))) + "\n")

	for i, item := range m.items {
		a := item.assignment
		line := fmt.Sprintf("%-14s %-14s %.3f %-6s %s",
			a.InvoiceID, a.TransactionID, a.Score, m.theme.Tier(a.Tier), m.statusLabel(item))
		if i == m.cursor {
			b.WriteString(m.theme.Cursor.Render("> "+line) + "\n")
		} else {
			b.WriteString(m.theme.Row.Render("  "+line) + "\n")
		}
	}

	b.WriteString("\n" + m.detail(m.items[m.cursor]) + "\n")

	if len(m.unmatched) > 0 {
		b.WriteString(m.theme.Muted.Render(fmt.Sprintf("%d invoices without a candidate: %s",
			len(m.unmatched), strings.Join(m.unmatched, ", "))) + "\n")
	}

	if m.rejecting {
		b.WriteString("\n" + m.reason.View() + "\n")
	}

	s := m.Summary()
	b.WriteString("\n" + m.theme.Muted.Render(fmt.Sprintf("accepted %d · rejected %d · skipped %d · failed %d · pending %d",
		s.Accepted, s.Rejected, s.Skipped, s.Failed, s.Pending)) + "\n")
	b.WriteString(m.help.View(m.keymap))
	return b.String()
}

func (m ReviewModel) statusLabel(item reviewItem) string {
	switch item.status {
	case StatusAccepted:
		return m.theme.Accepted.Render(item.status.String())
	case StatusRejected:
		return m.theme.Rejected.Render(item.status.String())
	case StatusFailed:
		return m.theme.Failed.Render(item.status.String())
	default:
		return m.theme.Pending.Render(item.status.String())
	}
}

func (m ReviewModel) detail(item reviewItem) string {
	c := item.assignment.Candidate
	lines := []string{
		fmt.Sprintf("Invoice %s ↔ transaction %s", item.assignment.InvoiceID, item.assignment.TransactionID),
		fmt.Sprintf("amount  %.2f  (%s, delta %s)", c.Breakdown.Amount, c.Band, c.AmountDelta.StringFixed(2)),
		fmt.Sprintf("date    %.2f  (%d days apart)", c.Breakdown.Date, c.DateDelta),
		fmt.Sprintf("vendor  %.2f", c.Breakdown.Vendor),
		fmt.Sprintf("pattern %.2f", c.Breakdown.Pattern),
	}
	if item.err != "" {
		lines = append(lines, m.theme.Failed.Render(item.err))
	}
	width := m.width - 4
	if width < 40 {
		width = 40
	}
	return m.theme.Detail.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
