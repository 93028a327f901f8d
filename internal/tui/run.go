package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Veraticus/invoice-match/internal/model"
)

// Run opens the review screen for report and blocks until the operator quits
// or ctx is canceled.
func Run(ctx context.Context, report *model.MatchReport, cfg Config, opts ...tea.ProgramOption) (Summary, error) {
	if cfg.Decider == nil {
		return Summary{}, errors.New("a decider is required")
	}
	if cfg.Actor == "" {
		return Summary{}, errors.New("an actor is required")
	}

	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	program := tea.NewProgram(NewReviewModel(ctx, report, cfg), opts...)

	final, err := program.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return Summary{}, fmt.Errorf("review failed: %w", err)
	}
	if final == nil {
		return Summary{}, err
	}

	review, ok := final.(ReviewModel)
	if !ok {
		return Summary{}, fmt.Errorf("unexpected model %T", final)
	}
	return review.Summary(), nil
}
