package pattern

import (
	"context"
	"fmt"

	"github.com/Veraticus/invoice-match/internal/model"
	"github.com/Veraticus/invoice-match/internal/service"
)

// Learner moves pattern weights in response to match decisions.
type Learner struct {
	AcceptStep float64
	RejectStep float64
}

// NewLearner creates a learner with the given step sizes.
func NewLearner(acceptStep, rejectStep float64) Learner {
	return Learner{AcceptStep: acceptStep, RejectStep: rejectStep}
}

// Record applies one decision to the key's weight. Empty keys are ignored.
func (l Learner) Record(ctx context.Context, store service.PatternStore, key string, decision model.DecisionKind) (*model.LearnedPattern, error) {
	if key == "" {
		return nil, nil
	}

	var delta float64
	switch decision {
	case model.DecisionAccepted:
		delta = l.AcceptStep
	case model.DecisionRejected:
		delta = -l.RejectStep
	default:
		return nil, fmt.Errorf("unknown decision %q", decision)
	}

	p, err := store.AdjustPattern(ctx, key, delta)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust pattern %q: %w", key, err)
	}
	return p, nil
}

// Weight returns the clamped learned weight for key, or 0 when nothing has been learned.
func Weight(ctx context.Context, store service.PatternStore, key string) (float64, error) {
	if key == "" || store == nil {
		return 0, nil
	}
	p, err := store.GetPattern(ctx, key)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return 0, nil
	}
	return model.ClampWeight(p.Weight), nil
}
