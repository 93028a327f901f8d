package engine

import (
	"context"
	"time"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/config"
	"github.com/Veraticus/invoice-match/internal/metrics"
	"github.com/Veraticus/invoice-match/internal/model"
	"github.com/Veraticus/invoice-match/internal/service"
)

// Engine is the reconciliation library's entry point.
type Engine struct {
	orchestrator *Orchestrator
	ledger       *Ledger
}

type options struct {
	metrics  *metrics.Recorder
	progress ProgressFunc
	now      func() time.Time
	newID    func() string
}

// Option customizes an Engine.
type Option func(*options)

// WithMetrics records run and decision metrics.
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithProgress registers a per-chunk progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// WithClock overrides the decision timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides how decision IDs are minted.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// New validates cfg and assembles an engine. Configuration problems are
// returned as *common.ConfigurationError.
func New(repo service.Repository, similarity service.SimilarityProvider, cfg config.Config, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, &common.ConfigurationError{Key: "repository", Reason: "is required"}
	}
	if similarity == nil {
		return nil, &common.ConfigurationError{Key: "matching.similarity", Reason: "a similarity provider is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	generator := NewGenerator(cfg.Matching)
	scorer := NewScorer(cfg.Matching, similarity, repo)
	orchestrator := NewOrchestrator(repo, generator, scorer, OrchestratorOptions{
		Metrics:       o.metrics,
		Progress:      o.progress,
		Retry:         cfg.Orchestrator.Retry,
		Floor:         cfg.Matching.ConfidenceFloor,
		Timeout:       cfg.Storage.Timeout,
		ChunkDays:     cfg.Orchestrator.ChunkDays,
		MaxCandidates: cfg.Matching.MaxCandidatesPerInvoice,
	})
	ledger := NewLedger(repo, LedgerOptions{
		Metrics:         o.metrics,
		Now:             o.now,
		NewID:           o.newID,
		RevenueCategory: cfg.Ledger.RevenueCategory,
		ExpenseCategory: cfg.Ledger.ExpenseCategory,
		AcceptStep:      cfg.Patterns.AcceptStep,
		RejectStep:      cfg.Patterns.RejectStep,
		Timeout:         cfg.Storage.Timeout,
	})

	return &Engine{orchestrator: orchestrator, ledger: ledger}, nil
}

// ProposeMatches builds a MatchReport for the open invoices selected by req.
// It has no side effects.
func (e *Engine) ProposeMatches(ctx context.Context, req ProposeRequest) (*model.MatchReport, error) {
	return e.orchestrator.Propose(ctx, req)
}

// Resume completes a partial or cancelled report produced for the same request.
func (e *Engine) Resume(ctx context.Context, req ProposeRequest, prev *model.MatchReport) (*model.MatchReport, error) {
	return e.orchestrator.Resume(ctx, req, prev)
}

// AcceptMatch confirms a proposed pairing. It fails with a ConflictError when
// either side was claimed first and a NotFoundError for unknown IDs.
func (e *Engine) AcceptMatch(ctx context.Context, invoiceID, transactionID, actor string) (*model.MatchDecision, error) {
	return e.ledger.Accept(ctx, invoiceID, transactionID, actor)
}

// RejectMatch records that a pairing is wrong so it is never proposed again
// while both records stay unchanged.
func (e *Engine) RejectMatch(ctx context.Context, invoiceID, transactionID, actor, reason string) (*model.MatchDecision, error) {
	return e.ledger.Reject(ctx, invoiceID, transactionID, actor, reason)
}
