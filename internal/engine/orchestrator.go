package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/metrics"
	"github.com/Veraticus/invoice-match/internal/model"
	"github.com/Veraticus/invoice-match/internal/service"
)

// ProposeRequest narrows a run. Zero values mean every open invoice.
type ProposeRequest struct {
	Since      *time.Time
	InvoiceIDs []string
}

// Progress is reported after each chunk settles.
type Progress struct {
	Result    model.ChunkResult
	Completed int
	Total     int
}

// ProgressFunc receives chunk progress. It is called synchronously.
type ProgressFunc func(Progress)

// Orchestrator drives a reconciliation run chunk by chunk.
type Orchestrator struct {
	repo          service.Repository
	generator     *Generator
	scorer        *Scorer
	metrics       *metrics.Recorder
	progress      ProgressFunc
	selector      Selector
	retry         common.RetryOptions
	floor         float64
	timeout       time.Duration
	chunkDays     int
	maxCandidates int
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	Metrics       *metrics.Recorder
	Progress      ProgressFunc
	Retry         common.RetryOptions
	Floor         float64
	Timeout       time.Duration
	ChunkDays     int
	MaxCandidates int
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(repo service.Repository, generator *Generator, scorer *Scorer, opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		repo:          repo,
		generator:     generator,
		scorer:        scorer,
		metrics:       opts.Metrics,
		progress:      opts.Progress,
		selector:      NewSelector(opts.Floor),
		retry:         opts.Retry,
		floor:         opts.Floor,
		timeout:       opts.Timeout,
		chunkDays:     opts.ChunkDays,
		maxCandidates: opts.MaxCandidates,
	}
}

// Propose runs a full reconciliation pass and returns proposals. It writes nothing.
func (o *Orchestrator) Propose(ctx context.Context, req ProposeRequest) (*model.MatchReport, error) {
	return o.run(ctx, req, nil)
}

// Resume reruns the chunks of prev that failed or were skipped. Candidates
// from completed chunks are kept when their invoice is still open, their
// transaction is still unlinked, and the pair has not been rejected since.
func (o *Orchestrator) Resume(ctx context.Context, req ProposeRequest, prev *model.MatchReport) (*model.MatchReport, error) {
	if prev == nil {
		return nil, fmt.Errorf("resume requires a previous report")
	}
	return o.run(ctx, req, prev)
}

func (o *Orchestrator) run(ctx context.Context, req ProposeRequest, prev *model.MatchReport) (*model.MatchReport, error) {
	started := time.Now()
	logger := slog.With("run_id", uuid.NewString())

	report, err := o.execute(ctx, logger, req, prev)
	if err != nil {
		o.metrics.ObserveRun("error", time.Since(started))
		logger.Error("Reconciliation run failed", "error", err)
		return nil, err
	}

	outcome := "complete"
	switch {
	case report.Cancelled:
		outcome = "cancelled"
	case report.Partial:
		outcome = "partial"
	}
	o.metrics.ObserveRun(outcome, time.Since(started))

	logger.Info("Reconciliation run finished",
		"outcome", outcome,
		"assignments", len(report.Assignments),
		"unmatched", len(report.Unmatched),
		"candidates", len(report.Candidates),
		"duration", time.Since(started))
	return report, nil
}

func (o *Orchestrator) execute(ctx context.Context, logger *slog.Logger, req ProposeRequest, prev *model.MatchReport) (*model.MatchReport, error) {
	invoices, err := o.loadInvoices(ctx, req)
	if err != nil {
		return nil, err
	}

	exclusions, err := o.loadExclusions(ctx, invoices)
	if err != nil {
		return nil, err
	}

	chunks := planChunks(invoices, o.generator.WindowDays(), o.chunkDays)
	logger.Info("Starting reconciliation run",
		"invoices", len(invoices),
		"chunks", len(chunks),
		"resume", prev != nil)

	report := &model.MatchReport{
		Assignments: []model.Assignment{},
		Unmatched:   []string{},
		Candidates:  []model.MatchCandidate{},
		Chunks:      make([]model.ChunkResult, 0, len(chunks)),
	}

	completed := make(map[string]model.ChunkResult)
	var collected [][]model.MatchCandidate
	if prev != nil {
		for _, c := range prev.Chunks {
			if c.Status == model.ChunkCompleted {
				completed[c.Chunk.ID] = c
			}
		}
		carried, err := o.carryOver(ctx, prev.Candidates, invoices, exclusions)
		if err != nil {
			return nil, err
		}
		collected = append(collected, carried)
	}

	for i, chunk := range chunks {
		var result model.ChunkResult

		if done, ok := completed[chunk.ID]; ok {
			result = done
		} else if report.Cancelled || ctx.Err() != nil {
			report.Cancelled = true
			result = model.ChunkResult{Chunk: chunk, Status: model.ChunkSkipped, Error: "run cancelled"}
		} else {
			chunkInvoices := invoicesInChunk(chunk, invoices, o.generator.WindowDays())
			candidates, attempts, err := o.runChunk(ctx, chunk, chunkInvoices, exclusions)
			result = model.ChunkResult{Chunk: chunk, Attempts: attempts}

			switch {
			case err == nil:
				result.Status = model.ChunkCompleted
				result.Candidates = len(candidates)
				collected = append(collected, candidates)
			case errors.Is(err, common.ErrValidation):
				return nil, err
			case ctx.Err() != nil:
				report.Cancelled = true
				result.Status = model.ChunkSkipped
				result.Error = "run cancelled"
			default:
				report.Partial = true
				result.Status = model.ChunkFailed
				result.Error = err.Error()
				logger.Warn("Chunk failed",
					"chunk", chunk.ID,
					"attempts", attempts,
					"error", err)
			}
			o.metrics.ObserveChunk(string(result.Status), result.Attempts)
		}

		report.Chunks = append(report.Chunks, result)
		if o.progress != nil {
			o.progress(Progress{Result: result, Completed: i + 1, Total: len(chunks)})
		}
	}

	report.Candidates = mergeCandidates(o.maxCandidates, collected...)
	report.Assignments = o.selector.Select(report.Candidates)

	assigned := make(map[string]bool, len(report.Assignments))
	for _, a := range report.Assignments {
		assigned[a.InvoiceID] = true
		o.metrics.AddAssignment(string(a.Tier))
	}
	for _, c := range report.Candidates {
		o.metrics.AddCandidate(string(c.Tier))
	}
	for _, inv := range invoices {
		if !assigned[inv.ID] {
			report.Unmatched = append(report.Unmatched, inv.ID)
		}
	}
	sort.Strings(report.Unmatched)

	return report, nil
}

// runChunk scores one chunk, retrying retryable failures with backoff.
// Candidates are only returned once the whole chunk succeeds.
func (o *Orchestrator) runChunk(ctx context.Context, chunk model.Chunk, invoices []*model.Invoice, exclusions ExclusionSet) ([]model.MatchCandidate, int, error) {
	var candidates []model.MatchCandidate
	attempts, err := common.WithRetry(ctx, func(ctx context.Context) error {
		out, err := o.scoreChunk(ctx, chunk, invoices, exclusions)
		if err != nil {
			return err
		}
		candidates = out
		return nil
	}, o.retry)
	if err != nil {
		return nil, attempts, err
	}
	return candidates, attempts, nil
}

func (o *Orchestrator) scoreChunk(ctx context.Context, chunk model.Chunk, invoices []*model.Invoice, exclusions ExclusionSet) ([]model.MatchCandidate, error) {
	byEntity := make(map[string][]*model.Invoice)
	for _, inv := range invoices {
		byEntity[inv.Entity] = append(byEntity[inv.Entity], inv)
	}
	entities := make([]string, 0, len(byEntity))
	for entity := range byEntity {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	var candidates []model.MatchCandidate
	for _, entity := range entities {
		var pool []model.Transaction
		err := withRepoTimeout(ctx, o.timeout, "find_transactions", func(ctx context.Context) error {
			var err error
			pool, err = o.repo.FindTransactions(ctx, service.TransactionQuery{
				Entity:        entity,
				Start:         chunk.Start,
				End:           chunk.End,
				ExcludeLinked: true,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("chunk %s entity %s: %w", chunk.ID, entity, err)
		}

		for i := range pool {
			if err := pool[i].Validate(); err != nil {
				return nil, err
			}
		}

		for _, inv := range byEntity[entity] {
			for _, pair := range o.generator.Generate(inv, pool, exclusions) {
				candidate, err := o.scorer.Score(ctx, pair)
				if err != nil {
					o.metrics.AddSimilarityError()
					return nil, err
				}
				if candidate.TotalScore < o.floor {
					continue
				}
				candidates = append(candidates, candidate)
			}
		}
	}
	return candidates, nil
}

func (o *Orchestrator) loadInvoices(ctx context.Context, req ProposeRequest) ([]model.Invoice, error) {
	var invoices []model.Invoice
	_, err := common.WithRetry(ctx, func(ctx context.Context) error {
		return withRepoTimeout(ctx, o.timeout, "find_open_invoices", func(ctx context.Context) error {
			var err error
			invoices, err = o.repo.FindOpenInvoices(ctx, service.InvoiceFilter{
				Since:      req.Since,
				InvoiceIDs: req.InvoiceIDs,
			})
			return err
		})
	}, o.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to load open invoices: %w", err)
	}

	wanted := make(map[string]bool, len(req.InvoiceIDs))
	for _, id := range req.InvoiceIDs {
		wanted[id] = true
	}

	open := invoices[:0]
	for _, inv := range invoices {
		if err := inv.Validate(); err != nil {
			return nil, err
		}
		if !inv.IsOpen() {
			continue
		}
		if len(wanted) > 0 && !wanted[inv.ID] {
			continue
		}
		if req.Since != nil && dateOnly(inv.IssueDate).Before(dateOnly(*req.Since)) {
			continue
		}
		open = append(open, inv)
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	return open, nil
}

func (o *Orchestrator) loadExclusions(ctx context.Context, invoices []model.Invoice) (ExclusionSet, error) {
	if len(invoices) == 0 {
		return ExclusionSet{}, nil
	}
	ids := make([]string, len(invoices))
	for i, inv := range invoices {
		ids[i] = inv.ID
	}

	var pairs []model.RejectedPair
	_, err := common.WithRetry(ctx, func(ctx context.Context) error {
		return withRepoTimeout(ctx, o.timeout, "rejected_pairs", func(ctx context.Context) error {
			var err error
			pairs, err = o.repo.RejectedPairs(ctx, ids)
			return err
		})
	}, o.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to load rejected pairs: %w", err)
	}
	return NewExclusionSet(pairs), nil
}

// carryOver keeps the previous candidates that are still actionable.
func (o *Orchestrator) carryOver(ctx context.Context, previous []model.MatchCandidate, invoices []model.Invoice, exclusions ExclusionSet) ([]model.MatchCandidate, error) {
	open := make(map[string]*model.Invoice, len(invoices))
	for i := range invoices {
		open[invoices[i].ID] = &invoices[i]
	}

	transactions := make(map[string]*model.Transaction)
	kept := make([]model.MatchCandidate, 0, len(previous))
	for _, c := range previous {
		inv, ok := open[c.InvoiceID]
		if !ok {
			continue
		}

		txn, seen := transactions[c.TransactionID]
		if !seen {
			err := withRepoTimeout(ctx, o.timeout, "get_transaction", func(ctx context.Context) error {
				var err error
				txn, err = o.repo.GetTransaction(ctx, c.TransactionID)
				return err
			})
			if err != nil {
				if !errors.Is(err, common.ErrNotFound) {
					return nil, fmt.Errorf("failed to reload transaction %s: %w", c.TransactionID, err)
				}
				txn = nil
			}
			transactions[c.TransactionID] = txn
		}

		if txn == nil || txn.IsLinked() || exclusions.Excludes(inv, txn) {
			continue
		}
		kept = append(kept, c)
	}
	return kept, nil
}
