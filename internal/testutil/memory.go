package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/model"
	"github.com/Veraticus/invoice-match/internal/service"
)

// MemoryRepository is an in-memory service.Repository. Transactions are
// serialized: BeginTx blocks until the previous unit of work commits or rolls
// back, and readers keep seeing the last committed state in the meantime.
type MemoryRepository struct {
	state  *memState
	writer sync.Mutex
	mu     sync.RWMutex

	// FindTransactionsHook, when set, runs before every FindTransactions call.
	// A non-nil error is returned to the caller instead of results.
	FindTransactionsHook func(ctx context.Context, query service.TransactionQuery) error
	// FindOpenInvoicesHook behaves like FindTransactionsHook for FindOpenInvoices.
	FindOpenInvoicesHook func(ctx context.Context, filter service.InvoiceFilter) error
	// BeforeCommitHook runs inside Commit before the new state is published.
	BeforeCommitHook func() error
}

type memState struct {
	invoices     map[string]model.Invoice
	transactions map[string]model.Transaction
	rejected     map[model.PairKey]model.RejectedPair
	patterns     map[string]model.LearnedPattern
	decisions    []model.MatchDecision
}

func newMemState() *memState {
	return &memState{
		invoices:     make(map[string]model.Invoice),
		transactions: make(map[string]model.Transaction),
		rejected:     make(map[model.PairKey]model.RejectedPair),
		patterns:     make(map[string]model.LearnedPattern),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.rejected {
		c.rejected[k] = v
	}
	for k, v := range s.patterns {
		c.patterns[k] = v
	}
	c.decisions = append([]model.MatchDecision(nil), s.decisions...)
	return c
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemState()}
}

// PutInvoices inserts or replaces invoices.
func (r *MemoryRepository) PutInvoices(invoices ...model.Invoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range invoices {
		r.state.invoices[inv.ID] = inv
	}
}

// PutTransactions inserts or replaces transactions.
func (r *MemoryRepository) PutTransactions(txns ...model.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range txns {
		r.state.transactions[txn.ID] = txn
	}
}

// Decisions returns every recorded decision in append order.
func (r *MemoryRepository) Decisions() []model.MatchDecision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.MatchDecision(nil), r.state.decisions...)
}

func (r *MemoryRepository) snapshot() *memState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.clone()
}

// FindTransactions implements service.Repository.
func (r *MemoryRepository) FindTransactions(ctx context.Context, query service.TransactionQuery) ([]model.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.FindTransactionsHook != nil {
		if err := r.FindTransactionsHook(ctx, query); err != nil {
			return nil, err
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Transaction
	for _, txn := range r.state.transactions {
		if query.Entity != "" && txn.Entity != query.Entity {
			continue
		}
		if !query.Start.IsZero() && txn.Date.Before(query.Start) {
			continue
		}
		if !query.End.IsZero() && !txn.Date.Before(query.End) {
			continue
		}
		if query.ExcludeLinked && txn.IsLinked() {
			continue
		}
		out = append(out, txn)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// FindOpenInvoices implements service.Repository.
func (r *MemoryRepository) FindOpenInvoices(ctx context.Context, filter service.InvoiceFilter) ([]model.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.FindOpenInvoicesHook != nil {
		if err := r.FindOpenInvoicesHook(ctx, filter); err != nil {
			return nil, err
		}
	}

	wanted := make(map[string]bool, len(filter.InvoiceIDs))
	for _, id := range filter.InvoiceIDs {
		wanted[id] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Invoice
	for _, inv := range r.state.invoices {
		if inv.Status != model.InvoiceOpen {
			continue
		}
		if len(wanted) > 0 && !wanted[inv.ID] {
			continue
		}
		if filter.Since != nil && inv.IssueDate.Before(*filter.Since) {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetInvoice implements service.Repository.
func (r *MemoryRepository) GetInvoice(_ context.Context, id string) (*model.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return getInvoice(r.state, id)
}

// GetTransaction implements service.Repository.
func (r *MemoryRepository) GetTransaction(_ context.Context, id string) (*model.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return getTransaction(r.state, id)
}

// RejectedPairs implements service.Repository.
func (r *MemoryRepository) RejectedPairs(_ context.Context, invoiceIDs []string) ([]model.RejectedPair, error) {
	wanted := make(map[string]bool, len(invoiceIDs))
	for _, id := range invoiceIDs {
		wanted[id] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.RejectedPair
	for _, p := range r.state.rejected {
		if len(wanted) == 0 || wanted[p.InvoiceID] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InvoiceID != out[j].InvoiceID {
			return out[i].InvoiceID < out[j].InvoiceID
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	return out, nil
}

// ListDecisions implements service.Repository.
func (r *MemoryRepository) ListDecisions(_ context.Context, filter service.DecisionFilter) ([]model.MatchDecision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.MatchDecision
	for _, d := range r.state.decisions {
		if filter.InvoiceID != "" && d.InvoiceID != filter.InvoiceID {
			continue
		}
		if filter.TransactionID != "" && d.TransactionID != filter.TransactionID {
			continue
		}
		if filter.Decision != "" && d.Decision != filter.Decision {
			continue
		}
		out = append(out, d)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

// ListPatterns implements service.Repository.
func (r *MemoryRepository) ListPatterns(_ context.Context) ([]model.LearnedPattern, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.LearnedPattern, 0, len(r.state.patterns))
	for _, p := range r.state.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// GetPattern implements service.PatternStore.
func (r *MemoryRepository) GetPattern(_ context.Context, key string) (*model.LearnedPattern, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return getPattern(r.state, key), nil
}

// AdjustPattern implements service.PatternStore outside of a unit of work.
func (r *MemoryRepository) AdjustPattern(ctx context.Context, key string, delta float64) (*model.LearnedPattern, error) {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	p, err := tx.AdjustPattern(ctx, key, delta)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return p, tx.Commit()
}

// BeginTx implements service.Repository.
func (r *MemoryRepository) BeginTx(ctx context.Context) (service.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.writer.Lock()
	return &memTx{repo: r, state: r.snapshot()}, nil
}

type memTx struct {
	repo  *MemoryRepository
	state *memState
	done  bool
}

func (tx *memTx) GetInvoice(_ context.Context, id string) (*model.Invoice, error) {
	return getInvoice(tx.state, id)
}

func (tx *memTx) GetTransaction(_ context.Context, id string) (*model.Transaction, error) {
	return getTransaction(tx.state, id)
}

func (tx *memTx) GetPattern(_ context.Context, key string) (*model.LearnedPattern, error) {
	return getPattern(tx.state, key), nil
}

func (tx *memTx) AdjustPattern(_ context.Context, key string, delta float64) (*model.LearnedPattern, error) {
	p := tx.state.patterns[key]
	p.Key = key
	p.Weight = model.ClampWeight(p.Weight + delta)
	p.UsageCount++
	p.UpdatedAt = time.Now().UTC()
	tx.state.patterns[key] = p
	return &p, nil
}

func (tx *memTx) LinkTransaction(_ context.Context, transactionID, invoiceID, category string, confidence float64) error {
	txn, ok := tx.state.transactions[transactionID]
	if !ok {
		return &common.NotFoundError{Kind: "transaction", ID: transactionID}
	}
	if txn.IsLinked() {
		return &common.ConflictError{InvoiceID: invoiceID, TransactionID: transactionID, Reason: "transaction already linked"}
	}
	txn.LinkedInvoiceID = invoiceID
	txn.AccountingCategory = category
	txn.Confidence = confidence
	tx.state.transactions[transactionID] = txn
	return nil
}

func (tx *memTx) MarkInvoiceMatched(_ context.Context, invoiceID, transactionID string) error {
	inv, ok := tx.state.invoices[invoiceID]
	if !ok {
		return &common.NotFoundError{Kind: "invoice", ID: invoiceID}
	}
	if inv.Status == model.InvoiceMatched {
		return &common.ConflictError{InvoiceID: invoiceID, TransactionID: transactionID, Reason: "invoice already matched"}
	}
	inv.Status = model.InvoiceMatched
	inv.LinkedTransactionID = transactionID
	tx.state.invoices[invoiceID] = inv
	return nil
}

func (tx *memTx) SetInvoiceStatus(_ context.Context, invoiceID string, status model.InvoiceStatus) error {
	inv, ok := tx.state.invoices[invoiceID]
	if !ok {
		return &common.NotFoundError{Kind: "invoice", ID: invoiceID}
	}
	inv.Status = status
	tx.state.invoices[invoiceID] = inv
	return nil
}

func (tx *memTx) AppendDecision(_ context.Context, decision *model.MatchDecision) error {
	if decision.Decision == model.DecisionAccepted {
		for _, d := range tx.state.decisions {
			if d.Decision != model.DecisionAccepted {
				continue
			}
			if d.TransactionID == decision.TransactionID || d.InvoiceID == decision.InvoiceID {
				return &common.ConflictError{
					InvoiceID:     decision.InvoiceID,
					TransactionID: decision.TransactionID,
					Reason:        "an accepted decision already references this pair",
				}
			}
		}
	}
	tx.state.decisions = append(tx.state.decisions, *decision)
	return nil
}

func (tx *memTx) AddRejectedPair(_ context.Context, pair model.RejectedPair) error {
	tx.state.rejected[pair.Key()] = pair
	return nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return nil
	}
	tx.done = true
	defer tx.repo.writer.Unlock()

	if hook := tx.repo.BeforeCommitHook; hook != nil {
		if err := hook(); err != nil {
			return err
		}
	}

	tx.repo.mu.Lock()
	tx.repo.state = tx.state
	tx.repo.mu.Unlock()
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.repo.writer.Unlock()
	return nil
}

func getInvoice(s *memState, id string) (*model.Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok {
		return nil, &common.NotFoundError{Kind: "invoice", ID: id}
	}
	return &inv, nil
}

func getTransaction(s *memState, id string) (*model.Transaction, error) {
	txn, ok := s.transactions[id]
	if !ok {
		return nil, &common.NotFoundError{Kind: "transaction", ID: id}
	}
	return &txn, nil
}

func getPattern(s *memState, key string) *model.LearnedPattern {
	p, ok := s.patterns[key]
	if !ok {
		return nil
	}
	return &p
}
