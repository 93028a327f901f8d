package plaid

import (
	"context"
	"sync"
	"time"

	"github.com/Veraticus/invoice-match/internal/model"
)

// DateRange is one window requested from a fetcher.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// FakeFetcher serves canned transactions and accounts. GetTransactions
// returns the transactions dated inside the requested window, inclusive.
type FakeFetcher struct {
	Transactions []model.Transaction
	Accounts     []string
	// Err, when set, is returned by every call.
	Err error

	mu       sync.Mutex
	requests []DateRange
}

var _ TransactionFetcher = (*FakeFetcher)(nil)

func (f *FakeFetcher) GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.Transaction, error) {
	f.mu.Lock()
	f.requests = append(f.requests, DateRange{Start: startDate, End: endDate})
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}

	var out []model.Transaction
	for _, txn := range f.Transactions {
		if txn.Date.Before(startDate) || txn.Date.After(endDate) {
			continue
		}
		out = append(out, txn)
	}
	return out, nil
}

func (f *FakeFetcher) GetAccounts(ctx context.Context) ([]string, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]string(nil), f.Accounts...), ctx.Err()
}

// Requests returns the windows passed to GetTransactions so far.
func (f *FakeFetcher) Requests() []DateRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DateRange(nil), f.requests...)
}
