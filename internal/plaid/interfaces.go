package plaid

import (
	"context"
	"time"

	"github.com/Veraticus/invoice-match/internal/model"
)

// TransactionFetcher is a bank feed: Plaid, SimpleFIN or a test fake.
// GetTransactions returns postings dated within [startDate, endDate].
type TransactionFetcher interface {
	GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.Transaction, error)
	GetAccounts(ctx context.Context) ([]string, error)
}
