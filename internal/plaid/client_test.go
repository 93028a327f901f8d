package plaid

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/model"
)

func validConfig() Config {
	return Config{
		ClientID:    "test-client-id",
		Secret:      "test-secret",
		Environment: "sandbox",
		AccessToken: "test-token",
		Entity:      "acme-co",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		mutate  func(*Config)
		name    string
		errMsg  string
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "valid production environment", mutate: func(c *Config) { c.Environment = "production" }},
		{name: "missing client ID", mutate: func(c *Config) { c.ClientID = "" }, wantErr: true, errMsg: "plaid client ID is required"},
		{name: "missing secret", mutate: func(c *Config) { c.Secret = "" }, wantErr: true, errMsg: "plaid secret is required"},
		{name: "missing access token", mutate: func(c *Config) { c.AccessToken = "" }, wantErr: true, errMsg: "plaid access token is required"},
		{name: "missing environment", mutate: func(c *Config) { c.Environment = "" }, wantErr: true, errMsg: "plaid environment is required"},
		{name: "missing entity", mutate: func(c *Config) { c.Entity = "" }, wantErr: true, errMsg: "plaid entity is required"},
		{name: "invalid environment", mutate: func(c *Config) { c.Environment = "development" }, wantErr: true, errMsg: "invalid Plaid environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	client, err := NewClient(validConfig())
	require.NoError(t, err)
	assert.NotNil(t, client.client)
	assert.Equal(t, "test-token", client.accessToken)
	assert.Equal(t, "USD", client.defaultCurrency)
	assert.Equal(t, 3, client.retryOpts.MaxAttempts)

	_, err = NewClient(Config{ClientID: "test-client-id"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestClient_GetTransactions_Validation(t *testing.T) {
	client := &Client{
		accessToken: "test-token",
		logger:      slog.Default().With("component", "plaid-test"),
	}

	tests := []struct {
		startDate time.Time
		endDate   time.Time
		ctx       context.Context
		name      string
		errMsg    string
	}{
		{
			name:      "nil context",
			ctx:       nil,
			startDate: time.Now().AddDate(0, -1, 0),
			endDate:   time.Now(),
			errMsg:    "context cannot be nil",
		},
		{
			name:      "start date after end date",
			ctx:       context.Background(),
			startDate: time.Now(),
			endDate:   time.Now().AddDate(0, -1, 0),
			errMsg:    "start date must be before end date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.GetTransactions(tt.ctx, tt.startDate, tt.endDate)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func plaidTransaction(id string, amount float64, date string) plaid.Transaction {
	var pt plaid.Transaction
	pt.SetTransactionId(id)
	pt.SetAccountId("acct-1")
	pt.SetAmount(amount)
	pt.SetDate(date)
	return pt
}

func TestMapPlaidTransaction(t *testing.T) {
	client := &Client{
		entity:          "acme-co",
		defaultCurrency: "USD",
		logger:          slog.Default().With("component", "plaid-test"),
	}

	t.Run("outflow becomes negative", func(t *testing.T) {
		pt := plaidTransaction("tx-1", 45.99, "2025-04-02")
		pt.SetName("ACME HOSTING LLC 99812345")
		pt.SetIsoCurrencyCode("usd")

		tx, ok := client.mapPlaidTransaction(pt)
		require.True(t, ok)
		assert.Equal(t, "tx-1", tx.ID)
		assert.True(t, decimal.RequireFromString("-45.99").Equal(tx.Amount), "got %s", tx.Amount)
		assert.Equal(t, "USD", tx.Currency)
		assert.Equal(t, "Acme Hosting", tx.Description)
		assert.Equal(t, "acme-co", tx.Entity)
		assert.Equal(t, "acct-1", tx.AccountID)
		assert.Equal(t, model.UncategorizedCategory, tx.AccountingCategory)
		assert.Equal(t, time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), tx.Date)
		assert.NoError(t, tx.Validate())
	})

	t.Run("inflow stays positive and merchant name wins", func(t *testing.T) {
		pt := plaidTransaction("tx-2", -900, "2025-04-05")
		pt.SetName("DEPOSIT 0041")
		pt.SetMerchantName("Initech")
		pt.SetUnofficialCurrencyCode("EUR")

		tx, ok := client.mapPlaidTransaction(pt)
		require.True(t, ok)
		assert.True(t, decimal.NewFromInt(900).Equal(tx.Amount))
		assert.Equal(t, "Initech", tx.Description)
		assert.Equal(t, "EUR", tx.Currency)
	})

	t.Run("check number is appended", func(t *testing.T) {
		pt := plaidTransaction("tx-3", 500, "2025-04-06")
		pt.SetName("ACME LANDSCAPING")
		pt.SetCheckNumber("1234")

		tx, ok := client.mapPlaidTransaction(pt)
		require.True(t, ok)
		assert.Equal(t, "Acme Landscaping Check 1234", tx.Description)
		assert.Equal(t, "USD", tx.Currency, "falls back to the default currency")
	})

	t.Run("pending is skipped", func(t *testing.T) {
		pt := plaidTransaction("tx-4", 10, "2025-04-07")
		pt.SetPending(true)

		_, ok := client.mapPlaidTransaction(pt)
		assert.False(t, ok)
	})

	t.Run("bad date is skipped", func(t *testing.T) {
		_, ok := client.mapPlaidTransaction(plaidTransaction("tx-5", 10, "04/07/2025"))
		assert.False(t, ok)
	})
}

func TestCleanMerchantName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "Initech", want: "Initech"},
		{input: "globex logistics", want: "Globex Logistics"},
		{input: "Umbrella SaaS LLC", want: "Umbrella Saas"},
		{input: "Hooli Inc.", want: "Hooli"},
		{input: "Acme Co Ltd", want: "Acme"},
		{input: "STRIPE TRANSFER 20250401", want: "Stripe Transfer"},
		{input: "7-ELEVEN 2345", want: "7-Eleven 2345"},
		{input: "acme-hosting.io llc 987654321", want: "Acme-Hosting.Io"},
		{input: "  Wayne   Enterprises   ", want: "Wayne Enterprises"},
		{input: "Cocoa Supply", want: "Cocoa Supply"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanMerchantName(tt.input))
		})
	}
}

func TestFakeFetcherFiltersByWindow(t *testing.T) {
	fake := &FakeFetcher{
		Transactions: []model.Transaction{
			{ID: "early", Date: time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), Amount: decimal.RequireFromString("-1")},
			{ID: "first", Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Amount: decimal.RequireFromString("-10.50")},
			{ID: "last", Date: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), Amount: decimal.RequireFromString("42")},
		},
		Accounts: []string{"acc1", "acc2"},
	}
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	txs, err := fake.GetTransactions(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "first", txs[0].ID)
	assert.Equal(t, "last", txs[1].ID)
	assert.Equal(t, []DateRange{{Start: start, End: end}}, fake.Requests())

	accounts, err := fake.GetAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"acc1", "acc2"}, accounts)

	fake.Err = errors.New("ITEM_LOGIN_REQUIRED")
	_, err = fake.GetTransactions(context.Background(), start, end)
	assert.EqualError(t, err, "ITEM_LOGIN_REQUIRED")
	assert.Len(t, fake.Requests(), 2)
}
