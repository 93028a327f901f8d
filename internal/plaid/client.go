// Package plaid fetches bank transactions for one business entity from the Plaid API.
package plaid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/model"
)

const (
	dateLayout = "2006-01-02"
	// Plaid's max page size.
	pageSize = int32(500)
)

// Config holds Plaid API configuration.
type Config struct {
	ClientID        string `mapstructure:"client_id"`
	Secret          string `mapstructure:"secret"`
	Environment     string `mapstructure:"environment"` // sandbox or production
	AccessToken     string `mapstructure:"access_token"`
	Entity          string `mapstructure:"entity"`
	DefaultCurrency string `mapstructure:"default_currency"`
}

// Validate reports the first missing or invalid setting.
func (c *Config) Validate() error {
	required := []struct{ value, name string }{
		{c.ClientID, "client ID"},
		{c.Secret, "secret"},
		{c.AccessToken, "access token"},
		{c.Environment, "environment"},
		{c.Entity, "entity"},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("plaid %s is required", field.name)
		}
	}
	if _, ok := environments[c.Environment]; !ok {
		return fmt.Errorf("invalid Plaid environment %q: must be sandbox or production", c.Environment)
	}
	return nil
}

var environments = map[string]plaid.Environment{
	"sandbox":    plaid.Sandbox,
	"production": plaid.Production,
}

// Client implements the TransactionFetcher interface.
type Client struct {
	client          *plaid.APIClient
	logger          *slog.Logger
	retryOpts       common.RetryOptions
	accessToken     string
	entity          string
	defaultCurrency string
}

// NewClient creates a new Plaid client with the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &common.ConfigurationError{Key: "plaid", Reason: err.Error()}
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)

	configuration.UseEnvironment(environments[cfg.Environment])

	currency := strings.ToUpper(cfg.DefaultCurrency)
	if currency == "" {
		currency = "USD"
	}

	return &Client{
		client:          plaid.NewAPIClient(configuration),
		accessToken:     cfg.AccessToken,
		entity:          cfg.Entity,
		defaultCurrency: currency,
		logger:          slog.Default().With("component", "plaid"),
		retryOpts: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

// GetTransactions fetches posted transactions from Plaid within the specified date range.
func (c *Client) GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.Transaction, error) {
	if ctx == nil {
		return nil, errors.New("context cannot be nil")
	}
	if startDate.After(endDate) {
		return nil, errors.New("start date must be before end date")
	}

	c.logger.Info("Fetching transactions from Plaid",
		"start_date", startDate.Format(dateLayout),
		"end_date", endDate.Format(dateLayout))

	var all []plaid.Transaction
	for offset := int32(0); ; {
		page, total, err := c.fetchPage(ctx, startDate, endDate, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		offset += int32(len(page))
		if len(page) < int(pageSize) || offset >= total {
			break
		}
	}

	transactions := make([]model.Transaction, 0, len(all))
	skipped := 0
	for _, pt := range all {
		tx, ok := c.mapPlaidTransaction(pt)
		if !ok {
			skipped++
			continue
		}
		transactions = append(transactions, tx)
	}

	c.logger.Info("Fetched all transactions", "count", len(transactions), "skipped", skipped)
	return transactions, nil
}

// fetchPage reads one page of /transactions/get starting at offset and
// reports Plaid's total for the window.
func (c *Client) fetchPage(ctx context.Context, startDate, endDate time.Time, offset int32) ([]plaid.Transaction, int32, error) {
	request := plaid.NewTransactionsGetRequest(c.accessToken, startDate.Format(dateLayout), endDate.Format(dateLayout))
	request.SetOptions(plaid.TransactionsGetRequestOptions{
		Count:  plaid.PtrInt32(pageSize),
		Offset: plaid.PtrInt32(offset),
	})

	var (
		page  []plaid.Transaction
		total int32
	)
	_, err := common.WithRetry(ctx, func(ctx context.Context) error {
		resp, _, err := c.client.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*request).Execute()
		if err != nil {
			return c.classify(err, "fetch transactions")
		}
		page, total = resp.GetTransactions(), resp.GetTotalTransactions()
		return nil
	}, c.retryOpts)
	if err != nil {
		return nil, 0, err
	}

	c.logger.Debug("Fetched transaction page", "count", len(page), "offset", offset, "total", total)
	return page, total, nil
}

// GetAccounts fetches account IDs from Plaid.
func (c *Client) GetAccounts(ctx context.Context) ([]string, error) {
	if ctx == nil {
		return nil, errors.New("context cannot be nil")
	}

	var accounts []plaid.AccountBase
	_, err := common.WithRetry(ctx, func(ctx context.Context) error {
		request := plaid.NewAccountsGetRequest(c.accessToken)
		resp, _, err := c.client.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
		if err != nil {
			return c.classify(err, "fetch accounts")
		}
		accounts = resp.GetAccounts()
		return nil
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Fetched accounts", "count", len(accounts))

	accountIDs := make([]string, 0, len(accounts))
	for _, account := range accounts {
		accountIDs = append(accountIDs, account.GetAccountId())
	}
	return accountIDs, nil
}

// classify marks rate limiting as retryable and everything else as permanent.
func (c *Client) classify(err error, op string) error {
	if plaidError := extractPlaidError(err); plaidError != nil {
		if plaidError.ErrorCode == "RATE_LIMIT_EXCEEDED" {
			c.logger.Warn("Rate limit hit, will retry", "error", plaidError.ErrorMessage)
			return &common.RetryableError{Err: err, Retryable: true}
		}
		return fmt.Errorf("plaid API error: %s - %s", plaidError.ErrorCode, plaidError.ErrorMessage)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// mapPlaidTransaction converts a Plaid transaction to the ledger model.
// Pending transactions are skipped because Plaid re-issues them under a new
// ID once they post.
func (c *Client) mapPlaidTransaction(pt plaid.Transaction) (model.Transaction, bool) {
	if pt.GetPending() {
		return model.Transaction{}, false
	}

	date, err := time.Parse(dateLayout, pt.GetDate())
	if err != nil {
		c.logger.Warn("Skipping transaction with unparseable date",
			"transaction_id", pt.GetTransactionId(), "date", pt.GetDate(), "error", err)
		return model.Transaction{}, false
	}

	description := pt.GetMerchantName()
	if description == "" {
		description = pt.GetName()
	}
	description = cleanMerchantName(description)
	if pt.HasCheckNumber() && pt.GetCheckNumber() != "" {
		description = strings.TrimSpace(description + " Check " + pt.GetCheckNumber())
	}

	currency := pt.GetIsoCurrencyCode()
	if currency == "" {
		currency = pt.GetUnofficialCurrencyCode()
	}
	if currency == "" {
		currency = c.defaultCurrency
	}

	// Plaid reports money leaving the account as a positive amount.
	amount := decimal.NewFromFloat(pt.GetAmount()).Neg().Round(2)

	return model.Transaction{
		ID:                 pt.GetTransactionId(),
		Date:               date,
		Amount:             amount,
		Currency:           strings.ToUpper(currency),
		Description:        description,
		Entity:             c.entity,
		AccountID:          pt.GetAccountId(),
		AccountingCategory: model.UncategorizedCategory,
	}, true
}

var (
	// A trailing run of six or more digits is a processor reference.
	referenceRe = regexp.MustCompile(`\s+\d{6,}$`)
	// Stacked legal suffixes such as "Acme Co Ltd" are all removed.
	legalSuffixRe = regexp.MustCompile(`(?i)(\s+(llc|inc|corp|corporation|company|co|ltd|limited)\.?)+$`)
)

// cleanMerchantName title-cases a merchant and drops processor references
// and legal suffixes so it compares well against invoice vendors.
func cleanMerchantName(name string) string {
	name = titleCase(strings.Join(strings.Fields(name), " "))
	name = referenceRe.ReplaceAllString(name, "")
	name = legalSuffixRe.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

// titleCase upper-cases each letter that follows a non-letter.
func titleCase(s string) string {
	runes := []rune(strings.ToLower(s))
	for i, r := range runes {
		if i == 0 || !unicode.IsLetter(runes[i-1]) {
			runes[i] = unicode.ToUpper(r)
		}
	}
	return string(runes)
}

// extractPlaidError attempts to extract a Plaid error from a generic error.
func extractPlaidError(err error) *plaid.PlaidError {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return nil
	}
	return &plaidErr
}

var _ TransactionFetcher = (*Client)(nil)
