// Package simplefin fetches bank transactions through a SimpleFIN bridge.
package simplefin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/model"
)

// Config holds SimpleFIN settings. Either AccessURL or a setup Token is
// required; a claimed token is remembered in StateFile.
type Config struct {
	Token           string              `mapstructure:"token"`
	AccessURL       string              `mapstructure:"access_url"`
	StateFile       string              `mapstructure:"state_file"`
	Entity          string              `mapstructure:"entity"`
	DefaultCurrency string              `mapstructure:"default_currency"`
	Retry           common.RetryOptions `mapstructure:"retry"`
}

// Client implements plaid.TransactionFetcher for SimpleFIN.
type Client struct {
	httpClient      *http.Client
	retryOpts       common.RetryOptions
	accessURL       string
	entity          string
	defaultCurrency string
}

type accountSet struct {
	Errors   []string  `json:"errors"`
	Accounts []account `json:"accounts"`
}

type account struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Currency     string        `json:"currency"`
	Transactions []transaction `json:"transactions"`
}

type transaction struct {
	ID          string `json:"id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Payee       string `json:"payee"`
	Posted      int64  `json:"posted"`
	Pending     bool   `json:"pending"`
}

// NewClient creates a SimpleFIN client, claiming the setup token if needed.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Entity == "" {
		return nil, &common.ConfigurationError{Key: "simplefin.entity", Reason: "is required"}
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	accessURL := cfg.AccessURL
	if accessURL == "" {
		if cfg.StateFile == "" {
			return nil, &common.ConfigurationError{Key: "simplefin.state_file", Reason: "is required when no access_url is set"}
		}
		var err error
		if accessURL, err = resolveAccessURL(ctx, httpClient, cfg.Token, cfg.StateFile); err != nil {
			return nil, fmt.Errorf("failed to load/claim auth: %w", err)
		}
	}

	currency := strings.ToUpper(cfg.DefaultCurrency)
	if currency == "" {
		currency = "USD"
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		}
	}

	return &Client{
		httpClient:      httpClient,
		retryOpts:       retry,
		accessURL:       strings.TrimSuffix(accessURL, "/"),
		entity:          cfg.Entity,
		defaultCurrency: currency,
	}, nil
}

// GetTransactions fetches posted transactions between startDate and endDate, inclusive.
func (c *Client) GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.Transaction, error) {
	start := dateOnly(startDate)
	end := dateOnly(endDate)

	q := url.Values{}
	q.Set("start-date", strconv.FormatInt(start.Unix(), 10))
	// end-date is exclusive.
	q.Set("end-date", strconv.FormatInt(end.AddDate(0, 0, 1).Unix(), 10))

	set, err := c.fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	var transactions []model.Transaction
	for _, acct := range set.Accounts {
		for _, tx := range acct.Transactions {
			txn, ok, err := c.mapTransaction(acct, tx)
			if err != nil {
				return nil, err
			}
			if !ok || txn.Date.Before(start) || txn.Date.After(end) {
				continue
			}
			transactions = append(transactions, txn)
		}
	}

	slog.Info("Fetched SimpleFIN transactions",
		"accounts", len(set.Accounts),
		"transactions", len(transactions))
	return transactions, nil
}

// GetAccounts returns the IDs of the connected accounts.
func (c *Client) GetAccounts(ctx context.Context) ([]string, error) {
	q := url.Values{}
	q.Set("balances-only", "1")
	set, err := c.fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(set.Accounts))
	for _, acct := range set.Accounts {
		ids = append(ids, acct.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *Client) fetch(ctx context.Context, q url.Values) (*accountSet, error) {
	u, err := url.Parse(c.accessURL + "/accounts")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	u.RawQuery = q.Encode()

	var set accountSet
	_, err = common.WithRetry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &common.RetryableError{Err: fmt.Errorf("failed to fetch data: %w", err), Retryable: ctx.Err() == nil}
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			apiErr := fmt.Errorf("SimpleFIN API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
			retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
			return &common.RetryableError{Err: apiErr, Retryable: retryable}
		}

		set = accountSet{}
		if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}

	for _, msg := range set.Errors {
		slog.Warn("SimpleFIN reported a problem", "message", msg)
	}
	return &set, nil
}

// mapTransaction skips pending entries. SimpleFIN amounts are signed decimal
// strings with outflows negative, matching the ledger convention.
func (c *Client) mapTransaction(acct account, tx transaction) (model.Transaction, bool, error) {
	if tx.Pending || tx.Posted == 0 {
		return model.Transaction{}, false, nil
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(tx.Amount))
	if err != nil {
		return model.Transaction{}, false, fmt.Errorf("failed to parse amount %q of %s: %w", tx.Amount, tx.ID, err)
	}

	description := strings.TrimSpace(tx.Payee)
	if description == "" {
		description = strings.TrimSpace(tx.Description)
	}
	if description == "" {
		slog.Warn("Skipping SimpleFIN transaction without description", "account", acct.ID, "id", tx.ID)
		return model.Transaction{}, false, nil
	}

	return model.Transaction{
		ID:                 fmt.Sprintf("%s_%s", acct.ID, tx.ID),
		Date:               dateOnly(time.Unix(tx.Posted, 0).UTC()),
		Amount:             amount.Round(2),
		Currency:           c.currencyFor(acct),
		Description:        description,
		Entity:             c.entity,
		AccountID:          acct.ID,
		AccountingCategory: model.UncategorizedCategory,
	}, true, nil
}

// currencyFor ignores custom currencies, which SimpleFIN names by URL.
func (c *Client) currencyFor(acct account) string {
	if len(acct.Currency) == 3 {
		return strings.ToUpper(acct.Currency)
	}
	return c.defaultCurrency
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
