package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/invoice-match/internal/common"
)

// Writer exports reports to a Google Spreadsheet.
type Writer struct {
	api    spreadsheetAPI
	logger *slog.Logger
	config Config
}

// NewWriter creates a new Google Sheets exporter.
func NewWriter(ctx context.Context, config Config, logger *slog.Logger) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, &common.ConfigurationError{Key: "sheets", Reason: err.Error()}
	}

	api, err := newGoogleAPI(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return newWriter(api, config, logger), nil
}

func newWriter(api spreadsheetAPI, config Config, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{api: api, config: config, logger: logger.With("component", "sheets")}
}

// Write replaces the contents of every export tab and returns the spreadsheet ID.
func (w *Writer) Write(ctx context.Context, export Export) (string, error) {
	tabs := Tabs(export)

	spreadsheetID, err := w.getOrCreateSpreadsheet(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	sheetIDs, err := w.ensureTabs(ctx, spreadsheetID, tabs)
	if err != nil {
		return "", fmt.Errorf("failed to prepare tabs: %w", err)
	}

	retryOpts := common.RetryOptions{
		MaxAttempts:  w.config.RetryAttempts,
		InitialDelay: w.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	for _, tab := range tabs {
		if _, err := common.WithRetry(ctx, func(ctx context.Context) error {
			return w.writeTab(ctx, spreadsheetID, tab)
		}, retryOpts); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", tab.Title, err)
		}

		if w.config.EnableFormatting {
			if _, err := common.WithRetry(ctx, func(ctx context.Context) error {
				return w.api.Format(ctx, spreadsheetID, sheetIDs[tab.Title], len(tab.Rows[0]))
			}, retryOpts); err != nil {
				// Formatting is cosmetic.
				w.logger.Warn("failed to apply formatting", "tab", tab.Title, "error", err)
			}
		}
	}

	w.logger.Info("export completed", "spreadsheet_id", spreadsheetID, "tabs", len(tabs))
	return spreadsheetID, nil
}

func (w *Writer) getOrCreateSpreadsheet(ctx context.Context) (string, error) {
	if w.config.SpreadsheetID != "" {
		return w.config.SpreadsheetID, nil
	}

	id, err := w.api.Create(ctx, w.config.SpreadsheetName, w.config.TimeZone)
	if err != nil {
		return "", fmt.Errorf("unable to create spreadsheet: %w", err)
	}
	w.logger.Info("created new spreadsheet", "id", id, "name", w.config.SpreadsheetName)
	return id, nil
}

func (w *Writer) ensureTabs(ctx context.Context, spreadsheetID string, tabs []Tab) (map[string]int64, error) {
	existing, err := w.api.Tabs(ctx, spreadsheetID)
	if err != nil {
		return nil, fmt.Errorf("unable to access spreadsheet %s: %w", spreadsheetID, err)
	}

	var missing []string
	for _, tab := range tabs {
		if _, ok := existing[tab.Title]; !ok {
			missing = append(missing, tab.Title)
		}
	}
	if len(missing) == 0 {
		return existing, nil
	}

	if err := w.api.AddTabs(ctx, spreadsheetID, missing); err != nil {
		return nil, err
	}
	return w.api.Tabs(ctx, spreadsheetID)
}

// writeTab clears a tab and writes its rows in batches.
func (w *Writer) writeTab(ctx context.Context, spreadsheetID string, tab Tab) error {
	if err := w.api.Clear(ctx, spreadsheetID, tab.Title); err != nil {
		return err
	}

	for i := 0; i < len(tab.Rows); i += w.config.BatchSize {
		end := min(i+w.config.BatchSize, len(tab.Rows))
		rng := fmt.Sprintf("%s!A%d", quoteTab(tab.Title), i+1)
		if err := w.api.Update(ctx, spreadsheetID, rng, tab.Rows[i:end]); err != nil {
			return fmt.Errorf("failed to write batch starting at row %d: %w", i+1, err)
		}
		w.logger.Debug("wrote batch", "tab", tab.Title, "start_row", i+1, "rows", end-i)
	}
	return nil
}
