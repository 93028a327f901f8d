// Package importer loads invoice registers exported by the invoicing
// subsystem. CSV and XLSX files share one column layout: a header row naming
// id, vendor, amount, issue_date and optionally currency, entity and direction.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/Veraticus/invoice-match/internal/model"
)

// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported invoice file format")

var requiredColumns = []string{"id", "vendor", "amount", "issue_date"}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"02-Jan-2006",
	"2006/01/02",
	"Jan 2, 2006",
}

// Defaults fill columns the register leaves out or blank.
type Defaults struct {
	Entity    string
	Currency  string
	Direction model.InvoiceDirection
	// Sheet selects the XLSX worksheet; empty means the first one.
	Sheet string
}

// RowError points at the register row that could not be imported.
type RowError struct {
	Err error
	Row int
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ReadFile loads invoices from a .csv or .xlsx file.
func ReadFile(ctx context.Context, path string, defaults Defaults) ([]model.Invoice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open invoice register: %w", err)
	}
	defer func() { _ = f.Close() }()

	var invoices []model.Invoice
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		invoices, err = ReadCSV(ctx, f, defaults)
	case ".xlsx":
		invoices, err = ReadXLSX(ctx, f, defaults)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("Read invoice register", "path", path, "invoices", len(invoices))
	return invoices, nil
}

// ReadCSV loads invoices from CSV data.
func ReadCSV(ctx context.Context, r io.Reader, defaults Defaults) ([]model.Invoice, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	return parseRows(ctx, rows, defaults)
}

// ReadXLSX loads invoices from an Excel workbook.
func ReadXLSX(ctx context.Context, r io.Reader, defaults Defaults) ([]model.Invoice, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := defaults.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return parseRows(ctx, rows, defaults)
}

func parseRows(ctx context.Context, rows [][]string, defaults Defaults) ([]model.Invoice, error) {
	if len(rows) == 0 {
		return nil, errors.New("invoice register is empty")
	}

	columns := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.ReplaceAll(key, " ", "_")
		columns[key] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("invoice register is missing column %q", name)
		}
	}

	invoices := make([]model.Invoice, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if isBlank(row) {
			continue
		}

		// Row numbers are 1-based and count the header.
		inv, err := parseRow(row, columns, defaults)
		if err != nil {
			return nil, &RowError{Row: i + 2, Err: err}
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

func parseRow(row []string, columns map[string]int, defaults Defaults) (model.Invoice, error) {
	cell := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	amount, err := parseAmount(cell("amount"))
	if err != nil {
		return model.Invoice{}, err
	}
	issued, err := parseDate(cell("issue_date"))
	if err != nil {
		return model.Invoice{}, err
	}
	direction, err := parseDirection(cell("direction"), defaults.Direction)
	if err != nil {
		return model.Invoice{}, err
	}

	inv := model.Invoice{
		ID:        cell("id"),
		Vendor:    cell("vendor"),
		Amount:    amount,
		Currency:  strings.ToUpper(firstNonEmpty(cell("currency"), defaults.Currency)),
		IssueDate: issued,
		Entity:    firstNonEmpty(cell("entity"), defaults.Entity),
		Direction: direction,
		Status:    model.InvoiceOpen,
	}
	if err := inv.Validate(); err != nil {
		return model.Invoice{}, err
	}
	return inv, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(raw)
	if cleaned == "" {
		return decimal.Decimal{}, errors.New("amount is required")
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("issue_date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid issue_date %q", raw)
}

func parseDirection(raw string, fallback model.InvoiceDirection) (model.InvoiceDirection, error) {
	switch strings.ToLower(raw) {
	case "":
		if fallback == "" {
			return model.DirectionPayable, nil
		}
		return fallback, nil
	case "payable", "ap", "bill", "expense":
		return model.DirectionPayable, nil
	case "receivable", "ar", "invoice", "revenue":
		return model.DirectionReceivable, nil
	default:
		return "", fmt.Errorf("invalid direction %q", raw)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
