package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/model"
)

var defaults = Defaults{Entity: "acme-co", Currency: "usd"}

const register = `id,vendor,amount,issue_date,currency,direction
INV-1,Acme Hosting,"$1,200.00",2025-04-01,,
INV-2, Initech ,900,04/03/2025,EUR,receivable

INV-3,Globex,75.5,02-Apr-2025,usd,AP
`

func TestReadCSV(t *testing.T) {
	invoices, err := ReadCSV(context.Background(), strings.NewReader(register), defaults)
	require.NoError(t, err)
	require.Len(t, invoices, 3, "blank rows are skipped")

	first := invoices[0]
	assert.Equal(t, "INV-1", first.ID)
	assert.Equal(t, "Acme Hosting", first.Vendor)
	assert.True(t, decimal.NewFromInt(1200).Equal(first.Amount), "got %s", first.Amount)
	assert.Equal(t, "USD", first.Currency)
	assert.Equal(t, "acme-co", first.Entity)
	assert.Equal(t, model.DirectionPayable, first.Direction)
	assert.Equal(t, model.InvoiceOpen, first.Status)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), first.IssueDate)

	second := invoices[1]
	assert.Equal(t, "Initech", second.Vendor)
	assert.Equal(t, "EUR", second.Currency)
	assert.Equal(t, model.DirectionReceivable, second.Direction)
	assert.Equal(t, time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC), second.IssueDate)

	third := invoices[2]
	assert.Equal(t, model.DirectionPayable, third.Direction)
	assert.Equal(t, time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), third.IssueDate)
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		errMsg  string
		row     int
		invalid bool
	}{
		{
			name:   "empty file",
			data:   "",
			errMsg: "empty",
		},
		{
			name:   "missing column",
			data:   "id,vendor,amount\nINV-1,Acme,10\n",
			errMsg: `missing column "issue_date"`,
		},
		{
			name:   "bad amount",
			data:   "id,vendor,amount,issue_date\nINV-1,Acme,ten,2025-04-01\n",
			errMsg: `invalid amount "ten"`,
			row:    2,
		},
		{
			name:   "bad date",
			data:   "id,vendor,amount,issue_date\nINV-1,Acme,10,2025-04-01\nINV-2,Acme,10,someday\n",
			errMsg: `invalid issue_date "someday"`,
			row:    3,
		},
		{
			name:   "bad direction",
			data:   "id,vendor,amount,issue_date,direction\nINV-1,Acme,10,2025-04-01,sideways\n",
			errMsg: `invalid direction "sideways"`,
			row:    2,
		},
		{
			name:    "negative amount fails validation",
			data:    "id,vendor,amount,issue_date\nINV-1,Acme,-10,2025-04-01\n",
			row:     2,
			invalid: true,
		},
		{
			name:    "missing vendor fails validation",
			data:    "id,vendor,amount,issue_date\nINV-1,,10,2025-04-01\n",
			row:     2,
			invalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(context.Background(), strings.NewReader(tt.data), defaults)
			require.Error(t, err)
			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
			if tt.row > 0 {
				var rowErr *RowError
				require.ErrorAs(t, err, &rowErr)
				assert.Equal(t, tt.row, rowErr.Row)
			}
			assert.Equal(t, tt.invalid, errors.Is(err, common.ErrValidation))
		})
	}
}

func TestReadCSVHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReadCSV(ctx, strings.NewReader(register), defaults)
	assert.ErrorIs(t, err, context.Canceled)
}

func writeWorkbook(t *testing.T, sheet string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if sheet != "Sheet1" {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(t.TempDir(), "invoices.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestReadFileXLSX(t *testing.T) {
	path := writeWorkbook(t, "Sheet1", [][]any{
		{"ID", "Vendor", "Amount", "Issue Date", "Entity"},
		{"INV-10", "Acme Hosting", "120.00", "2025-04-01", "acme-eu"},
		{"INV-11", "Initech", "900", "2025-04-03", ""},
	})

	invoices, err := ReadFile(context.Background(), path, defaults)
	require.NoError(t, err)
	require.Len(t, invoices, 2)

	assert.Equal(t, "INV-10", invoices[0].ID)
	assert.Equal(t, "acme-eu", invoices[0].Entity)
	assert.True(t, decimal.NewFromInt(120).Equal(invoices[0].Amount))
	assert.Equal(t, "acme-co", invoices[1].Entity, "blank cells fall back to defaults")
	assert.Equal(t, "USD", invoices[1].Currency)
}

func TestReadXLSXNamedSheet(t *testing.T) {
	path := writeWorkbook(t, "Bills", [][]any{
		{"id", "vendor", "amount", "issue_date"},
		{"INV-20", "Globex", "75.50", "2025-05-02"},
	})
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	invoices, err := ReadXLSX(context.Background(), f, Defaults{Entity: "acme-co", Currency: "USD", Sheet: "Bills"})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "Globex", invoices[0].Vendor)
}

func TestReadFileRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoices.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o600))

	_, err := ReadFile(context.Background(), path, defaults)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
