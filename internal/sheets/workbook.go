package sheets

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// WriteWorkbook saves the export tabs as a local .xlsx file.
func WriteWorkbook(path string, export Export) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, tab := range Tabs(export) {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), tab.Title); err != nil {
				return fmt.Errorf("failed to rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(tab.Title); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", tab.Title, err)
		}

		for r, row := range tab.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(tab.Title, cell, &row); err != nil {
				return fmt.Errorf("failed to write %s row %d: %w", tab.Title, r+1, err)
			}
		}

		last, err := excelize.CoordinatesToCellName(len(tab.Rows[0]), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(tab.Title, "A1", last, header); err != nil {
			return fmt.Errorf("failed to style %s header: %w", tab.Title, err)
		}
		if err := f.SetPanes(tab.Title, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return fmt.Errorf("failed to freeze %s header: %w", tab.Title, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}
