package exporter

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"scholarpass/internal/license"
)

// Sheet names of an exported workbook.
const (
	LicensesSheet = "Licenses"
	SummarySheet  = "Summary"
)

var columnWidths = []float64{26, 10, 11, 38, 20, 12}

// WriteXLSX writes ledger to w as an Excel workbook with a Licenses sheet
// and a Summary sheet stamped with generatedAt.
func WriteXLSX(w io.Writer, ledger license.Ledger, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", LicensesSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, LicensesSheet, 1, Headers); err != nil {
		return err
	}
	last, _ := excelize.ColumnNumberToName(len(Headers))
	if err := f.SetCellStyle(LicensesSheet, "A1", last+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	rows := Rows(ledger)
	for i, row := range rows {
		if err := writeRow(f, LicensesSheet, i+2, row); err != nil {
			return err
		}
	}

	for i, width := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(LicensesSheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	if err := f.SetPanes(LicensesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	if len(rows) > 0 {
		ref := fmt.Sprintf("A1:%s%d", last, len(rows)+1)
		if err := f.AutoFilter(LicensesSheet, ref, nil); err != nil {
			return fmt.Errorf("failed to add filter: %w", err)
		}
	}

	if err := writeSummary(f, Summarize(ledger), generatedAt, headerStyle); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, s Summary, generatedAt time.Time, headerStyle int) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	cells := [][]interface{}{
		{"metric", "value"},
		{"total", s.Total},
		{"unused", s.Unused},
		{"used", s.Used},
		{"other", s.Other},
		{"generated_at", generatedAt.Format(time.RFC3339)},
	}
	for i, row := range cells {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("failed to style summary header: %w", err)
	}
	return f.SetColWidth(SummarySheet, "A", "B", 22)
}

func writeRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}
