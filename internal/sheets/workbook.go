package sheets

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/receipt-sheets/internal/scanning"
)

const workbookSheet = "Receipts"

// WriteWorkbook writes records as an XLSX workbook laid out like an exported sheet
func WriteWorkbook(w io.Writer, records []scanning.ReceiptRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", workbookSheet); err != nil {
		return fmt.Errorf("renaming sheet: %w", err)
	}

	if err := f.SetSheetRow(workbookSheet, "A1", &Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	if err := f.SetCellStyle(workbookSheet, "A1", "D1", bold); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}

	for i, r := range records {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := recordRow(r)
		if err := f.SetSheetRow(workbookSheet, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(workbookSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freezing header: %w", err)
	}
	if err := f.AutoFilter(workbookSheet, fmt.Sprintf("A1:D%d", len(records)+1), nil); err != nil {
		return fmt.Errorf("adding filter: %w", err)
	}

	_ = f.SetColWidth(workbookSheet, "A", "A", 14) // date
	_ = f.SetColWidth(workbookSheet, "B", "B", 28) // company
	_ = f.SetColWidth(workbookSheet, "C", "C", 60) // details
	_ = f.SetColWidth(workbookSheet, "D", "D", 14) // amount

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
