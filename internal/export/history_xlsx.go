package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const historySheet = "History"

// RenderXLSX writes one row per history entry, newest first.
func RenderXLSX(r HistoryReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", historySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headers := []interface{}{"Time (UTC)", "From state", "To state", "User", "Comment", "Entry ID"}
	if err := f.SetSheetRow(historySheet, "A1", &headers); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#E9ECEF"}},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	if err := f.SetCellStyle(historySheet, "A1", "F1", bold); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, e := range r.Entries {
		comment := ""
		if e.Comment != nil {
			comment = *e.Comment
		}
		from := e.FromStateName
		if e.FromStateID == nil {
			from = "(created)"
		}
		row := []interface{}{
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			from,
			e.ToStateName,
			userLabel(e),
			comment,
			e.ID,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(historySheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	for col, width := range map[string]float64{"A": 20, "B": 22, "C": 22, "D": 22, "E": 60, "F": 10} {
		if err := f.SetColWidth(historySheet, col, col, width); err != nil {
			return nil, err
		}
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   fmt.Sprintf("Lead #%d state history", r.LeadID),
		Subject: r.LeadTitle,
		Creator: "brokercrm",
	}); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
