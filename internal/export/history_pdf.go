// Package export renders the state history of a lead as PDF or XLSX.
package export

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/jung-kurt/gofpdf"

	"brokercrm/internal/models"
)

// HistoryReport is everything a history document shows.
type HistoryReport struct {
	LeadID      int64
	LeadTitle   string
	Entries     []models.HistoryEntry
	GeneratedAt time.Time
}

// PDFRenderer uses the TTF at FontPath for Cyrillic text and falls back to
// the core Helvetica font when no font file is configured.
type PDFRenderer struct {
	FontPath string
	fontName string
}

func NewPDFRenderer(fontPath string) *PDFRenderer {
	return &PDFRenderer{FontPath: fontPath, fontName: "DejaVu"}
}

func (g *PDFRenderer) Render(r HistoryReport) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Lead #%d state history", r.LeadID), true)
	pdf.SetAuthor("brokercrm", true)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)

	font, tr := g.setupFont(pdf)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(font, "", 9)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont(font, "B", 16)
	pdf.CellFormat(0, 10, tr(fmt.Sprintf("Lead #%d: %s", r.LeadID, r.LeadTitle)), "", 1, "L", false, 0, "")
	pdf.SetFont(font, "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("State history, %d entries, generated %s",
		len(r.Entries), r.GeneratedAt.UTC().Format("2006-01-02 15:04 MST")), "", 1, "L", false, 0, "")
	hr(pdf)

	widths := []float64{38, 50, 50, 45, 84}
	headers := []string{"Time (UTC)", "From", "To", "User", "Comment"}
	pdf.SetFont(font, "B", 10)
	pdf.SetFillColor(233, 236, 239)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont(font, "", 9)
	for _, e := range r.Entries {
		comment := ""
		if e.Comment != nil {
			comment = *e.Comment
		}
		from := e.FromStateName
		if e.FromStateID == nil {
			from = "(created)"
		}
		cells := []string{
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			tr(from),
			tr(e.ToStateName),
			tr(userLabel(e)),
			tr(comment),
		}
		g.row(pdf, widths, cells)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render history pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// row draws one table row; the comment column wraps and sets the row height.
func (g *PDFRenderer) row(pdf *gofpdf.Fpdf, widths []float64, cells []string) {
	const lineH = 5.0
	last := len(cells) - 1
	lines := pdf.SplitLines([]byte(cells[last]), widths[last]-2)
	h := lineH * float64(max(1, len(lines)))

	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	if pdf.GetY()+h > pageH-bottom {
		pdf.AddPage()
	}
	x, y := pdf.GetXY()
	for i := 0; i < last; i++ {
		pdf.Rect(x, y, widths[i], h, "D")
		pdf.CellFormat(widths[i], lineH, cells[i], "", 0, "L", false, 0, "")
		x += widths[i]
		pdf.SetXY(x, y)
	}
	pdf.Rect(x, y, widths[last], h, "D")
	pdf.MultiCell(widths[last], lineH, cells[last], "", "L", false)
	pdf.SetXY(15, y+h)
}

func (g *PDFRenderer) setupFont(pdf *gofpdf.Fpdf) (string, func(string) string) {
	if g.FontPath != "" {
		if _, err := os.Stat(g.FontPath); err == nil {
			pdf.AddUTF8Font(g.fontName, "", g.FontPath)
			pdf.AddUTF8Font(g.fontName, "B", g.FontPath)
			return g.fontName, func(s string) string { return s }
		}
	}
	// без TTF доступен только cp1252
	return "Helvetica", pdf.UnicodeTranslatorFromDescriptor("")
}

func hr(pdf *gofpdf.Fpdf) {
	left, _, right, _ := pdf.GetMargins()
	w, _ := pdf.GetPageSize()
	y := pdf.GetY() + 1.5
	pdf.SetLineWidth(0.2)
	pdf.Line(left, y, w-right, y)
	pdf.SetY(y + 3)
}

func userLabel(e models.HistoryEntry) string {
	if e.UserName != "" {
		return e.UserName
	}
	return fmt.Sprintf("user #%d", e.UserID)
}
