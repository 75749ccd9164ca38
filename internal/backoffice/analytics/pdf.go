package analytics

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
)

var (
	colorPrimary     = [3]int{30, 58, 95}
	colorAccent      = [3]int{46, 204, 113}
	colorDanger      = [3]int{231, 76, 60}
	colorTextDark    = [3]int{44, 62, 80}
	colorTextMuted   = [3]int{127, 140, 141}
	colorTableAlt    = [3]int{241, 245, 249}
	colorTableHeader = [3]int{30, 58, 95}
	colorGridLine    = [3]int{220, 220, 220}
)

type pdfColumn struct {
	title string
	width float64
	align string
}

var pdfColumns = []pdfColumn{
	{"Customer", 38, "L"},
	{"Email", 44, "L"},
	{"Product", 40, "L"},
	{"Qty", 10, "R"},
	{"Total", 20, "R"},
	{"Status", 18, "C"},
}

func renderPDF(subs []*store.SubscriptionDetail, start, end, generated time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 25)
	pdf.SetTitle("Subscription Report", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	writePDFHeader(pdf, start, end, generated)
	writePDFSummary(pdf, subs)
	writePDFTable(pdf, subs, tr)
	addPDFPageNumbers(pdf)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func writePDFHeader(pdf *fpdf.Fpdf, start, end, generated time.Time) {
	pageWidth, _ := pdf.GetPageSize()

	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(15)
	pdf.SetFont("Arial", "B", 20)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 10, "Subscription Report", "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, fmt.Sprintf("Period: %s  -  %s",
		start.Format("2 January 2006"), end.Format("2 January 2006")), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", generated.Format("2 January 2006 at 15:04 MST")), "", 1, "L", false, 0, "")
	pdf.Ln(4)
}

func writePDFSummary(pdf *fpdf.Fpdf, subs []*store.SubscriptionDetail) {
	var active, cancelled int
	var total int64
	for _, sub := range subs {
		if sub.CancelledAt == nil {
			active++
		} else {
			cancelled++
		}
		total += recurringAmount(sub)
	}

	cards := []struct {
		label string
		value string
		color [3]int
	}{
		{"SUBSCRIPTIONS", fmt.Sprintf("%d", len(subs)), colorPrimary},
		{"ACTIVE", fmt.Sprintf("%d", active), colorAccent},
		{"CANCELLED", fmt.Sprintf("%d", cancelled), colorDanger},
		{"RECURRING TOTAL", formatMajor(total), colorPrimary},
	}

	pageWidth, _ := pdf.GetPageSize()
	cardWidth := (pageWidth - 30 - 3*4) / 4
	y := pdf.GetY()
	for i, c := range cards {
		x := 15 + float64(i)*(cardWidth+4)
		pdf.SetFillColor(c.color[0], c.color[1], c.color[2])
		pdf.RoundedRect(x, y, cardWidth, 20, 2, "1234", "F")
		pdf.SetXY(x, y+3)
		pdf.SetFont("Arial", "B", 8)
		pdf.SetTextColor(255, 255, 255)
		pdf.CellFormat(cardWidth, 5, c.label, "", 2, "C", false, 0, "")
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(cardWidth, 9, c.value, "", 0, "C", false, 0, "")
	}
	pdf.SetY(y + 28)
}

func writePDFTable(pdf *fpdf.Fpdf, subs []*store.SubscriptionDetail, tr func(string) string) {
	writeHeaderRow := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
		pdf.SetTextColor(255, 255, 255)
		for _, col := range pdfColumns {
			pdf.CellFormat(col.width, 7, col.title, "", 0, col.align, true, 0, "")
		}
		pdf.Ln(-1)
	}

	if len(subs) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 8, "No subscriptions were created in this period.", "", 1, "L", false, 0, "")
		return
	}

	_, pageHeight := pdf.GetPageSize()
	writeHeaderRow()
	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	for i, sub := range subs {
		if pdf.GetY()+6 > pageHeight-25 {
			pdf.AddPage()
			writeHeaderRow()
		}
		status := "Active"
		if sub.CancelledAt != nil {
			status = "Cancelled"
		}
		values := []string{
			tr(truncate(sub.User.Name, 24)),
			tr(truncate(sub.User.Email, 30)),
			tr(truncate(sub.Product.Name, 26)),
			fmt.Sprintf("%d", sub.Quantity),
			formatMajor(recurringAmount(sub)),
			status,
		}

		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		for j, col := range pdfColumns {
			pdf.CellFormat(col.width, 6, values[j], "B", 0, col.align, fill, 0, "")
		}
		pdf.Ln(-1)
	}
}

func addPDFPageNumbers(pdf *fpdf.Fpdf) {
	pdf.SetAutoPageBreak(false, 0)
	total := pdf.PageCount()
	for i := 1; i <= total; i++ {
		pdf.SetPage(i)
		_, pageHeight := pdf.GetPageSize()
		pdf.SetY(pageHeight - 15)
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d of %d", i, total), "", 0, "C", false, 0, "")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "..."
}
