// Package report renders a student's performance report as PDF.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jung-kurt/gofpdf"

	"github.com/mind-engage/mindengage-exams/internal/performance"
)

const (
	margin     = 15.0
	lineHeight = 8.0
)

// WritePDF writes one A4 report for username to w.
func WritePDF(w io.Writer, username string, rows []performance.ReportRow) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 12, tr("Performance Report - "+username), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 12)
	if len(rows) == 0 {
		pdf.CellFormat(0, lineHeight, "No submissions found.", "", 1, "L", false, 0, "")
	}
	for _, r := range rows {
		line := fmt.Sprintf("Test: %s | Type: %s | Score: %s/%s",
			r.TestTitle, r.TestType, formatMarks(r.Score), formatMarks(r.Possible))
		pdf.MultiCell(0, lineHeight, tr(line), "", "L", false)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return pdf.Output(w)
}

func formatMarks(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
