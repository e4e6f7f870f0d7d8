package reporter

import (
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/kluth/npm-feature-extractor/internal/features"
)

// pdfPositionLimit is the number of positions listed per feature.
const pdfPositionLimit = 3

func (r *Reporter) renderPDF(reports []Report) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("Generated %s - page %d", time.Now().UTC().Format(time.RFC3339), pdf.PageNo()),
			"", 0, "C", false, 0, "")
	})

	for _, report := range reports {
		addReportToPDF(pdf, tr, report)
	}
	if len(reports) > 1 {
		addSummaryToPDF(pdf, tr, reports)
	}

	return pdf.Output(r.writer)
}

func addReportToPDF(pdf *fpdf.Fpdf, tr func(string) string, report Report) {
	pdf.AddPage()
	rec := &report.Features

	red := []int{215, 58, 73}
	gray := []int{106, 115, 125}
	dark := []int{36, 41, 46}
	green := []int{40, 167, 69}

	pdf.SetFont("Arial", "B", 18)
	pdf.SetTextColor(dark[0], dark[1], dark[2])
	pdf.Cell(0, 12, tr("Feature report: "+displayID(rec)))
	pdf.Ln(12)

	pdf.SetFillColor(246, 248, 250)
	pdf.Rect(10, pdf.GetY(), 190, 22, "F")
	pdf.SetY(pdf.GetY() + 3)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(95, 6, fmt.Sprintf("  Dependencies: %d (%d dev)", rec.DependencyCount, rec.DevDependencyCount))
	pdf.Cell(95, 6, fmt.Sprintf("Files: %d visited, %d analyzed", rec.Stats.FilesVisited, rec.Stats.FilesAnalyzed))
	pdf.Ln(6)
	pdf.Cell(95, 6, fmt.Sprintf("  Oversize: %d  Parse failures: %d", rec.Stats.FilesOversized, rec.Stats.ParseFailures))
	pdf.Cell(95, 6, fmt.Sprintf("Avg. syntax nodes: %.1f", rec.Stats.AverageSyntaxNodes()))
	pdf.Ln(12)

	if len(rec.InstallCommands) > 0 {
		pdf.SetFont("Arial", "B", 11)
		pdf.Cell(0, 6, "Install scripts")
		pdf.Ln(6)
		pdf.SetFont("Courier", "", 8)
		for _, cmd := range rec.InstallCommands {
			pdf.MultiCell(0, 4, tr(truncate(cmd, 200)), "", "", false)
		}
		pdf.Ln(4)
	}

	raised := rec.Raised()
	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(0, 6, fmt.Sprintf("Features (%d/%d raised)", len(raised), len(features.AllFlags())))
	pdf.Ln(8)
	if len(raised) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(green[0], green[1], green[2])
		pdf.Cell(0, 10, "No features raised.")
		pdf.SetTextColor(dark[0], dark[1], dark[2])
		return
	}

	for _, f := range raised {
		pos := report.Positions.Get(f)

		pdf.SetFont("Arial", "B", 10)
		pdf.SetTextColor(red[0], red[1], red[2])
		pdf.Cell(0, 6, fmt.Sprintf("%s (%d)", f.Key(), len(pos)))
		pdf.Ln(5)

		pdf.SetFont("Arial", "I", 8)
		pdf.SetTextColor(gray[0], gray[1], gray[2])
		pdf.Cell(0, 4, Describe(f))
		pdf.Ln(4)

		pdf.SetFont("Courier", "", 7)
		pdf.SetTextColor(dark[0], dark[1], dark[2])
		for i, p := range pos {
			if i == pdfPositionLimit {
				pdf.Cell(0, 4, fmt.Sprintf("+ %d more", len(pos)-pdfPositionLimit))
				pdf.Ln(4)
				break
			}
			pdf.MultiCell(0, 4, tr(truncate(FormatPosition(p), 140)), "", "", false)
		}

		pdf.Ln(2)
		pdf.SetDrawColor(234, 236, 239)
		pdf.Line(10, pdf.GetY(), 200, pdf.GetY())
		pdf.Ln(2)
	}
}

func addSummaryToPDF(pdf *fpdf.Fpdf, tr func(string) string, reports []Report) {
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 12, fmt.Sprintf("Summary (%d packages)", len(reports)))
	pdf.Ln(14)

	widths := []float64{90, 30, 30, 30}
	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(246, 248, 250)
	for i, h := range []string{"Package", "Install", "Raised", "Files"} {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, report := range reports {
		rec := &report.Features
		pdf.CellFormat(widths[0], 6, tr(truncate(displayID(rec), 50)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, fmt.Sprint(rec.Has(features.HasInstallScripts)), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[2], 6, fmt.Sprint(len(rec.Raised())), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[3], 6, fmt.Sprint(rec.Stats.FilesVisited), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}
}
