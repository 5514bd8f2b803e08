package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders transcripts into a simple chat log PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Extension implements Renderer.
func (e *PDFExporter) Extension() string { return "pdf" }

// Render creates a PDF with a title block followed by one entry per message.
func (e *PDFExporter) Render(t Transcript) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(12, 15, 12)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if t.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(t.Title), "", 1, "C", false, 0, "")
	}
	pdf.SetFont("Arial", "", 8)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated %s, %d messages", t.GeneratedAt.UTC().Format(time.RFC1123), len(t.Lines)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	for _, line := range t.Lines {
		header := fmt.Sprintf("%s  %s", line.SentAt.UTC().Format("2006-01-02 15:04"), line.Sender)
		if f := flags(line); f != "" {
			header += "  [" + f + "]"
		}
		if line.ReplyTo != 0 {
			header += fmt.Sprintf("  reply to #%d", line.ReplyTo)
		}
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(0, 5, tr(header), "", 1, "", false, 0, "")

		style := ""
		if line.System {
			style = "I"
		}
		pdf.SetFont("Arial", style, 9)
		pdf.MultiCell(0, 5, tr(line.Content), "", "", false)
		pdf.Ln(2)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
