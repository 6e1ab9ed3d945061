package invbot

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfHeaderFontSize = 16.0
	pdfBodyFontSize   = 11.0
	pdfLineHeight     = 6.0

	// defaultMaxBodyLines caps free-text body length. Content beyond
	// the cap is cut deterministically and flagged as truncated -
	// trailing content is never dropped silently.
	defaultMaxBodyLines = 2000

	truncationMarker = "... (content truncated)"

	documentHeader = "INTERNAL DOCUMENT"
	invoiceHeader  = "TAX INVOICE"
	receiptHeader  = "RECEIPT"
	reportHeader   = "DOCUMENT REPORT"
)

// RenderResult describes a rendered artifact: the filename to attach
// it under, and whether any body content was truncated.
type RenderResult struct {
	Filename  string
	Truncated bool
}

// Renderer turns persisted records into printable PDF documents.
// Rendering is deterministic: the same record always yields the same
// bytes. Every record field appears in the output.
type Renderer interface {
	RenderDocument(doc *Document) ([]byte, RenderResult, error)
	RenderInvoice(inv *Invoice) ([]byte, RenderResult, error)
	RenderReceipt(rec *Receipt) ([]byte, RenderResult, error)

	// RenderDocumentReport renders a summary listing of documents,
	// one row per record, for the audit/report command.
	RenderDocumentReport(
		docs []Document,
		generatedBy string,
		generatedAt time.Time,
	) ([]byte, RenderResult, error)
}

type pdfRenderer struct {
	maxBodyLines int
	logger       *slog.Logger
}

// NewPDFRenderer returns the default A4 fixed-layout PDF renderer.
func NewPDFRenderer(log *slog.Logger) Renderer {
	if log == nil {
		log = slog.Default()
	}
	return &pdfRenderer{
		maxBodyLines: defaultMaxBodyLines,
		logger:       log.With(loggerNameKey, "pdf_renderer"),
	}
}

func formatRecordTime(unixMilli int64) string {
	return time.UnixMilli(unixMilli).UTC().Format("2006-01-02 15:04")
}

// renderPage draws a header line followed by body lines, paginating
// automatically when the page boundary is exceeded. The PDF creation
// date is pinned to the record's creation time so output bytes are
// reproducible.
func (r *pdfRenderer) renderPage(
	header string,
	lines []string,
	createdAt time.Time,
) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(createdAt.UTC())
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", pdfHeaderFontSize)
	pdf.CellFormat(0, 10, header, "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", pdfBodyFontSize)
	for _, line := range lines {
		pdf.CellFormat(0, pdfLineHeight, line, "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// capBody enforces the body line cap, returning the (possibly cut)
// lines and whether truncation occurred.
func (r *pdfRenderer) capBody(lines []string) ([]string, bool) {
	if len(lines) <= r.maxBodyLines {
		return lines, false
	}
	capped := make([]string, r.maxBodyLines, r.maxBodyLines+1)
	copy(capped, lines[:r.maxBodyLines])
	capped = append(capped, truncationMarker)
	return capped, true
}

func (r *pdfRenderer) RenderDocument(doc *Document) ([]byte, RenderResult, error) {
	body, truncated := r.capBody(strings.Split(doc.Content, "\n"))

	lines := []string{
		fmt.Sprintf("No: %s", doc.SequenceNumber),
		fmt.Sprintf("Type: %s", doc.Type.Label()),
		fmt.Sprintf("Subject: %s", doc.Title),
		fmt.Sprintf("Date: %s", formatRecordTime(doc.CreatedAt)),
		fmt.Sprintf("Issued by: %s", doc.Username),
		"",
	}
	lines = append(lines, body...)

	data, err := r.renderPage(documentHeader, lines, time.UnixMilli(doc.CreatedAt))
	if err != nil {
		return nil, RenderResult{}, err
	}
	result := RenderResult{
		Filename:  doc.SequenceNumber + ".pdf",
		Truncated: truncated,
	}
	if truncated {
		r.logger.Warn(
			"document body truncated",
			"sequence_number", doc.SequenceNumber,
			"max_lines", r.maxBodyLines,
		)
	}
	return data, result, nil
}

func (r *pdfRenderer) RenderInvoice(inv *Invoice) ([]byte, RenderResult, error) {
	lines := []string{
		fmt.Sprintf("No: %s", inv.SequenceNumber),
		fmt.Sprintf("Customer: %s", inv.Customer),
		fmt.Sprintf("Date: %s", formatRecordTime(inv.CreatedAt)),
		fmt.Sprintf("Issued by: %s", inv.Username),
		"",
	}
	for _, item := range inv.Items {
		lines = append(
			lines,
			fmt.Sprintf(
				"%s - %d x %s = %s",
				item.Name,
				item.Quantity,
				item.UnitPrice.StringFixed(2),
				item.Amount().StringFixed(2),
			),
		)
	}
	lines = append(
		lines,
		"",
		fmt.Sprintf("Subtotal: %s", inv.Subtotal.StringFixed(2)),
		fmt.Sprintf("VAT (7%%): %s", inv.Tax.StringFixed(2)),
		fmt.Sprintf("Grand Total: %s", inv.GrandTotal.StringFixed(2)),
	)

	data, err := r.renderPage(invoiceHeader, lines, time.UnixMilli(inv.CreatedAt))
	if err != nil {
		return nil, RenderResult{}, err
	}
	return data, RenderResult{Filename: inv.SequenceNumber + ".pdf"}, nil
}

func (r *pdfRenderer) RenderReceipt(rec *Receipt) ([]byte, RenderResult, error) {
	body, truncated := r.capBody(strings.Split(rec.ItemsDescription, "\n"))

	lines := []string{
		fmt.Sprintf("No: %s", rec.SequenceNumber),
		fmt.Sprintf("Shop: %s", rec.Shop),
		fmt.Sprintf("Customer: %s", rec.Customer),
		fmt.Sprintf("Date: %s", formatRecordTime(rec.CreatedAt)),
		"",
	}
	lines = append(lines, body...)
	lines = append(
		lines,
		"",
		fmt.Sprintf("Amount: %s", rec.Total.StringFixed(2)),
	)

	data, err := r.renderPage(receiptHeader, lines, time.UnixMilli(rec.CreatedAt))
	if err != nil {
		return nil, RenderResult{}, err
	}
	return data, RenderResult{
		Filename:  rec.SequenceNumber + ".pdf",
		Truncated: truncated,
	}, nil
}

func (r *pdfRenderer) RenderDocumentReport(
	docs []Document,
	generatedBy string,
	generatedAt time.Time,
) ([]byte, RenderResult, error) {
	lines := []string{
		fmt.Sprintf("Generated: %s", generatedAt.UTC().Format("2006-01-02 15:04")),
		fmt.Sprintf("Generated by: %s", generatedBy),
		fmt.Sprintf("Documents: %d", len(docs)),
		"",
	}
	for _, doc := range docs {
		lines = append(
			lines,
			fmt.Sprintf(
				"%s | %s | %s | %s | %s",
				doc.SequenceNumber,
				doc.Type.Label(),
				doc.Title,
				doc.Username,
				formatRecordTime(doc.CreatedAt),
			),
		)
	}
	body, truncated := r.capBody(lines)

	data, err := r.renderPage(reportHeader, body, generatedAt)
	if err != nil {
		return nil, RenderResult{}, err
	}
	return data, RenderResult{
		Filename:  "document-report.pdf",
		Truncated: truncated,
	}, nil
}
