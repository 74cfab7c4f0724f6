package report

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/sirupsen/logrus"

	"github.com/c-answer-server/internal/domain"
)

// Layout constants, in points on a letter-size page.
const (
	pageMarginPt   = 54.0 // 0.75 inch
	bodyFontSizePt = 10.0
	lineHeightPt   = 14.0
	bottomLimitPt  = 738.0 // 792 - margin; new page when the cursor passes this
)

// PDFBuilder renders the saved-trial set into a fixed-layout PDF.
type PDFBuilder struct {
	logger *logrus.Logger
}

// NewPDFBuilder creates a PDF report builder.
func NewPDFBuilder(logger *logrus.Logger) *PDFBuilder {
	if logger == nil {
		logger = logrus.New()
	}
	return &PDFBuilder{logger: logger}
}

var _ domain.ReportBuilder = (*PDFBuilder)(nil)

// Build renders the shortlist plus optional narrative sections. Empty
// landscape or comparison sections are omitted entirely. All text is
// sanitized before layout so rendering cannot fail on input characters.
func (b *PDFBuilder) Build(entries []domain.ShortlistEntry, profileText, landscape, comparison string) ([]byte, error) {
	pdf := gofpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(pageMarginPt, pageMarginPt, pageMarginPt)
	pdf.SetAutoPageBreak(false, pageMarginPt)
	pdf.AddPage()

	b.heading(pdf, "Clinical Trial Report", 18)
	pdf.Ln(lineHeightPt)

	if profileText != "" {
		b.section(pdf, "Patient Profile", profileText)
	}

	if landscape != "" {
		b.section(pdf, "Treatment Landscape", landscape)
	}

	b.heading(pdf, fmt.Sprintf("Saved Trials (%d)", len(entries)), 14)
	for i, entry := range entries {
		b.trialBlock(pdf, i+1, entry)
	}

	if comparison != "" {
		b.section(pdf, "Trial Comparison", comparison)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"trials": len(entries),
		"bytes":  buf.Len(),
	}).Info("Report generated")

	return buf.Bytes(), nil
}

// ensureRoom starts a new page when the next block would overflow the
// bottom margin.
func (b *PDFBuilder) ensureRoom(pdf *gofpdf.Fpdf, needed float64) {
	if pdf.GetY()+needed > bottomLimitPt {
		pdf.AddPage()
	}
}

func (b *PDFBuilder) heading(pdf *gofpdf.Fpdf, text string, size float64) {
	b.ensureRoom(pdf, size+lineHeightPt)
	pdf.SetFont("Helvetica", "B", size)
	pdf.MultiCell(0, size+4, Sanitize(text), "", "L", false)
	pdf.Ln(4)
}

func (b *PDFBuilder) body(pdf *gofpdf.Fpdf, text string) {
	pdf.SetFont("Helvetica", "", bodyFontSizePt)
	clean := Sanitize(text)

	// MultiCell paginates line by line through the running-Y check, so a
	// long section splits rather than overflowing.
	w, _ := pdf.GetPageSize()
	usable := w - 2*pageMarginPt
	for _, line := range pdf.SplitText(clean, usable) {
		b.ensureRoom(pdf, lineHeightPt)
		pdf.MultiCell(0, lineHeightPt, line, "", "L", false)
	}
	pdf.Ln(lineHeightPt / 2)
}

func (b *PDFBuilder) section(pdf *gofpdf.Fpdf, title, text string) {
	b.heading(pdf, title, 14)
	b.body(pdf, text)
	pdf.Ln(lineHeightPt / 2)
}

func (b *PDFBuilder) trialBlock(pdf *gofpdf.Fpdf, index int, entry domain.ShortlistEntry) {
	b.ensureRoom(pdf, 3*lineHeightPt)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.MultiCell(0, lineHeightPt, Sanitize(fmt.Sprintf("%d. %s (%s)", index, entry.Title, entry.NCTID)), "", "L", false)

	pdf.SetFont("Helvetica", "I", bodyFontSizePt)
	status := entry.VerdictStatus
	if status == "" {
		status = domain.NotAnalyzed
	}
	pdf.MultiCell(0, lineHeightPt, Sanitize("Eligibility: "+status), "", "L", false)

	if entry.VerdictRationale != "" {
		b.body(pdf, entry.VerdictRationale)
	}
	if entry.Summary != "" {
		b.body(pdf, entry.Summary)
	}
	pdf.Ln(lineHeightPt / 2)
}
