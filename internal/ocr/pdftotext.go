package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"

	"github.com/rotisserie/eris"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractPage runs pdftotext -layout on a single page and returns stdout.
// Page numbers are 1-based.
func (p *PdfToText) ExtractPage(ctx context.Context, pdfPath string, pageNumber int) (string, error) {
	page := strconv.Itoa(pageNumber)
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-f", page, "-l", page, pdfPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext failed for %s page %d: %s", pdfPath, pageNumber, stderr.String())
	}

	return stdout.String(), nil
}
