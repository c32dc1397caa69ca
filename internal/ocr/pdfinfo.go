package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// PdfInfo reads PDF metadata using the pdfinfo CLI tool.
type PdfInfo struct {
	binPath string
}

// NewPdfInfo creates a PdfInfo reader. If binPath is empty, "pdfinfo" is used.
func NewPdfInfo(binPath string) *PdfInfo {
	if binPath == "" {
		binPath = "pdfinfo"
	}
	return &PdfInfo{binPath: binPath}
}

// PageCount returns the number of pages in the PDF.
func (p *PdfInfo) PageCount(ctx context.Context, pdfPath string) (int, error) {
	cmd := exec.CommandContext(ctx, p.binPath, pdfPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, eris.Wrapf(err, "ocr: pdfinfo failed for %s: %s", pdfPath, stderr.String())
	}

	n, err := parsePageCount(stdout.String())
	if err != nil {
		return 0, eris.Wrapf(err, "ocr: pdfinfo output for %s", pdfPath)
	}
	return n, nil
}

func parsePageCount(output string) (int, error) {
	for _, line := range strings.Split(output, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found || strings.TrimSpace(key) != "Pages" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, eris.Wrapf(err, "parse page count %q", value)
		}
		return n, nil
	}
	return 0, eris.New("no Pages line")
}
