// Package ocr extracts per-page text from PDFs, escalating from direct
// extraction to optical recognition when a page looks like a scanned
// schedule.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/takeoff-worker/internal/config"
)

// Extractor produces text for a single PDF page via optical recognition.
type Extractor interface {
	ExtractPage(ctx context.Context, pdfPath string, pageNumber int) (string, error)
}

// NewExtractor creates the optical Extractor from config. Returns nil
// when no OCR provider is configured; escalation is then skipped.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	if cfg.MistralKey == "" {
		return nil, nil
	}
	if cfg.Mode != "smart" && cfg.Mode != "full" && cfg.Mode != "" {
		return nil, eris.Errorf("ocr: unknown mode %q", cfg.Mode)
	}
	return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
}
