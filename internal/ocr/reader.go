package ocr

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/takeoff-worker/internal/config"
	"github.com/sells-group/takeoff-worker/internal/model"
)

// DirectExtractor produces a page's text without optical recognition.
type DirectExtractor interface {
	ExtractPage(ctx context.Context, pdfPath string, pageNumber int) (string, error)
}

// PageReader walks a document page by page, extracting text directly
// and escalating individual pages to optical recognition per the
// configured heuristic.
type PageReader struct {
	direct  DirectExtractor
	optical Extractor // nil disables escalation
	cfg     config.OCRConfig
}

// NewPageReader creates a PageReader. optical may be nil.
func NewPageReader(direct DirectExtractor, optical Extractor, cfg config.OCRConfig) *PageReader {
	return &PageReader{direct: direct, optical: optical, cfg: cfg}
}

// ScanWindow returns how many pages of a document get read, bounded by
// the per-document cap.
func (r *PageReader) ScanWindow(pageCount int) int {
	if r.cfg.MaxPagesPerDoc > 0 && pageCount > r.cfg.MaxPagesPerDoc {
		return r.cfg.MaxPagesPerDoc
	}
	return pageCount
}

// ReadPages extracts text for every page in the scan window. A page
// whose direct extraction fails is logged and skipped; an escalated
// page whose optical pass fails keeps its direct text. The returned
// slice is ordered by page number.
func (r *PageReader) ReadPages(ctx context.Context, doc model.Document, localPath string) ([]model.PageText, error) {
	window := r.ScanWindow(doc.PageCount)
	pages := make([]model.PageText, 0, window)

	for pageNumber := 1; pageNumber <= window; pageNumber++ {
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		text, err := r.direct.ExtractPage(ctx, localPath, pageNumber)
		if err != nil {
			zap.L().Warn("page extraction failed, skipping page",
				zap.String("document_id", doc.ID),
				zap.String("filename", doc.Filename),
				zap.Int("page", pageNumber),
				zap.Error(err),
			)
			continue
		}

		method := model.MethodPdfToText
		if r.optical != nil && ShouldEscalate(r.cfg.Mode, r.cfg.MinDirectChars, r.cfg.EarlyPages, r.cfg.LatePages, text, pageNumber, window) {
			ocrText, ocrErr := r.optical.ExtractPage(ctx, localPath, pageNumber)
			if ocrErr != nil {
				zap.L().Warn("optical escalation failed, keeping direct text",
					zap.String("document_id", doc.ID),
					zap.Int("page", pageNumber),
					zap.Error(ocrErr),
				)
			} else {
				text = ocrText
				method = model.MethodOCR
			}
		}

		pages = append(pages, model.PageText{
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			PageNumber: pageNumber,
			Method:     method,
			Text:       text,
		})
	}

	return pages, nil
}
