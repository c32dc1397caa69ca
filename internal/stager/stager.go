// Package stager pulls a job's documents into a local working directory.
package stager

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff-worker/internal/blob"
	"github.com/sells-group/takeoff-worker/internal/model"
)

// PageCounter reads a PDF's page count.
type PageCounter interface {
	PageCount(ctx context.Context, pdfPath string) (int, error)
}

// FirstPageReader samples a page's direct text, used to feed the scorer.
type FirstPageReader interface {
	ExtractPage(ctx context.Context, pdfPath string, pageNumber int) (string, error)
}

// Stager downloads job documents and backfills missing page counts.
type Stager struct {
	fetcher blob.Fetcher
	info    PageCounter
	reader  FirstPageReader
}

// New creates a Stager.
func New(fetcher blob.Fetcher, info PageCounter, reader FirstPageReader) *Stager {
	return &Stager{fetcher: fetcher, info: info, reader: reader}
}

// Staging is a job-scoped working directory holding downloaded documents.
// Release it on every exit path.
type Staging struct {
	Dir  string
	Docs []model.StagedDocument
	// PageCountUpdates maps document id to a freshly measured page count
	// for documents the scraper recorded without one.
	PageCountUpdates map[string]int
}

// Cleanup removes the working directory and everything in it.
func (s *Staging) Cleanup() {
	if s == nil || s.Dir == "" {
		return
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		zap.L().Warn("staging cleanup failed", zap.String("dir", s.Dir), zap.Error(err))
	}
}

// Stage downloads every document into a fresh temp directory. A document
// that fails to download is logged and skipped; staging fails only when
// nothing could be downloaded. The caller owns the returned Staging and
// must call Cleanup.
func (s *Stager) Stage(ctx context.Context, jobID string, docs []model.Document) (*Staging, error) {
	if len(docs) == 0 {
		return nil, eris.New("stager: job has no documents")
	}

	dir, err := os.MkdirTemp("", "takeoff-"+jobID+"-")
	if err != nil {
		return nil, eris.Wrap(err, "stager: create temp dir")
	}
	staging := &Staging{Dir: dir, PageCountUpdates: make(map[string]int)}

	for _, doc := range docs {
		localPath := filepath.Join(dir, SanitizeFilename(doc.Filename))

		n, err := s.fetcher.DownloadToFile(ctx, doc.StoragePath, localPath)
		if err != nil {
			zap.L().Warn("document download failed, skipping",
				zap.String("job_id", jobID),
				zap.String("document_id", doc.ID),
				zap.String("filename", doc.Filename),
				zap.Error(err),
			)
			continue
		}
		zap.L().Debug("document staged",
			zap.String("document_id", doc.ID),
			zap.String("path", localPath),
			zap.Int64("bytes", n),
		)

		if doc.PageCount == 0 && s.info != nil {
			count, err := s.info.PageCount(ctx, localPath)
			if err != nil {
				zap.L().Warn("page count probe failed",
					zap.String("document_id", doc.ID),
					zap.Error(err),
				)
			} else {
				doc.PageCount = count
				staging.PageCountUpdates[doc.ID] = count
			}
		}

		staged := model.StagedDocument{Document: doc, LocalPath: localPath}
		if s.reader != nil {
			text, err := s.reader.ExtractPage(ctx, localPath, 1)
			if err != nil {
				zap.L().Debug("first page sample failed",
					zap.String("document_id", doc.ID),
					zap.Error(err),
				)
			} else {
				staged.FirstPage = text
			}
		}
		staging.Docs = append(staging.Docs, staged)
	}

	if len(staging.Docs) == 0 {
		staging.Cleanup()
		return nil, eris.Errorf("stager: no documents downloaded for job %s", jobID)
	}
	return staging, nil
}

// SanitizeFilename strips path separators and control characters so a
// scraper-supplied name cannot escape the staging directory.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == 0:
			b.WriteRune('_')
		case r < 0x20:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" || out == "." || out == ".." {
		return "document.pdf"
	}
	return out
}
