package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/takeoff-worker/internal/blob"
	"github.com/sells-group/takeoff-worker/internal/escalate"
	"github.com/sells-group/takeoff-worker/internal/estimator"
	"github.com/sells-group/takeoff-worker/internal/evidence"
	"github.com/sells-group/takeoff-worker/internal/fastpath"
	"github.com/sells-group/takeoff-worker/internal/ocr"
	"github.com/sells-group/takeoff-worker/internal/scorer"
	"github.com/sells-group/takeoff-worker/internal/stager"
	"github.com/sells-group/takeoff-worker/internal/store"
	"github.com/sells-group/takeoff-worker/internal/worker"
	"github.com/sells-group/takeoff-worker/pkg/anthropic"
)

// workerEnv holds the initialized store and pipeline shared by the
// work and serve commands.
type workerEnv struct {
	Store    store.Store
	Pipeline *worker.Pipeline
	Escalate *escalate.Controller
}

// Close releases resources held by the environment.
func (we *workerEnv) Close() {
	if we.Store != nil {
		_ = we.Store.Close()
	}
}

// initWorker opens the store, runs migrations, and wires the extraction
// pipeline. Callers should defer env.Close().
func initWorker(ctx context.Context) (*workerEnv, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	optical, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	direct := ocr.NewPdfToText(cfg.OCR.PdfToTextPath)
	info := ocr.NewPdfInfo(cfg.OCR.PdfInfoPath)
	reader := ocr.NewPageReader(direct, optical, cfg.OCR)

	sc, err := scorer.New(cfg.Scorer)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	est := estimator.New(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic)

	pipe := worker.NewPipeline(
		st,
		stager.New(blob.NewClient(cfg.Blob), info, direct),
		sc,
		reader,
		fastpath.New(cfg.FastPath),
		est,
		evidence.NewWriter(st),
		cfg.Worker,
		cfg.Anthropic.Model,
	)

	return &workerEnv{
		Store:    st,
		Pipeline: pipe,
		Escalate: escalate.New(st, cfg.Escalate),
	}, nil
}
