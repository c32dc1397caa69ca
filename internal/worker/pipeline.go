// Package worker claims jobs and drives them through the extraction
// pipeline: stage, score, fast path, and the estimator fallback.
package worker

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff-worker/internal/config"
	"github.com/sells-group/takeoff-worker/internal/estimator"
	"github.com/sells-group/takeoff-worker/internal/evidence"
	"github.com/sells-group/takeoff-worker/internal/fastpath"
	"github.com/sells-group/takeoff-worker/internal/model"
	"github.com/sells-group/takeoff-worker/internal/scorer"
	"github.com/sells-group/takeoff-worker/internal/stager"
	"github.com/sells-group/takeoff-worker/internal/store"
)

// DocumentStager pulls a job's documents into a local working directory.
type DocumentStager interface {
	Stage(ctx context.Context, jobID string, docs []model.Document) (*stager.Staging, error)
}

// PageSource reads a staged document page by page, escalating to OCR
// where the heuristic calls for it.
type PageSource interface {
	ReadPages(ctx context.Context, doc model.Document, localPath string) ([]model.PageText, error)
}

// Estimator runs the reasoning-service takeoff.
type Estimator interface {
	Estimate(ctx context.Context, tradeCode string, docs []estimator.DocumentInput) (*model.EstimateResult, []model.EvidenceSnippet, error)
}

// GraphWriter persists an estimate as the finding/item graph.
type GraphWriter interface {
	Write(ctx context.Context, run model.Run, tradeCode string, result *model.EstimateResult, snippets []model.EvidenceSnippet, docs []model.Document) (evidence.Stats, error)
}

// Pipeline executes one claimed job end to end. Execution within a job
// is sequential; concurrency lives in the supervisor and inside the
// estimator's fan-out.
type Pipeline struct {
	store  store.Store
	stager DocumentStager
	scorer *scorer.Scorer
	reader PageSource
	fast   *fastpath.Extractor
	est    Estimator
	writer GraphWriter
	cfg    config.WorkerConfig
	model  string
}

// NewPipeline wires the pipeline stages together.
func NewPipeline(s store.Store, st DocumentStager, sc *scorer.Scorer, rd PageSource, fp *fastpath.Extractor, est Estimator, w GraphWriter, cfg config.WorkerConfig, modelName string) *Pipeline {
	return &Pipeline{
		store:  s,
		stager: st,
		scorer: sc,
		reader: rd,
		fast:   fp,
		est:    est,
		writer: w,
		cfg:    cfg,
		model:  modelName,
	}
}

// ProcessJob runs a claimed job to a terminal state. Every exit path
// finalizes the job, the run, and the document rows; the staging
// directory is removed regardless of outcome.
func (p *Pipeline) ProcessJob(ctx context.Context, job *model.Job) {
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("bid_id", job.BidID))

	run, err := p.store.CreateRun(ctx, store.CreateRunParams{
		JobID:            job.ID,
		BidID:            job.BidID,
		UserID:           job.UserID,
		WorkerID:         p.cfg.ID,
		ExtractorVersion: p.cfg.ExtractorVersion,
		Model:            p.model,
	})
	if err != nil {
		log.Error("create run failed", zap.Error(err))
		p.markJobFailed(ctx, job.ID, err)
		return
	}
	log = log.With(zap.String("run_id", run.ID))

	docs, err := p.store.ListJobDocuments(ctx, job.ID)
	if err != nil {
		p.fail(ctx, log, job, run, nil, eris.Wrap(err, "worker: list job documents"))
		return
	}

	staging, err := p.stager.Stage(ctx, job.ID, docs)
	if err != nil {
		p.fail(ctx, log, job, run, docs, err)
		return
	}
	defer staging.Cleanup()

	for docID, pages := range staging.PageCountUpdates {
		if err := p.store.UpdateDocumentPageCount(ctx, docID, pages); err != nil {
			log.Warn("page count backfill failed", zap.String("document_id", docID), zap.Error(err))
		}
	}

	scored := p.scorer.Score(staging.Docs, job.TradeCode)
	if len(scored) == 0 {
		p.fail(ctx, log, job, run, docs, eris.New("worker: no scoreable documents"))
		return
	}
	if err := p.store.InsertFindings(ctx, p.scorer.IndexFindings(run.ID, job.BidID, scored)); err != nil {
		p.fail(ctx, log, job, run, docs, eris.Wrap(err, "worker: persist index findings"))
		return
	}

	paths := make(map[string]string, len(staging.Docs))
	for _, sd := range staging.Docs {
		paths[sd.Document.ID] = sd.LocalPath
	}
	top := p.scorer.Top(scored)
	best := top[0]

	// Fast path runs on the single best candidate before any AI call.
	bestPages, err := p.reader.ReadPages(ctx, best.Document, paths[best.Document.ID])
	if err != nil {
		log.Warn("page read failed", zap.String("document_id", best.Document.ID), zap.Error(err))
		bestPages = nil
	}
	p.saveArtifacts(ctx, log, run.ID, best.Document.ID, bestPages)

	if result := p.fast.ExtractPages(bestPages); p.fast.Accept(best.Score, result) {
		log.Info("fast path accepted",
			zap.String("source_type", result.SourceType),
			zap.Float64("doc_score", best.Score),
			zap.Float64("confidence", result.Confidence),
			zap.Int("entries", len(result.Entries)),
		)
		p.finishFastPath(ctx, log, job, run, staging, best, result)
		return
	}

	// Estimator branch over the top-K documents.
	inputs := make([]estimator.DocumentInput, 0, len(top))
	for i, sd := range top {
		pages := bestPages
		if i > 0 {
			pages, err = p.reader.ReadPages(ctx, sd.Document, paths[sd.Document.ID])
			if err != nil {
				log.Warn("page read failed", zap.String("document_id", sd.Document.ID), zap.Error(err))
				continue
			}
			p.saveArtifacts(ctx, log, run.ID, sd.Document.ID, pages)
		}
		if len(pages) == 0 {
			continue
		}
		inputs = append(inputs, estimator.DocumentInput{Document: sd.Document, Pages: pages})
	}
	if len(inputs) == 0 {
		p.fail(ctx, log, job, run, docs, eris.New("worker: no readable pages in any candidate document"))
		return
	}

	result, snippets, err := p.est.Estimate(ctx, job.TradeCode, inputs)
	if err != nil {
		p.fail(ctx, log, job, run, docs, err)
		return
	}

	estimated := make([]model.Document, 0, len(inputs))
	for _, in := range inputs {
		estimated = append(estimated, in.Document)
	}
	stats, err := p.writer.Write(ctx, *run, job.TradeCode, result, snippets, estimated)
	if err != nil {
		p.fail(ctx, log, job, run, docs, err)
		return
	}

	lines := estimateLineItems(run, best.Document, result)
	if err := p.store.InsertLineItems(ctx, lines); err != nil {
		p.fail(ctx, log, job, run, docs, eris.Wrap(err, "worker: insert line items"))
		return
	}

	summary := &model.RunSummary{
		Kind:          "estimate",
		DocumentCount: len(inputs),
		ItemCount:     stats.Items,
		FindingCount:  stats.Findings + stats.Derived,
	}
	legend := legendFromItems(result.Items)
	p.succeed(ctx, log, job, run, staging.Docs, summary, legend, len(lines), best.Document.ID)
}

// finishFastPath writes the parsed entries directly and completes the
// job without touching the reasoning service.
func (p *Pipeline) finishFastPath(ctx context.Context, log *zap.Logger, job *model.Job, run *model.Run, staging *stager.Staging, best model.ScoredDocument, result *model.ExtractionResult) {
	lines, items := fastPathRows(run, job.TradeCode, best.Document, result)

	if err := p.store.InsertLineItems(ctx, lines); err != nil {
		p.fail(ctx, log, job, run, stagedDocuments(staging), eris.Wrap(err, "worker: insert line items"))
		return
	}
	if err := p.store.UpsertItems(ctx, items); err != nil {
		p.fail(ctx, log, job, run, stagedDocuments(staging), eris.Wrap(err, "worker: upsert items"))
		return
	}

	summary := &model.RunSummary{
		Kind:          "fast_path",
		DocumentCount: len(staging.Docs),
		ItemCount:     len(items),
		FastPath:      true,
		SourceType:    result.SourceType,
	}
	legend := legendFromEntries(result.Entries)
	p.succeed(ctx, log, job, run, staging.Docs, summary, legend, len(lines), best.Document.ID)
}

func (p *Pipeline) succeed(ctx context.Context, log *zap.Logger, job *model.Job, run *model.Run, staged []model.StagedDocument, summary *model.RunSummary, legend map[string]any, lineCount int, primaryDocID string) {
	for _, sd := range staged {
		count := 0
		var docLegend map[string]any
		if sd.Document.ID == primaryDocID {
			count = lineCount
			docLegend = legend
		}
		if err := p.store.UpdateDocumentExtraction(ctx, sd.Document.ID, model.ExtractionCompleted, count, docLegend); err != nil {
			log.Warn("document completion update failed", zap.String("document_id", sd.Document.ID), zap.Error(err))
		}
	}
	if err := p.store.FinishRun(ctx, run.ID, model.RunStatusSucceeded, "", summary); err != nil {
		log.Error("finish run failed", zap.Error(err))
	}
	if err := p.store.MarkJobSucceeded(ctx, job.ID); err != nil {
		log.Error("mark job succeeded failed", zap.Error(err))
		return
	}
	log.Info("job succeeded", zap.String("kind", summary.Kind), zap.Int("items", summary.ItemCount))
}

func (p *Pipeline) fail(ctx context.Context, log *zap.Logger, job *model.Job, run *model.Run, docs []model.Document, cause error) {
	log.Error("job failed", zap.Error(cause))
	for _, d := range docs {
		if err := p.store.UpdateDocumentExtraction(ctx, d.ID, model.ExtractionFailed, 0, nil); err != nil {
			log.Warn("document failure update failed", zap.String("document_id", d.ID), zap.Error(err))
		}
	}
	if err := p.store.FinishRun(ctx, run.ID, model.RunStatusFailed, cause.Error(), nil); err != nil {
		log.Error("finish run failed", zap.Error(err))
	}
	p.markJobFailed(ctx, job.ID, cause)
}

func (p *Pipeline) markJobFailed(ctx context.Context, jobID string, cause error) {
	if err := p.store.MarkJobFailed(ctx, jobID, cause.Error()); err != nil {
		zap.L().Error("mark job failed failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// saveArtifacts caches every page's raw text. Artifact writes are
// best-effort; a failure here never aborts the job.
func (p *Pipeline) saveArtifacts(ctx context.Context, log *zap.Logger, runID, docID string, pages []model.PageText) {
	if len(pages) == 0 {
		return
	}
	artifacts := make([]model.Artifact, 0, len(pages))
	for _, pg := range pages {
		artifacts = append(artifacts, model.Artifact{
			RunID:      runID,
			DocumentID: docID,
			PageNumber: pg.PageNumber,
			Method:     pg.Method,
			RawText:    pg.Text,
		})
	}
	if err := p.store.InsertArtifacts(ctx, artifacts); err != nil {
		log.Warn("artifact insert failed", zap.String("document_id", docID), zap.Error(err))
	}
}

// fastPathRows converts parsed entries into the legacy line-item
// projection plus the item graph rows.
func fastPathRows(run *model.Run, tradeCode string, doc model.Document, result *model.ExtractionResult) ([]model.LineItem, []model.Item) {
	lines := make([]model.LineItem, 0, len(result.Entries))
	items := make([]model.Item, 0, len(result.Entries))
	for _, e := range result.Entries {
		lines = append(lines, model.LineItem{
			ID:          model.DeterministicID(run.ID, "line", doc.ID, e.Name, e.RoomNumber),
			RunID:       run.ID,
			BidID:       run.BidID,
			DocumentID:  doc.ID,
			Name:        e.Name,
			Quantity:    e.Quantity,
			Unit:        "",
			RoomNumber:  e.RoomNumber,
			SignType:    e.SignType,
			PageNumbers: e.PageNumbers,
			SheetRefs:   e.SheetRefs,
			Confidence:  e.Confidence,
		})

		desc := e.Name
		if e.RoomNumber != "" {
			desc = desc + " room " + e.RoomNumber
		}
		key := model.ItemKey(tradeCode, e.SignType, desc)
		qty := e.Quantity
		items = append(items, model.Item{
			ID:          model.DeterministicItemID(run.ID, key),
			RunID:       run.ID,
			BidID:       run.BidID,
			UserID:      run.UserID,
			TradeCode:   tradeCode,
			ItemKey:     key,
			Code:        e.SignType,
			Category:    result.SourceType,
			Description: desc,
			QtyNumber:   &qty,
			Confidence:  e.Confidence,
			Status:      model.ItemStatusDraft,
		})
	}
	return lines, items
}

// estimateLineItems projects estimator items with a numeric quantity
// into the legacy table.
func estimateLineItems(run *model.Run, primary model.Document, result *model.EstimateResult) []model.LineItem {
	var lines []model.LineItem
	for _, it := range result.Items {
		if it.Qty == nil {
			continue
		}
		docID := primary.ID
		var pageNumbers []int
		var sheetRefs []string
		for _, src := range it.Sources {
			if src.Page > 0 {
				pageNumbers = append(pageNumbers, src.Page)
			}
			if src.SheetRef != "" {
				sheetRefs = append(sheetRefs, src.SheetRef)
			}
		}
		lines = append(lines, model.LineItem{
			ID:          model.DeterministicID(run.ID, "line", docID, it.Description, it.Code),
			RunID:       run.ID,
			BidID:       run.BidID,
			DocumentID:  docID,
			Name:        it.Description,
			Quantity:    *it.Qty,
			Unit:        it.Unit,
			SignType:    it.Code,
			PageNumbers: pageNumbers,
			SheetRefs:   sheetRefs,
			Confidence:  it.Confidence,
		})
	}
	return lines
}

// legendFromEntries builds the code-to-description legend attached to
// the primary document on completion.
func legendFromEntries(entries []model.Entry) map[string]any {
	legend := make(map[string]any)
	for _, e := range entries {
		if e.SignType != "" {
			legend[e.SignType] = e.Name
		}
	}
	return legend
}

func legendFromItems(items []model.EstimateItem) map[string]any {
	legend := make(map[string]any)
	for _, it := range items {
		if it.Code != "" {
			legend[it.Code] = it.Description
		}
	}
	return legend
}

func stagedDocuments(staging *stager.Staging) []model.Document {
	docs := make([]model.Document, 0, len(staging.Docs))
	for _, sd := range staging.Docs {
		docs = append(docs, sd.Document)
	}
	return docs
}
