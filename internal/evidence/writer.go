// Package evidence persists estimator output as the finding/item graph.
// Every write is idempotent so an at-least-once re-execution converges
// on the same rows instead of duplicating them.
package evidence

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff-worker/internal/model"
)

// GraphStore is the slice of the storage layer the writer needs.
type GraphStore interface {
	InsertFindings(ctx context.Context, findings []model.Finding) error
	UpsertItems(ctx context.Context, items []model.Item) error
	InsertItemEvidence(ctx context.Context, links []model.ItemEvidence) error
}

// Writer turns an estimate into findings, items, and evidence links.
type Writer struct {
	store GraphStore
}

// NewWriter builds a Writer over the given store.
func NewWriter(s GraphStore) *Writer {
	return &Writer{store: s}
}

// Stats reports what a Write persisted.
type Stats struct {
	Findings int
	Derived  int
	Items    int
	Links    int
}

// Write persists the evidence graph for one run. Findings land first
// (items reference them through evidence links), then items, then the
// links themselves.
func (w *Writer) Write(ctx context.Context, run model.Run, tradeCode string, result *model.EstimateResult, snippets []model.EvidenceSnippet, docs []model.Document) (Stats, error) {
	var stats Stats
	if result == nil {
		return stats, eris.New("evidence: nil estimate result")
	}

	docIDs := make(map[string]string, len(docs))
	for _, d := range docs {
		docIDs[d.Filename] = d.ID
	}

	findings, byRef := w.collectFindings(run, result, snippets, docIDs)
	var derivedAll []model.Finding
	for _, f := range findings {
		derivedAll = append(derivedAll, deriveFindings(f)...)
	}
	derivedAll = dedupeFindings(derivedAll)

	all := append(append([]model.Finding{}, findings...), derivedAll...)
	if err := w.store.InsertFindings(ctx, all); err != nil {
		return stats, eris.Wrap(err, "evidence: insert findings")
	}
	stats.Findings = len(findings)
	stats.Derived = len(derivedAll)

	items, links := w.collectItems(run, tradeCode, result, findings, byRef, derivedAll)
	if err := w.store.UpsertItems(ctx, items); err != nil {
		return stats, eris.Wrap(err, "evidence: upsert items")
	}
	stats.Items = len(items)

	if err := w.store.InsertItemEvidence(ctx, links); err != nil {
		return stats, eris.Wrap(err, "evidence: insert item evidence")
	}
	stats.Links = len(links)

	zap.L().Info("evidence graph written",
		zap.String("run_id", run.ID),
		zap.Int("findings", stats.Findings),
		zap.Int("derived", stats.Derived),
		zap.Int("items", stats.Items),
		zap.Int("links", stats.Links),
	)
	return stats, nil
}

// refKey dedupes findings by (filename, page, text) within the batch.
func refKey(filename string, page int, text string) string {
	return filename + "\x00" + strconv.Itoa(page) + "\x00" + text
}

// collectFindings builds snippet and source findings, deduplicated, and
// returns an index from (filename, page, text) to finding id so items
// can link back to their citations.
func (w *Writer) collectFindings(run model.Run, result *model.EstimateResult, snippets []model.EvidenceSnippet, docIDs map[string]string) ([]model.Finding, map[string]string) {
	var findings []model.Finding
	byRef := make(map[string]string)

	add := func(f model.Finding, key string) {
		if _, ok := byRef[key]; ok {
			return
		}
		byRef[key] = f.ID
		findings = append(findings, f)
	}

	for _, s := range snippets {
		key := refKey(s.Filename, s.Page, s.Text)
		add(model.Finding{
			ID:           model.DeterministicID(run.ID, "snippet", s.Filename, strconv.Itoa(s.Page), s.Text),
			RunID:        run.ID,
			BidID:        run.BidID,
			DocumentID:   docIDs[s.Filename],
			PageNumber:   s.Page,
			Type:         model.FindingSnippet,
			Confidence:   0.8,
			Data:         map[string]any{"kind": s.Kind},
			EvidenceText: s.Text,
		}, key)
	}

	for _, item := range result.Items {
		for _, src := range item.Sources {
			key := refKey(src.Filename, src.Page, src.Evidence)
			add(model.Finding{
				ID:           model.DeterministicID(run.ID, "source", src.Filename, strconv.Itoa(src.Page), src.Evidence),
				RunID:        run.ID,
				BidID:        run.BidID,
				DocumentID:   docIDs[src.Filename],
				PageNumber:   src.Page,
				Type:         model.FindingSource,
				Confidence:   item.Confidence,
				Data: map[string]any{
					"sheet_ref":         src.SheetRef,
					"why_authoritative": src.WhyAuthoritative,
				},
				EvidenceText: src.Evidence,
			}, key)
		}
	}

	return findings, byRef
}

// collectItems builds one item per estimator line plus one per derived
// schedule row that carries a code, description, and numeric qty, along
// with the evidence links for each.
func (w *Writer) collectItems(run model.Run, tradeCode string, result *model.EstimateResult, findings []model.Finding, byRef map[string]string, derived []model.Finding) ([]model.Item, []model.ItemEvidence) {
	var items []model.Item
	var links []model.ItemEvidence
	seen := make(map[string]struct{})

	link := func(itemID, findingID string, weight float64, note string) {
		links = append(links, model.ItemEvidence{
			ID:        model.DeterministicLinkID(itemID, findingID),
			ItemID:    itemID,
			FindingID: findingID,
			Weight:    weight,
			Note:      note,
		})
	}

	for _, est := range result.Items {
		key := model.ItemKey(tradeCode, est.Code, est.Description)
		id := model.DeterministicItemID(run.ID, key)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		status := model.ItemStatusDraft
		if est.Qty == nil || len(est.ReviewFlags) > 0 {
			status = model.ItemStatusNeedsReview
		}
		items = append(items, model.Item{
			ID:          id,
			RunID:       run.ID,
			BidID:       run.BidID,
			UserID:      run.UserID,
			TradeCode:   tradeCode,
			ItemKey:     key,
			Code:        est.Code,
			Category:    est.Category,
			Description: est.Description,
			QtyNumber:   est.Qty,
			QtyText:     est.QtyText,
			Unit:        est.Unit,
			Confidence:  est.Confidence,
			Status:      status,
		})

		linked := false
		for _, src := range est.Sources {
			if fid, ok := byRef[refKey(src.Filename, src.Page, src.Evidence)]; ok {
				link(id, fid, 1.0, "cited source")
				linked = true
			}
		}
		if !linked {
			// No usable citation; anchor the item to the first snippet
			// finding so every item stays traceable.
			for _, f := range findings {
				if f.Type == model.FindingSnippet && f.EvidenceText != "" {
					link(id, f.ID, 0.5, "uncited item, nearest snippet")
					break
				}
			}
		}
	}

	for _, f := range derived {
		if f.Type != model.FindingScheduleRow {
			continue
		}
		code, _ := f.Data["code"].(string)
		desc, _ := f.Data["description"].(string)
		qty, okQty := f.Data["qty"].(float64)
		if code == "" || desc == "" || !okQty {
			continue
		}
		key := model.ItemKey(tradeCode, code, desc)
		if _, ok := seen[key]; ok {
			// The model already produced this row; just add the link.
			link(model.DeterministicItemID(run.ID, key), f.ID, 0.9, "schedule row")
			continue
		}
		seen[key] = struct{}{}

		unit, _ := f.Data["unit"].(string)
		id := model.DeterministicItemID(run.ID, key)
		items = append(items, model.Item{
			ID:          id,
			RunID:       run.ID,
			BidID:       run.BidID,
			UserID:      run.UserID,
			TradeCode:   tradeCode,
			ItemKey:     key,
			Code:        code,
			Category:    "derived",
			Description: desc,
			QtyNumber:   &qty,
			QtyText:     fmt.Sprintf("%g", qty),
			Unit:        unit,
			Confidence:  f.Confidence,
			Status:      model.ItemStatusNeedsReview,
		})
		link(id, f.ID, 0.9, "schedule row")
	}

	return items, links
}

func dedupeFindings(in []model.Finding) []model.Finding {
	seen := make(map[string]struct{}, len(in))
	out := make([]model.Finding, 0, len(in))
	for _, f := range in {
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	return out
}
