// Package scorer ranks staged documents by how likely they are to hold
// the target trade's schedule or legend data.
package scorer

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/takeoff-worker/internal/config"
	"github.com/sells-group/takeoff-worker/internal/model"
)

// Component weights. They sum to 100 so a document hitting every signal
// scores a perfect 100.
const (
	weightFilenameSchedule = 35
	weightFilenameTrade    = 20
	weightContentSchedule  = 25
	weightContentTrade     = 15
	weightSheetPrefix      = 5
)

// Scorer scores documents against a trade's keyword pack.
type Scorer struct {
	keywords KeywordFile
	topK     int
}

// New creates a Scorer from config, loading the keyword file when one is
// configured.
func New(cfg config.ScorerConfig) (*Scorer, error) {
	kf, err := LoadKeywords(cfg.KeywordsPath)
	if err != nil {
		return nil, err
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	return &Scorer{keywords: kf, topK: topK}, nil
}

// TopK returns how many documents the estimator receives.
func (s *Scorer) TopK() int { return s.topK }

// Score ranks documents descending by relevance. FirstPage text is
// sampled content; documents that failed to yield any are scored on
// filename alone.
func (s *Scorer) Score(docs []model.StagedDocument, tradeCode string) []model.ScoredDocument {
	pack := s.keywords.PackFor(tradeCode)

	scored := make([]model.ScoredDocument, 0, len(docs))
	for _, doc := range docs {
		sd := s.scoreOne(doc, pack)
		scored = append(scored, sd)
		zap.L().Debug("document scored",
			zap.String("document_id", doc.Document.ID),
			zap.String("filename", doc.Document.Filename),
			zap.Float64("score", sd.Score),
			zap.Strings("signals", sd.Signals),
		)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

// Top returns the top-K scored documents.
func (s *Scorer) Top(scored []model.ScoredDocument) []model.ScoredDocument {
	if len(scored) <= s.topK {
		return scored
	}
	return scored[:s.topK]
}

func (s *Scorer) scoreOne(doc model.StagedDocument, pack KeywordPack) model.ScoredDocument {
	name := strings.ToLower(doc.Document.Filename)
	content := strings.ToLower(doc.FirstPage)

	var score float64
	var signals []string

	if kw, ok := containsAny(name, pack.ScheduleKeywords); ok {
		score += weightFilenameSchedule
		signals = append(signals, "filename:"+kw)
	}
	if kw, ok := containsAny(name, pack.TradeKeywords); ok {
		score += weightFilenameTrade
		signals = append(signals, "filename:"+kw)
	}
	if content != "" {
		if kw, ok := containsAny(content, pack.ScheduleKeywords); ok {
			score += weightContentSchedule
			signals = append(signals, "content:"+kw)
		}
		if kw, ok := containsAny(content, pack.TradeKeywords); ok {
			score += weightContentTrade
			signals = append(signals, "content:"+kw)
		}
	}
	for _, prefix := range pack.SheetPrefixes {
		if strings.HasPrefix(name, prefix) {
			score += weightSheetPrefix
			signals = append(signals, "sheet:"+prefix)
			break
		}
	}

	return model.ScoredDocument{Document: doc.Document, Score: score, Signals: signals}
}

// IndexFindings converts scores into index-phase findings so the
// escalation controller can later see which documents looked promising
// but were never deeply processed.
func (s *Scorer) IndexFindings(runID, bidID string, scored []model.ScoredDocument) []model.Finding {
	findings := make([]model.Finding, 0, len(scored))
	for _, sd := range scored {
		findings = append(findings, model.Finding{
			ID:         model.DeterministicID(runID, "index", sd.Document.ID),
			RunID:      runID,
			BidID:      bidID,
			DocumentID: sd.Document.ID,
			Type:       model.FindingIndexScore,
			Confidence: sd.Score / 100,
			Data: map[string]any{
				"score":   sd.Score,
				"signals": sd.Signals,
			},
			EvidenceText: fmt.Sprintf("index score %.0f for %s", sd.Score, sd.Document.Filename),
		})
	}
	return findings
}
