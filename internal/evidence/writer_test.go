package evidence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/takeoff-worker/internal/model"
)

// recordingStore captures writes and the order they arrived in.
type recordingStore struct {
	order    []string
	findings []model.Finding
	items    []model.Item
	links    []model.ItemEvidence
}

func (r *recordingStore) InsertFindings(_ context.Context, findings []model.Finding) error {
	r.order = append(r.order, "findings")
	r.findings = append(r.findings, findings...)
	return nil
}

func (r *recordingStore) UpsertItems(_ context.Context, items []model.Item) error {
	r.order = append(r.order, "items")
	r.items = append(r.items, items...)
	return nil
}

func (r *recordingStore) InsertItemEvidence(_ context.Context, links []model.ItemEvidence) error {
	r.order = append(r.order, "links")
	r.links = append(r.links, links...)
	return nil
}

func testRun() model.Run {
	return model.Run{ID: "run-1", JobID: "job-1", BidID: "bid-1", UserID: "user-1"}
}

func testDocs() []model.Document {
	return []model.Document{{ID: "doc-1", BidID: "bid-1", Filename: "schedule.pdf"}}
}

func qty(v float64) *float64 { return &v }

func testResult() *model.EstimateResult {
	return &model.EstimateResult{
		Items: []model.EstimateItem{
			{
				Category:    "signage",
				Description: "EXIT SIGN",
				Code:        "S1",
				Qty:         qty(4),
				Unit:        "EA",
				Confidence:  0.9,
				Sources: []model.SourceRef{
					{Filename: "schedule.pdf", Page: 3, SheetRef: "A-601", Evidence: "S1 EXIT SIGN 4 EA"},
				},
			},
		},
	}
}

func testSnippets() []model.EvidenceSnippet {
	return []model.EvidenceSnippet{
		{Filename: "schedule.pdf", Page: 3, Kind: "schedule_row", Text: "S1 EXIT SIGN 4 EA"},
		{Filename: "schedule.pdf", Page: 3, Kind: "schedule_row", Text: "S2 RESTROOM SIGN 12 EA"},
	}
}

func TestWrite_FindingsLandBeforeItems(t *testing.T) {
	rs := &recordingStore{}
	w := NewWriter(rs)

	_, err := w.Write(context.Background(), testRun(), "10 14 00", testResult(), testSnippets(), testDocs())
	require.NoError(t, err)
	assert.Equal(t, []string{"findings", "items", "links"}, rs.order)
}

func TestWrite_EveryItemHasEvidence(t *testing.T) {
	rs := &recordingStore{}
	w := NewWriter(rs)

	_, err := w.Write(context.Background(), testRun(), "10 14 00", testResult(), testSnippets(), testDocs())
	require.NoError(t, err)

	findingByID := make(map[string]model.Finding)
	for _, f := range rs.findings {
		findingByID[f.ID] = f
	}
	require.NotEmpty(t, rs.items)
	for _, item := range rs.items {
		var supported bool
		for _, l := range rs.links {
			if l.ItemID != item.ID {
				continue
			}
			f, ok := findingByID[l.FindingID]
			require.True(t, ok, "link points at unknown finding")
			if f.EvidenceText != "" {
				supported = true
			}
		}
		assert.True(t, supported, "item %s has no evidence link", item.Description)
	}
}

func TestWrite_UncitedItemFallsBackToSnippet(t *testing.T) {
	rs := &recordingStore{}
	w := NewWriter(rs)

	result := &model.EstimateResult{
		Items: []model.EstimateItem{
			{Category: "signage", Description: "STAIR SIGN", Qty: qty(2), Unit: "EA", Confidence: 0.6},
		},
	}
	snippets := []model.EvidenceSnippet{
		{Filename: "plans.pdf", Page: 1, Kind: "callout", Text: "STAIR SIGNAGE PER SPEC"},
	}
	_, err := w.Write(context.Background(), testRun(), "10 14 00", result, snippets, nil)
	require.NoError(t, err)

	require.Len(t, rs.items, 1)
	require.Len(t, rs.links, 1)
	assert.Equal(t, rs.items[0].ID, rs.links[0].ItemID)
	assert.Equal(t, 0.5, rs.links[0].Weight)
}

func TestWrite_DedupesSnippetAndSource(t *testing.T) {
	rs := &recordingStore{}
	w := NewWriter(rs)

	// The item's cited source is the same (filename, page, text) as the
	// first snippet; only one finding row should come out of the pair.
	stats, err := w.Write(context.Background(), testRun(), "10 14 00", testResult(), testSnippets(), testDocs())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Findings)
}

func TestWrite_DerivedScheduleRowBecomesItem(t *testing.T) {
	rs := &recordingStore{}
	w := NewWriter(rs)

	// S2 appears only in a snippet; derivation should recover it as an
	// item the model's summary dropped.
	_, err := w.Write(context.Background(), testRun(), "10 14 00", testResult(), testSnippets(), testDocs())
	require.NoError(t, err)

	var s2 *model.Item
	for i := range rs.items {
		if rs.items[i].Code == "S2" {
			s2 = &rs.items[i]
		}
	}
	require.NotNil(t, s2, "derived schedule row missing")
	assert.Equal(t, "RESTROOM SIGN", s2.Description)
	require.NotNil(t, s2.QtyNumber)
	assert.Equal(t, 12.0, *s2.QtyNumber)
	assert.Equal(t, model.ItemStatusNeedsReview, s2.Status)
}

func TestWrite_DerivedRowMatchingModelItemOnlyLinks(t *testing.T) {
	rs := &recordingStore{}
	w := NewWriter(rs)

	// S1 comes back both as a model item and a derivable schedule row;
	// one item, two evidence links.
	_, err := w.Write(context.Background(), testRun(), "10 14 00", testResult(), testSnippets(), testDocs())
	require.NoError(t, err)

	var s1Count, s1Links int
	var s1ID string
	for _, it := range rs.items {
		if it.Code == "S1" {
			s1Count++
			s1ID = it.ID
		}
	}
	for _, l := range rs.links {
		if l.ItemID == s1ID {
			s1Links++
		}
	}
	assert.Equal(t, 1, s1Count)
	assert.Equal(t, 2, s1Links)
}

func TestWrite_ReplayProducesIdenticalIDs(t *testing.T) {
	first := &recordingStore{}
	second := &recordingStore{}

	_, err := NewWriter(first).Write(context.Background(), testRun(), "10 14 00", testResult(), testSnippets(), testDocs())
	require.NoError(t, err)
	_, err = NewWriter(second).Write(context.Background(), testRun(), "10 14 00", testResult(), testSnippets(), testDocs())
	require.NoError(t, err)

	require.Equal(t, len(first.findings), len(second.findings))
	for i := range first.findings {
		assert.Equal(t, first.findings[i].ID, second.findings[i].ID)
	}
	require.Equal(t, len(first.items), len(second.items))
	for i := range first.items {
		assert.Equal(t, first.items[i].ID, second.items[i].ID)
	}
	require.Equal(t, len(first.links), len(second.links))
	for i := range first.links {
		assert.Equal(t, first.links[i].ID, second.links[i].ID)
	}
}

func TestWrite_QtyMissingNeedsReview(t *testing.T) {
	rs := &recordingStore{}
	w := NewWriter(rs)

	result := &model.EstimateResult{
		Items: []model.EstimateItem{
			{Category: "signage", Description: "DONOR WALL", QtyText: "per plan", Confidence: 0.4},
		},
	}
	_, err := w.Write(context.Background(), testRun(), "10 14 00", result, testSnippets(), testDocs())
	require.NoError(t, err)

	for _, it := range rs.items {
		if it.Description == "DONOR WALL" {
			assert.Equal(t, model.ItemStatusNeedsReview, it.Status)
			return
		}
	}
	t.Fatal("item not written")
}
