package export

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/takeoff-worker/internal/model"
	"github.com/sells-group/takeoff-worker/internal/store"
)

type fakeLister struct {
	run   *model.Run
	items []model.Item
}

func (f *fakeLister) GetRun(_ context.Context, runID string) (*model.Run, error) {
	if f.run == nil || f.run.ID != runID {
		return nil, store.ErrNotFound
	}
	return f.run, nil
}

func (f *fakeLister) ListRunItems(context.Context, string) ([]model.Item, error) {
	return f.items, nil
}

func qty(v float64) *float64 { return &v }

func TestWriteRunWorkbook(t *testing.T) {
	lister := &fakeLister{
		run: &model.Run{
			ID:      "run-1",
			BidID:   "bid-1",
			Status:  model.RunStatusSucceeded,
			Summary: &model.RunSummary{Kind: "fast_path"},
		},
		items: []model.Item{
			{Code: "S1", Category: "signage", Description: "EXIT SIGN", QtyNumber: qty(4), Unit: "EA", Confidence: 0.98, Status: model.ItemStatusDraft, ItemKey: "10-14-00:s1:exit-sign"},
			{Code: "S2", Category: "signage", Description: "RESTROOM SIGN", QtyText: "per plan", Confidence: 0.4, Status: model.ItemStatusNeedsReview, ItemKey: "10-14-00:s2:restroom-sign"},
		},
	}

	path := filepath.Join(t.TempDir(), "run.xlsx")
	require.NoError(t, WriteRunWorkbook(context.Background(), lister, "run-1", path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	items := f.Sheets[0]
	assert.Equal(t, "Items", items.Name)
	require.Len(t, items.Rows, 3)
	assert.Equal(t, "Code", items.Rows[0].Cells[0].String())
	assert.Equal(t, "EXIT SIGN", items.Rows[1].Cells[2].String())
	v, err := items.Rows[1].Cells[3].Float()
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)
	assert.Equal(t, "per plan", items.Rows[2].Cells[4].String())
	assert.Equal(t, "needs_review", items.Rows[2].Cells[7].String())

	summary := f.Sheets[1]
	assert.Equal(t, "Summary", summary.Name)
	found := map[string]string{}
	for _, row := range summary.Rows {
		if len(row.Cells) == 2 {
			found[row.Cells[0].String()] = row.Cells[1].String()
		}
	}
	assert.Equal(t, "run-1", found["Run"])
	assert.Equal(t, "fast_path", found["Kind"])
	assert.Equal(t, "2", found["Items"])
	assert.Equal(t, "1", found["Needs review"])
	assert.Equal(t, "4", found["Total quantity"])
}

func TestWriteRunWorkbook_UnknownRun(t *testing.T) {
	lister := &fakeLister{}
	err := WriteRunWorkbook(context.Background(), lister, "missing", filepath.Join(t.TempDir(), "x.xlsx"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWriteRunWorkbook_EmptyRun(t *testing.T) {
	lister := &fakeLister{run: &model.Run{ID: "run-1"}}
	err := WriteRunWorkbook(context.Background(), lister, "run-1", filepath.Join(t.TempDir(), "x.xlsx"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no items")
}
