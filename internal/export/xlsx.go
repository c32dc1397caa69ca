// Package export renders a run's takeoff into reviewer-facing files.
package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff-worker/internal/model"
)

// ItemLister is the slice of the storage layer export reads from.
type ItemLister interface {
	ListRunItems(ctx context.Context, runID string) ([]model.Item, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
}

// itemHeader is the column layout of the Items sheet.
var itemHeader = []string{
	"Code", "Category", "Description", "Qty", "Qty Text", "Unit", "Confidence", "Status", "Item Key",
}

// WriteRunWorkbook exports one run's items as an xlsx workbook at path.
func WriteRunWorkbook(ctx context.Context, store ItemLister, runID, path string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return eris.Wrapf(err, "export: load run %s", runID)
	}
	items, err := store.ListRunItems(ctx, runID)
	if err != nil {
		return eris.Wrapf(err, "export: list items for run %s", runID)
	}
	if len(items) == 0 {
		return eris.Errorf("export: run %s has no items", runID)
	}

	f := xlsx.NewFile()
	if err := addItemsSheet(f, items); err != nil {
		return err
	}
	if err := addSummarySheet(f, run, items); err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}

	zap.L().Info("run exported",
		zap.String("run_id", runID),
		zap.String("path", path),
		zap.Int("items", len(items)),
	)
	return nil
}

func addItemsSheet(f *xlsx.File, items []model.Item) error {
	sheet, err := f.AddSheet("Items")
	if err != nil {
		return eris.Wrap(err, "export: add items sheet")
	}

	header := sheet.AddRow()
	for _, h := range itemHeader {
		header.AddCell().SetString(h)
	}

	for _, it := range items {
		row := sheet.AddRow()
		row.AddCell().SetString(it.Code)
		row.AddCell().SetString(it.Category)
		row.AddCell().SetString(it.Description)
		if it.QtyNumber != nil {
			row.AddCell().SetFloat(*it.QtyNumber)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetString(it.QtyText)
		row.AddCell().SetString(it.Unit)
		row.AddCell().SetFloat(it.Confidence)
		row.AddCell().SetString(string(it.Status))
		row.AddCell().SetString(it.ItemKey)
	}
	return nil
}

func addSummarySheet(f *xlsx.File, run *model.Run, items []model.Item) error {
	sheet, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}

	needsReview := 0
	var totalQty float64
	for _, it := range items {
		if it.Status == model.ItemStatusNeedsReview {
			needsReview++
		}
		if it.QtyNumber != nil {
			totalQty += *it.QtyNumber
		}
	}

	kind := ""
	if run.Summary != nil {
		kind = run.Summary.Kind
	}
	pairs := [][2]string{
		{"Run", run.ID},
		{"Bid", run.BidID},
		{"Status", string(run.Status)},
		{"Kind", kind},
		{"Items", fmt.Sprintf("%d", len(items))},
		{"Needs review", fmt.Sprintf("%d", needsReview)},
		{"Total quantity", strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", totalQty), "0"), ".")},
	}
	for _, p := range pairs {
		row := sheet.AddRow()
		row.AddCell().SetString(p[0])
		row.AddCell().SetString(p[1])
	}
	return nil
}
