package stager

import (
	"context"
	"os"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/takeoff-worker/internal/model"
)

type fakeFetcher struct {
	failPaths map[string]bool
	written   []string
}

func (f *fakeFetcher) DownloadToFile(_ context.Context, storagePath, destPath string) (int64, error) {
	if f.failPaths[storagePath] {
		return 0, eris.Errorf("fetch %s: connection reset", storagePath)
	}
	if err := os.WriteFile(destPath, []byte("%PDF-1.7"), 0644); err != nil {
		return 0, err
	}
	f.written = append(f.written, destPath)
	return 8, nil
}

type fakeCounter struct{ count int }

func (f *fakeCounter) PageCount(context.Context, string) (int, error) { return f.count, nil }

type fakeSampler struct{ text string }

func (f *fakeSampler) ExtractPage(context.Context, string, int) (string, error) {
	return f.text, nil
}

func TestStager_Stage(t *testing.T) {
	fetcher := &fakeFetcher{}
	s := New(fetcher, &fakeCounter{count: 42}, &fakeSampler{text: "SIGN SCHEDULE"})

	docs := []model.Document{
		{ID: "doc-1", Filename: "plans.pdf", StoragePath: "bids/b/plans.pdf", PageCount: 12},
		{ID: "doc-2", Filename: "specs.pdf", StoragePath: "bids/b/specs.pdf", PageCount: 0},
	}

	staging, err := s.Stage(context.Background(), "job-1", docs)
	require.NoError(t, err)
	defer staging.Cleanup()

	require.Len(t, staging.Docs, 2)
	assert.FileExists(t, staging.Docs[0].LocalPath)
	assert.Equal(t, "SIGN SCHEDULE", staging.Docs[0].FirstPage)

	// Only the document missing a page count gets backfilled.
	assert.Equal(t, map[string]int{"doc-2": 42}, staging.PageCountUpdates)
	assert.Equal(t, 12, staging.Docs[0].Document.PageCount)
	assert.Equal(t, 42, staging.Docs[1].Document.PageCount)
}

func TestStager_Stage_SkipsFailedDownloads(t *testing.T) {
	fetcher := &fakeFetcher{failPaths: map[string]bool{"bids/b/broken.pdf": true}}
	s := New(fetcher, nil, nil)

	docs := []model.Document{
		{ID: "doc-1", Filename: "broken.pdf", StoragePath: "bids/b/broken.pdf"},
		{ID: "doc-2", Filename: "good.pdf", StoragePath: "bids/b/good.pdf", PageCount: 3},
	}

	staging, err := s.Stage(context.Background(), "job-1", docs)
	require.NoError(t, err)
	defer staging.Cleanup()

	require.Len(t, staging.Docs, 1)
	assert.Equal(t, "doc-2", staging.Docs[0].Document.ID)
}

func TestStager_Stage_AllFailed(t *testing.T) {
	fetcher := &fakeFetcher{failPaths: map[string]bool{"bids/b/only.pdf": true}}
	s := New(fetcher, nil, nil)

	docs := []model.Document{{ID: "doc-1", Filename: "only.pdf", StoragePath: "bids/b/only.pdf"}}

	_, err := s.Stage(context.Background(), "job-1", docs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no documents downloaded")
}

func TestStager_Stage_NoDocuments(t *testing.T) {
	s := New(&fakeFetcher{}, nil, nil)
	_, err := s.Stage(context.Background(), "job-1", nil)
	require.Error(t, err)
}

func TestStaging_Cleanup(t *testing.T) {
	fetcher := &fakeFetcher{}
	s := New(fetcher, nil, nil)

	docs := []model.Document{{ID: "doc-1", Filename: "a.pdf", StoragePath: "p", PageCount: 1}}
	staging, err := s.Stage(context.Background(), "job-1", docs)
	require.NoError(t, err)

	staging.Cleanup()
	assert.NoDirExists(t, staging.Dir)

	// Cleanup is safe to call twice, and on nil.
	staging.Cleanup()
	var nilStaging *Staging
	nilStaging.Cleanup()
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "plans.pdf", SanitizeFilename("plans.pdf"))
	assert.Equal(t, "passwd", SanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "a_b.pdf", SanitizeFilename("a:b.pdf"))
	assert.Equal(t, "document.pdf", SanitizeFilename(""))
	assert.Equal(t, "document.pdf", SanitizeFilename(".."))
}
