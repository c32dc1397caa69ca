package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/takeoff-worker/internal/config"
	"github.com/sells-group/takeoff-worker/internal/model"
)

func TestNewExtractor(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Mode: "smart"})
	require.NoError(t, err)
	assert.Nil(t, ext)

	ext, err = NewExtractor(config.OCRConfig{Mode: "smart", MistralKey: "key"})
	require.NoError(t, err)
	assert.IsType(t, &MistralOCR{}, ext)

	_, err = NewExtractor(config.OCRConfig{Mode: "aggressive", MistralKey: "key"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "aggressive"`)
}

func TestPdfToText_BinPath(t *testing.T) {
	p := NewPdfToText("")
	assert.Equal(t, "pdftotext", p.binPath)

	p = NewPdfToText("/custom/pdftotext")
	assert.Equal(t, "/custom/pdftotext", p.binPath)
}

func TestParsePageCount(t *testing.T) {
	output := "Title:          Plan Set\nProducer:       pdfTeX\nPages:          62\nPage size:      2592 x 1728 pts\n"
	n, err := parsePageCount(output)
	require.NoError(t, err)
	assert.Equal(t, 62, n)

	_, err = parsePageCount("Title: whatever\n")
	require.Error(t, err)
}

func TestShouldEscalate_SmartMode(t *testing.T) {
	const (
		minChars = 30
		early    = 15
		late     = 9
		scanned  = 60
	)

	// Short page mentioning a schedule keyword is escalated.
	assert.True(t, ShouldEscalate("smart", minChars, early, late, "SCHED", 30, scanned))
	assert.True(t, ShouldEscalate("smart", minChars, early, late, "sign schedule", 30, scanned))

	// Short page with no keyword in the middle of the document is not.
	assert.False(t, ShouldEscalate("smart", minChars, early, late, "A-101", 30, scanned))

	// Boundary pages are escalated even without keywords.
	assert.True(t, ShouldEscalate("smart", minChars, early, late, "A-101", 15, scanned))
	assert.True(t, ShouldEscalate("smart", minChars, early, late, "A-101", 52, scanned))
	assert.False(t, ShouldEscalate("smart", minChars, early, late, "A-101", 16, scanned))
	assert.False(t, ShouldEscalate("smart", minChars, early, late, "A-101", 51, scanned))

	// A page with enough direct text is never escalated.
	long := "GENERAL NOTES: ALL SIGNAGE PER ADA AND LOCAL CODE REQUIREMENTS"
	assert.False(t, ShouldEscalate("smart", minChars, early, late, long, 1, scanned))
}

func TestShouldEscalate_FullMode(t *testing.T) {
	// Full mode escalates every short page regardless of position or content.
	assert.True(t, ShouldEscalate("full", 30, 15, 9, "A-101", 30, 60))
	assert.True(t, ShouldEscalate("full", 30, 15, 9, "sched", 30, 60))

	// But still only short pages.
	long := "GENERAL NOTES: ALL SIGNAGE PER ADA AND LOCAL CODE REQUIREMENTS"
	assert.False(t, ShouldEscalate("full", 30, 15, 9, long, 30, 60))
}

func TestLooksScheduleLike(t *testing.T) {
	assert.True(t, LooksScheduleLike("SIGN SCHEDULE"))
	assert.True(t, LooksScheduleLike("Qty: 4"))
	assert.True(t, LooksScheduleLike("room number legend"))
	assert.False(t, LooksScheduleLike("A-101 FLOOR PLAN"))
}

func TestMistralOCR_ExtractPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Contains(t, req.Document.DocumentURL, "data:application/pdf;base64,")
		assert.Equal(t, []int{2}, req.Pages)

		resp := mistralOCRResponse{
			Pages: []mistralOCRPage{{Index: 2, Markdown: "EXIT SIGN | 4 | EA"}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	defer srv.Close()

	pdfPath := filepath.Join(t.TempDir(), "test.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4 test content"), 0644))

	m := &MistralOCR{
		apiKey:   "test-key",
		model:    "test-model",
		endpoint: srv.URL,
		client:   &http.Client{},
	}

	text, err := m.ExtractPage(context.Background(), pdfPath, 3)
	require.NoError(t, err)
	assert.Equal(t, "EXIT SIGN | 4 | EA", text)
}

func TestMistralOCR_ExtractPage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"bad key"}`))
	}))
	defer srv.Close()

	pdfPath := filepath.Join(t.TempDir(), "test.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4"), 0644))

	m := &MistralOCR{apiKey: "bad", model: "m", endpoint: srv.URL, client: &http.Client{}}
	_, err := m.ExtractPage(context.Background(), pdfPath, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 401")
}

type fakeDirect struct {
	pages map[int]string
}

func (f *fakeDirect) ExtractPage(_ context.Context, _ string, pageNumber int) (string, error) {
	return f.pages[pageNumber], nil
}

type fakeOptical struct {
	calls []int
	text  string
}

func (f *fakeOptical) ExtractPage(_ context.Context, _ string, pageNumber int) (string, error) {
	f.calls = append(f.calls, pageNumber)
	return f.text, nil
}

func TestPageReader_ReadPages(t *testing.T) {
	direct := &fakeDirect{pages: map[int]string{
		1: "COVER SHEET WITH A FULL TITLE BLOCK AND PROJECT DESCRIPTION",
		2: "sched",
		3: "A-1",
	}}
	optical := &fakeOptical{text: "RESTROOM SIGN | 12 | EA"}

	r := NewPageReader(direct, optical, config.OCRConfig{
		Mode:           "smart",
		MinDirectChars: 30,
		EarlyPages:     1,
		LatePages:      0,
		MaxPagesPerDoc: 60,
	})

	doc := model.Document{ID: "doc-1", Filename: "plans.pdf", PageCount: 3}
	pages, err := r.ReadPages(context.Background(), doc, "/tmp/plans.pdf")
	require.NoError(t, err)
	require.Len(t, pages, 3)

	// Page 1 has plenty of direct text.
	assert.Equal(t, model.MethodPdfToText, pages[0].Method)
	// Page 2 is short and schedule-like: escalated.
	assert.Equal(t, model.MethodOCR, pages[1].Method)
	assert.Equal(t, "RESTROOM SIGN | 12 | EA", pages[1].Text)
	// Page 3 is short but mid-document with no keywords: kept direct.
	assert.Equal(t, model.MethodPdfToText, pages[2].Method)
	assert.Equal(t, []int{2}, optical.calls)
}

func TestPageReader_ScanWindowCap(t *testing.T) {
	r := NewPageReader(&fakeDirect{}, nil, config.OCRConfig{MaxPagesPerDoc: 60})
	assert.Equal(t, 60, r.ScanWindow(120))
	assert.Equal(t, 12, r.ScanWindow(12))
}
