// Package model defines the core entities of the takeoff extraction
// pipeline: jobs, runs, documents, artifacts, and the evidence graph
// (findings, items, item-evidence links).
package model

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// ExtractionStatus is the per-document processing state surfaced to the
// review UI.
type ExtractionStatus string

const (
	ExtractionPending   ExtractionStatus = "pending"
	ExtractionCompleted ExtractionStatus = "completed"
	ExtractionFailed    ExtractionStatus = "failed"
)

// Job is a queued unit of extraction work naming a bid and a fixed
// document set. Jobs are created by a user action or by the escalation
// controller, advanced to running only by the claim protocol, and moved
// to a terminal state only by the finalizer. Jobs are never deleted.
type Job struct {
	ID         string     `json:"id"`
	BidID      string     `json:"bid_id"`
	UserID     string     `json:"user_id"`
	TradeCode  string     `json:"trade_code"`
	Status     JobStatus  `json:"status"`
	LockID     string     `json:"lock_id,omitempty"`
	LockedAt   *time.Time `json:"locked_at,omitempty"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Run is one execution attempt of a Job and the unit results are
// attributed to.
type Run struct {
	ID               string      `json:"id"`
	JobID            string      `json:"job_id"`
	BidID            string      `json:"bid_id"`
	UserID           string      `json:"user_id"`
	Status           RunStatus   `json:"status"`
	WorkerID         string      `json:"worker_id"`
	ExtractorVersion string      `json:"extractor_version"`
	Model            string      `json:"model"`
	StartedAt        time.Time   `json:"started_at"`
	FinishedAt       *time.Time  `json:"finished_at,omitempty"`
	LastError        string      `json:"last_error,omitempty"`
	Summary          *RunSummary `json:"summary,omitempty"`
}

// RunSummary is the terminal summary payload attached to a Run.
type RunSummary struct {
	Kind          string `json:"kind"`
	ParentRunID   string `json:"parent_run_id,omitempty"`
	DocumentCount int    `json:"document_count,omitempty"`
	ItemCount     int    `json:"item_count,omitempty"`
	FindingCount  int    `json:"finding_count,omitempty"`
	FastPath      bool   `json:"fast_path,omitempty"`
	SourceType    string `json:"source_type,omitempty"`
}

// Document is a bid document. The core reads everything except
// ExtractionStatus, LineItemCount, and the legend summary, which it
// writes on completion. PageCount is backfilled during staging when the
// scraper did not record it.
type Document struct {
	ID               string           `json:"id"`
	BidID            string           `json:"bid_id"`
	Filename         string           `json:"filename"`
	StoragePath      string           `json:"storage_path"`
	PageCount        int              `json:"page_count"`
	ExtractionStatus ExtractionStatus `json:"extraction_status"`
	LineItemCount    int              `json:"line_item_count"`
}

// ExtractionMethod identifies how a page's text was produced.
type ExtractionMethod string

const (
	MethodPdfToText ExtractionMethod = "pdftotext"
	MethodOCR       ExtractionMethod = "ocr"
)

// Artifact is the per-page raw-text cache. Write-once per
// (run, document, page) so a replay can inspect exactly what each page
// yielded without re-extracting.
type Artifact struct {
	RunID      string           `json:"run_id"`
	DocumentID string           `json:"document_id"`
	PageNumber int              `json:"page_number"`
	Method     ExtractionMethod `json:"method"`
	RawText    string           `json:"raw_text"`
	Meta       map[string]any   `json:"meta,omitempty"`
}

// FindingType classifies a Finding.
type FindingType string

const (
	FindingSnippet     FindingType = "snippet"
	FindingSource      FindingType = "source"
	FindingScheduleRow FindingType = "schedule_row"
	FindingHeader      FindingType = "header"
	FindingCallout     FindingType = "callout"
	FindingCodeHit     FindingType = "code_hit"
	FindingIndexScore  FindingType = "index_score"
)

// Finding is an atomic piece of evidence. Findings are append-only.
type Finding struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"`
	BidID        string         `json:"bid_id"`
	DocumentID   string         `json:"document_id"`
	PageNumber   int            `json:"page_number"`
	Type         FindingType    `json:"type"`
	Confidence   float64        `json:"confidence"`
	Data         map[string]any `json:"data,omitempty"`
	EvidenceText string         `json:"evidence_text,omitempty"`
	Evidence     map[string]any `json:"evidence,omitempty"`
}

// ItemStatus is the review state of an Item.
type ItemStatus string

const (
	ItemStatusDraft       ItemStatus = "draft"
	ItemStatusNeedsReview ItemStatus = "needs_review"
)

// Item is a deduplicated takeoff line within a run. (RunID, ItemKey) is
// unique; the id is derived deterministically from that pair so
// at-least-once re-execution upserts rather than duplicates.
type Item struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	BidID       string     `json:"bid_id"`
	UserID      string     `json:"user_id"`
	TradeCode   string     `json:"trade_code"`
	ItemKey     string     `json:"item_key"`
	Code        string     `json:"code,omitempty"`
	Category    string     `json:"category,omitempty"`
	Description string     `json:"description"`
	QtyNumber   *float64   `json:"qty_number,omitempty"`
	QtyText     string     `json:"qty_text,omitempty"`
	Unit        string     `json:"unit,omitempty"`
	Confidence  float64    `json:"confidence"`
	Status      ItemStatus `json:"status"`
}

// ItemEvidence links an Item to a supporting Finding.
// (ItemID, FindingID) is unique.
type ItemEvidence struct {
	ID        string  `json:"id"`
	ItemID    string  `json:"item_id"`
	FindingID string  `json:"finding_id"`
	Weight    float64 `json:"weight"`
	Note      string  `json:"note,omitempty"`
}

// LineItem is the legacy projection consumed by the review UI. Both the
// fast path and the estimator branch write these directly, independent
// of the Item/Finding graph.
type LineItem struct {
	ID          string   `json:"id"`
	RunID       string   `json:"run_id"`
	BidID       string   `json:"bid_id"`
	DocumentID  string   `json:"document_id"`
	Name        string   `json:"name"`
	Quantity    float64  `json:"quantity"`
	Unit        string   `json:"unit,omitempty"`
	RoomNumber  string   `json:"room_number,omitempty"`
	SignType    string   `json:"sign_type,omitempty"`
	PageNumbers []int    `json:"page_numbers,omitempty"`
	SheetRefs   []string `json:"sheet_refs,omitempty"`
	Confidence  float64  `json:"confidence"`
}

// ScoredDocument pairs a document with its trade-relevance score on a
// 0-100 scale.
type ScoredDocument struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
	Signals  []string `json:"signals,omitempty"`
}

// StagedDocument is a document whose bytes have been pulled into the
// job's working directory.
type StagedDocument struct {
	Document  Document
	LocalPath string
	FirstPage string // direct text of page 1, sampled for scoring
}

// PageText is one page's extracted text with the method that produced it.
type PageText struct {
	DocumentID string
	Filename   string
	PageNumber int
	Method     ExtractionMethod
	Text       string
}

// Entry is a single parsed row from a fast-path schedule table.
type Entry struct {
	Name        string   `json:"name"`
	Quantity    float64  `json:"quantity"`
	RoomNumber  string   `json:"room_number,omitempty"`
	SignType    string   `json:"sign_type,omitempty"`
	PageNumbers []int    `json:"page_numbers,omitempty"`
	SheetRefs   []string `json:"sheet_refs,omitempty"`
	Confidence  float64  `json:"confidence"`
}

// ExtractionResult is the output of the fast-path parser.
type ExtractionResult struct {
	SourceType string  `json:"source_type"`
	Entries    []Entry `json:"entries"`
	Confidence float64 `json:"confidence"`
}

// SourceRef cites where an estimator item came from.
type SourceRef struct {
	Filename         string `json:"filename"`
	Page             int    `json:"page"`
	SheetRef         string `json:"sheet_ref,omitempty"`
	WhyAuthoritative string `json:"why_authoritative,omitempty"`
	Evidence         string `json:"evidence,omitempty"`
}

// EstimateItem is one takeoff line produced by the reasoning service.
type EstimateItem struct {
	Category    string      `json:"category"`
	Description string      `json:"description"`
	Code        string      `json:"code,omitempty"`
	Qty         *float64    `json:"qty,omitempty"`
	QtyText     string      `json:"qty_text,omitempty"`
	Unit        string      `json:"unit,omitempty"`
	Confidence  float64     `json:"confidence"`
	Sources     []SourceRef `json:"sources,omitempty"`
	ReviewFlags []string    `json:"review_flags,omitempty"`
}

// Verification is the structured second pass cross-checking item counts
// against evidence.
type Verification struct {
	Checked      int      `json:"checked"`
	Confirmed    int      `json:"confirmed"`
	Mismatches   []string `json:"mismatches,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	OverallScore float64  `json:"overall_score"`
}

// EstimateResult is the full structured output of the estimator pipeline.
type EstimateResult struct {
	Items          []EstimateItem `json:"items"`
	DiscrepancyLog []string       `json:"discrepancy_log,omitempty"`
	MissingItems   []string       `json:"missing_items,omitempty"`
	ReviewFlags    []string       `json:"review_flags,omitempty"`
	Verification   *Verification  `json:"verification,omitempty"`
}

// EvidenceSnippet is a raw evidence fragment independent of the
// structured items, kept even for content the model didn't turn into an
// item.
type EvidenceSnippet struct {
	Filename string `json:"filename"`
	Page     int    `json:"page"`
	Kind     string `json:"kind"`
	Text     string `json:"text"`
}
