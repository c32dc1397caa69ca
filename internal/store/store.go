// Package store persists the takeoff job queue and evidence graph.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/takeoff-worker/internal/config"
	"github.com/sells-group/takeoff-worker/internal/model"
)

// ErrNotFound is returned when a referenced job or run does not exist.
var ErrNotFound = eris.New("store: not found")

// CreateJobParams fixes a job's bid, trade, and document set at creation
// time. The document set is immutable afterwards.
type CreateJobParams struct {
	BidID       string
	UserID      string
	TradeCode   string
	DocumentIDs []string
}

// CreateRunParams describes a new execution attempt.
type CreateRunParams struct {
	JobID            string
	BidID            string
	UserID           string
	WorkerID         string
	ExtractorVersion string
	Model            string
	Summary          *model.RunSummary // set for escalation placeholder runs
}

// EscalationCandidate is a document scored by the index phase that has
// not yet been deeply processed.
type EscalationCandidate struct {
	DocumentID string
	Score      float64
}

// Store defines the persistence interface for the extraction pipeline.
// All finding/item/link writes are idempotent: re-executing a claimed
// job after a crash must not duplicate rows.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, params CreateJobParams) (*model.Job, error)
	// ClaimNextJob atomically selects the oldest queued job, or a running
	// job whose lock has gone stale, marks it owned by workerID, and
	// returns it. Returns (nil, nil) when no job is eligible.
	ClaimNextJob(ctx context.Context, workerID string, staleAfter time.Duration) (*model.Job, error)
	MarkJobSucceeded(ctx context.Context, jobID string) error
	MarkJobFailed(ctx context.Context, jobID, lastError string) error
	// RequeueJob moves a failed job back to queued, clearing its lock and
	// error. Valid only from the failed state.
	RequeueJob(ctx context.Context, jobID string) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)

	// Runs
	CreateRun(ctx context.Context, params CreateRunParams) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, lastError string, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)

	// Documents
	// InsertDocuments registers documents the scraper produced. Existing
	// rows are left untouched.
	InsertDocuments(ctx context.Context, docs []model.Document) error
	ListJobDocuments(ctx context.Context, jobID string) ([]model.Document, error)
	UpdateDocumentPageCount(ctx context.Context, documentID string, pageCount int) error
	UpdateDocumentExtraction(ctx context.Context, documentID string, status model.ExtractionStatus, lineItemCount int, legend map[string]any) error

	// Artifacts (write-once per run/document/page)
	InsertArtifacts(ctx context.Context, artifacts []model.Artifact) error

	// Evidence graph
	InsertFindings(ctx context.Context, findings []model.Finding) error
	UpsertItems(ctx context.Context, items []model.Item) error
	InsertItemEvidence(ctx context.Context, links []model.ItemEvidence) error
	InsertLineItems(ctx context.Context, lines []model.LineItem) error
	ListRunItems(ctx context.Context, runID string) ([]model.Item, error)

	// Escalation
	ListEscalationCandidates(ctx context.Context, runID string, limit int) ([]EscalationCandidate, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates a Store for the configured driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres", "":
		return NewPostgres(ctx, cfg)
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
