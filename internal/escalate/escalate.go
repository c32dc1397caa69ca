// Package escalate creates follow-up jobs for documents the index phase
// scored well but no run ever processed deeply.
package escalate

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff-worker/internal/config"
	"github.com/sells-group/takeoff-worker/internal/model"
	"github.com/sells-group/takeoff-worker/internal/store"
)

// Sentinel errors the HTTP layer maps onto status codes.
var (
	ErrRunNotFinished = eris.New("escalate: run has not finished")
	ErrNoCandidates   = eris.New("escalate: no eligible follow-up documents")
)

// Store is the slice of the storage layer escalation needs.
type Store interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListEscalationCandidates(ctx context.Context, runID string, limit int) ([]store.EscalationCandidate, error)
	CreateJob(ctx context.Context, params store.CreateJobParams) (*model.Job, error)
	CreateRun(ctx context.Context, params store.CreateRunParams) (*model.Run, error)
}

// Controller turns weak evidence coverage into a narrower follow-up job.
type Controller struct {
	store Store
	cfg   config.EscalateConfig
}

// New builds a Controller.
func New(s Store, cfg config.EscalateConfig) *Controller {
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = 12
	}
	return &Controller{store: s, cfg: cfg}
}

// Result describes the follow-up work an escalation created.
type Result struct {
	JobID            string   `json:"job_id"`
	RunID            string   `json:"run_id"`
	AddedDocumentIDs []string `json:"added_document_ids"`
}

// EscalateRun creates a new job over the run's highest-scored documents
// that no deep pass ever touched, plus a placeholder run linked back to
// the original.
func (c *Controller) EscalateRun(ctx context.Context, runID string) (*Result, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == model.RunStatusRunning {
		return nil, ErrRunNotFinished
	}

	job, err := c.store.GetJob(ctx, run.JobID)
	if err != nil {
		return nil, eris.Wrap(err, "escalate: load originating job")
	}

	candidates, err := c.store.ListEscalationCandidates(ctx, runID, c.cfg.MaxDocuments)
	if err != nil {
		return nil, eris.Wrap(err, "escalate: list candidates")
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	docIDs := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		docIDs = append(docIDs, cand.DocumentID)
	}

	newJob, err := c.store.CreateJob(ctx, store.CreateJobParams{
		BidID:       job.BidID,
		UserID:      job.UserID,
		TradeCode:   job.TradeCode,
		DocumentIDs: docIDs,
	})
	if err != nil {
		return nil, eris.Wrap(err, "escalate: create job")
	}

	newRun, err := c.store.CreateRun(ctx, store.CreateRunParams{
		JobID:    newJob.ID,
		BidID:    job.BidID,
		UserID:   job.UserID,
		WorkerID: "escalation",
		Summary: &model.RunSummary{
			Kind:          "escalation",
			ParentRunID:   runID,
			DocumentCount: len(docIDs),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "escalate: create placeholder run")
	}

	zap.L().Info("run escalated",
		zap.String("parent_run_id", runID),
		zap.String("job_id", newJob.ID),
		zap.String("run_id", newRun.ID),
		zap.Int("documents", len(docIDs)),
	)
	return &Result{JobID: newJob.ID, RunID: newRun.ID, AddedDocumentIDs: docIDs}, nil
}
