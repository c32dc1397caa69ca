package escalate

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/takeoff-worker/internal/config"
	"github.com/sells-group/takeoff-worker/internal/model"
	"github.com/sells-group/takeoff-worker/internal/store"
)

type fakeStore struct {
	runs       map[string]*model.Run
	jobs       map[string]*model.Job
	candidates []store.EscalationCandidate

	limitSeen     int
	createdJob    *store.CreateJobParams
	createdRun    *store.CreateRunParams
	createJobErr  error
	candidatesErr error
}

func (f *fakeStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return run, nil
}

func (f *fakeStore) GetJob(_ context.Context, jobID string) (*model.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return job, nil
}

func (f *fakeStore) ListEscalationCandidates(_ context.Context, _ string, limit int) ([]store.EscalationCandidate, error) {
	f.limitSeen = limit
	if f.candidatesErr != nil {
		return nil, f.candidatesErr
	}
	if len(f.candidates) > limit {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

func (f *fakeStore) CreateJob(_ context.Context, params store.CreateJobParams) (*model.Job, error) {
	if f.createJobErr != nil {
		return nil, f.createJobErr
	}
	f.createdJob = &params
	return &model.Job{ID: "job-2", BidID: params.BidID, UserID: params.UserID, TradeCode: params.TradeCode, Status: model.JobStatusQueued}, nil
}

func (f *fakeStore) CreateRun(_ context.Context, params store.CreateRunParams) (*model.Run, error) {
	f.createdRun = &params
	return &model.Run{ID: "run-2", JobID: params.JobID, Status: model.RunStatusRunning, Summary: params.Summary}, nil
}

func finishedStore() *fakeStore {
	return &fakeStore{
		runs: map[string]*model.Run{
			"run-1": {ID: "run-1", JobID: "job-1", BidID: "bid-1", Status: model.RunStatusSucceeded},
		},
		jobs: map[string]*model.Job{
			"job-1": {ID: "job-1", BidID: "bid-1", UserID: "user-1", TradeCode: "10 14 00"},
		},
		candidates: []store.EscalationCandidate{
			{DocumentID: "doc-a", Score: 90},
			{DocumentID: "doc-c", Score: 50},
		},
	}
}

func TestEscalateRun_CreatesFollowUpJob(t *testing.T) {
	fs := finishedStore()
	c := New(fs, config.EscalateConfig{MaxDocuments: 12})

	result, err := c.EscalateRun(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, "job-2", result.JobID)
	assert.Equal(t, "run-2", result.RunID)
	assert.Equal(t, []string{"doc-a", "doc-c"}, result.AddedDocumentIDs)
	assert.Equal(t, 12, fs.limitSeen)

	require.NotNil(t, fs.createdJob)
	assert.Equal(t, "bid-1", fs.createdJob.BidID)
	assert.Equal(t, "10 14 00", fs.createdJob.TradeCode)
	assert.Equal(t, []string{"doc-a", "doc-c"}, fs.createdJob.DocumentIDs)

	require.NotNil(t, fs.createdRun)
	require.NotNil(t, fs.createdRun.Summary)
	assert.Equal(t, "escalation", fs.createdRun.Summary.Kind)
	assert.Equal(t, "run-1", fs.createdRun.Summary.ParentRunID)
}

func TestEscalateRun_UnknownRun(t *testing.T) {
	c := New(&fakeStore{runs: map[string]*model.Run{}}, config.EscalateConfig{})
	_, err := c.EscalateRun(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEscalateRun_RunStillRunning(t *testing.T) {
	fs := finishedStore()
	fs.runs["run-1"].Status = model.RunStatusRunning
	c := New(fs, config.EscalateConfig{})

	_, err := c.EscalateRun(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrRunNotFinished)
}

func TestEscalateRun_FailedRunIsEligible(t *testing.T) {
	fs := finishedStore()
	fs.runs["run-1"].Status = model.RunStatusFailed
	c := New(fs, config.EscalateConfig{})

	result, err := c.EscalateRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, result.AddedDocumentIDs, 2)
}

func TestEscalateRun_NoCandidates(t *testing.T) {
	fs := finishedStore()
	fs.candidates = nil
	c := New(fs, config.EscalateConfig{})

	_, err := c.EscalateRun(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestEscalateRun_DefaultDocumentCap(t *testing.T) {
	fs := finishedStore()
	for i := 0; i < 20; i++ {
		fs.candidates = append(fs.candidates, store.EscalationCandidate{DocumentID: "extra", Score: 10})
	}
	c := New(fs, config.EscalateConfig{})

	result, err := c.EscalateRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 12, fs.limitSeen)
	assert.Len(t, result.AddedDocumentIDs, 12)
}

func TestEscalateRun_CreateJobFailure(t *testing.T) {
	fs := finishedStore()
	fs.createJobErr = eris.New("db down")
	c := New(fs, config.EscalateConfig{})

	_, err := c.EscalateRun(context.Background(), "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create job")
}
