package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/takeoff-worker/internal/config"
	"github.com/sells-group/takeoff-worker/internal/db"
	"github.com/sells-group/takeoff-worker/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, cfg config.StoreConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if cfg.MaxConns > 0 {
		maxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		minConns = cfg.MinConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	bid_id      TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	trade_code  TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'queued',
	lock_id     TEXT,
	locked_at   TIMESTAMPTZ,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);

CREATE TABLE IF NOT EXISTS job_documents (
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	document_id TEXT NOT NULL,
	PRIMARY KEY (job_id, document_id)
);

CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	job_id            TEXT NOT NULL REFERENCES jobs(id),
	bid_id            TEXT NOT NULL,
	user_id           TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'running',
	worker_id         TEXT NOT NULL DEFAULT '',
	extractor_version TEXT NOT NULL DEFAULT '',
	model             TEXT NOT NULL DEFAULT '',
	started_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at       TIMESTAMPTZ,
	last_error        TEXT,
	summary           JSONB
);

CREATE INDEX IF NOT EXISTS idx_runs_job_id ON runs(job_id);

CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY,
	bid_id            TEXT NOT NULL,
	filename          TEXT NOT NULL,
	storage_path      TEXT NOT NULL,
	page_count        INTEGER NOT NULL DEFAULT 0,
	extraction_status TEXT NOT NULL DEFAULT 'pending',
	line_item_count   INTEGER NOT NULL DEFAULT 0,
	legend            JSONB
);

CREATE INDEX IF NOT EXISTS idx_documents_bid_id ON documents(bid_id);

CREATE TABLE IF NOT EXISTS artifacts (
	run_id      TEXT NOT NULL,
	document_id TEXT NOT NULL,
	page_number INTEGER NOT NULL,
	method      TEXT NOT NULL,
	raw_text    TEXT NOT NULL DEFAULT '',
	meta        JSONB,
	PRIMARY KEY (run_id, document_id, page_number)
);

CREATE TABLE IF NOT EXISTS findings (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	bid_id        TEXT NOT NULL,
	document_id   TEXT NOT NULL,
	page_number   INTEGER NOT NULL DEFAULT 0,
	type          TEXT NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	data          JSONB,
	evidence_text TEXT NOT NULL DEFAULT '',
	evidence      JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_findings_run_type ON findings(run_id, type);
CREATE INDEX IF NOT EXISTS idx_findings_run_doc ON findings(run_id, document_id);

CREATE TABLE IF NOT EXISTS items (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	bid_id      TEXT NOT NULL,
	user_id     TEXT NOT NULL DEFAULT '',
	trade_code  TEXT NOT NULL DEFAULT '',
	item_key    TEXT NOT NULL,
	code        TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	qty_number  DOUBLE PRECISION,
	qty_text    TEXT NOT NULL DEFAULT '',
	unit        TEXT NOT NULL DEFAULT '',
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'draft',
	UNIQUE (run_id, item_key)
);

CREATE TABLE IF NOT EXISTS item_evidence (
	id         TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL REFERENCES items(id),
	finding_id TEXT NOT NULL REFERENCES findings(id),
	weight     DOUBLE PRECISION NOT NULL DEFAULT 1,
	note       TEXT NOT NULL DEFAULT '',
	UNIQUE (item_id, finding_id)
);

CREATE TABLE IF NOT EXISTS line_items (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	bid_id       TEXT NOT NULL,
	document_id  TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL,
	quantity     DOUBLE PRECISION NOT NULL DEFAULT 0,
	unit         TEXT NOT NULL DEFAULT '',
	room_number  TEXT NOT NULL DEFAULT '',
	sign_type    TEXT NOT NULL DEFAULT '',
	page_numbers JSONB,
	sheet_refs   JSONB,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_line_items_run ON line_items(run_id);
`

// Migrate applies the schema. All statements are IF NOT EXISTS so it is
// safe to run on every startup.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, params CreateJobParams) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create job")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, bid_id, user_id, trade_code, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'queued', 0, $5, $5)`,
		id, params.BidID, params.UserID, params.TradeCode, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	for _, docID := range params.DocumentIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO job_documents (job_id, document_id)
			VALUES ($1, $2)
			ON CONFLICT (job_id, document_id) DO NOTHING`,
			id, docID,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: insert job document %s", docID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create job")
	}

	return &model.Job{
		ID:        id,
		BidID:     params.BidID,
		UserID:    params.UserID,
		TradeCode: params.TradeCode,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

const jobColumns = `id, bid_id, user_id, trade_code, status, lock_id, locked_at, attempts, last_error, created_at, updated_at, started_at, finished_at`

// claimSQL picks the oldest eligible job and takes its lock in a single
// atomic statement. FOR UPDATE SKIP LOCKED makes concurrent claimers
// skip a row another transaction is in the middle of taking, so N
// workers polling at once never double-claim. A running job becomes
// eligible again only once its lock predates the staleness cutoff.
const claimSQL = `
	WITH eligible AS (
		SELECT id FROM jobs
		WHERE status = 'queued'
		   OR (status = 'running' AND locked_at IS NOT NULL AND locked_at < $2)
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE jobs SET
		status = 'running',
		lock_id = $1,
		locked_at = now(),
		attempts = attempts + 1,
		started_at = COALESCE(started_at, now()),
		updated_at = now()
	FROM eligible
	WHERE jobs.id = eligible.id
	RETURNING jobs.id, jobs.bid_id, jobs.user_id, jobs.trade_code, jobs.status, jobs.lock_id, jobs.locked_at, jobs.attempts, jobs.last_error, jobs.created_at, jobs.updated_at, jobs.started_at, jobs.finished_at`

func (s *PostgresStore) ClaimNextJob(ctx context.Context, workerID string, staleAfter time.Duration) (*model.Job, error) {
	staleCutoff := time.Now().UTC().Add(-staleAfter)

	row := s.pool.QueryRow(ctx, claimSQL, workerID, staleCutoff)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: claim next job")
	}
	return job, nil
}

func (s *PostgresStore) MarkJobSucceeded(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'succeeded', last_error = NULL, finished_at = now(), updated_at = now()
		WHERE id = $1`,
		jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark job succeeded %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) MarkJobFailed(ctx context.Context, jobID, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'failed', last_error = $2, finished_at = now(), updated_at = now()
		WHERE id = $1`,
		jobID, lastError,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark job failed %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) RequeueJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'queued', lock_id = NULL, locked_at = NULL, last_error = NULL, finished_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'failed'`,
		jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: requeue job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "failed job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var lockID, lastError *string
	err := row.Scan(
		&j.ID, &j.BidID, &j.UserID, &j.TradeCode, &j.Status,
		&lockID, &j.LockedAt, &j.Attempts, &lastError,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if lockID != nil {
		j.LockID = *lockID
	}
	if lastError != nil {
		j.LastError = *lastError
	}
	return &j, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, params CreateRunParams) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	var summaryJSON []byte
	if params.Summary != nil {
		var err error
		summaryJSON, err = json.Marshal(params.Summary)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal run summary")
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, job_id, bid_id, user_id, status, worker_id, extractor_version, model, started_at, summary)
		VALUES ($1, $2, $3, $4, 'running', $5, $6, $7, $8, $9)`,
		id, params.JobID, params.BidID, params.UserID,
		params.WorkerID, params.ExtractorVersion, params.Model, now, summaryJSON,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:               id,
		JobID:            params.JobID,
		BidID:            params.BidID,
		UserID:           params.UserID,
		Status:           model.RunStatusRunning,
		WorkerID:         params.WorkerID,
		ExtractorVersion: params.ExtractorVersion,
		Model:            params.Model,
		StartedAt:        now,
		Summary:          params.Summary,
	}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, lastError string, summary *model.RunSummary) error {
	var summaryJSON []byte
	if summary != nil {
		var err error
		summaryJSON, err = json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal run summary")
		}
	}

	var errPtr *string
	if lastError != "" {
		errPtr = &lastError
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET status = $2, last_error = $3, summary = COALESCE($4, summary), finished_at = now()
		WHERE id = $1`,
		runID, string(status), errPtr, summaryJSON,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, job_id, bid_id, user_id, status, worker_id, extractor_version, model, started_at, finished_at, last_error, summary
		FROM runs WHERE id = $1`,
		runID,
	)

	var r model.Run
	var lastError *string
	var summaryJSON []byte
	err := row.Scan(
		&r.ID, &r.JobID, &r.BidID, &r.UserID, &r.Status, &r.WorkerID,
		&r.ExtractorVersion, &r.Model, &r.StartedAt, &r.FinishedAt,
		&lastError, &summaryJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	if lastError != nil {
		r.LastError = *lastError
	}
	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &r.Summary); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal run summary %s", runID)
		}
	}
	return &r, nil
}

func (s *PostgresStore) InsertDocuments(ctx context.Context, docs []model.Document) error {
	cols := []string{"id", "bid_id", "filename", "storage_path", "page_count", "extraction_status", "line_item_count"}
	for _, chunk := range db.Chunk(docs, db.DefaultChunkSize) {
		args := make([]any, 0, len(chunk)*len(cols))
		for _, d := range chunk {
			status := d.ExtractionStatus
			if status == "" {
				status = model.ExtractionPending
			}
			args = append(args, d.ID, d.BidID, d.Filename, d.StoragePath, d.PageCount, string(status), d.LineItemCount)
		}
		sql := db.MultiInsertSQL("documents", cols, len(chunk), "ON CONFLICT (id) DO NOTHING")
		if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
			return eris.Wrap(err, "postgres: insert documents")
		}
	}
	return nil
}

func (s *PostgresStore) ListJobDocuments(ctx context.Context, jobID string) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.bid_id, d.filename, d.storage_path, d.page_count, d.extraction_status, d.line_item_count
		FROM documents d
		JOIN job_documents jd ON jd.document_id = d.id
		WHERE jd.job_id = $1
		ORDER BY d.filename`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list job documents %s", jobID)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.BidID, &d.Filename, &d.StoragePath, &d.PageCount, &d.ExtractionStatus, &d.LineItemCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: iterate documents")
}

func (s *PostgresStore) UpdateDocumentPageCount(ctx context.Context, documentID string, pageCount int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE documents SET page_count = $2 WHERE id = $1 AND page_count = 0`,
		documentID, pageCount,
	)
	return eris.Wrapf(err, "postgres: backfill page count %s", documentID)
}

func (s *PostgresStore) UpdateDocumentExtraction(ctx context.Context, documentID string, status model.ExtractionStatus, lineItemCount int, legend map[string]any) error {
	var legendJSON []byte
	if legend != nil {
		var err error
		legendJSON, err = json.Marshal(legend)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal legend")
		}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE documents SET extraction_status = $2, line_item_count = $3, legend = COALESCE($4, legend)
		WHERE id = $1`,
		documentID, string(status), lineItemCount, legendJSON,
	)
	return eris.Wrapf(err, "postgres: update document extraction %s", documentID)
}

func (s *PostgresStore) InsertArtifacts(ctx context.Context, artifacts []model.Artifact) error {
	cols := []string{"run_id", "document_id", "page_number", "method", "raw_text", "meta"}
	for _, chunk := range db.Chunk(artifacts, db.DefaultChunkSize) {
		args := make([]any, 0, len(chunk)*len(cols))
		for _, a := range chunk {
			metaJSON, err := marshalOrNil(a.Meta)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal artifact meta")
			}
			args = append(args, a.RunID, a.DocumentID, a.PageNumber, string(a.Method), a.RawText, metaJSON)
		}
		sql := db.MultiInsertSQL("artifacts", cols, len(chunk),
			"ON CONFLICT (run_id, document_id, page_number) DO NOTHING")
		if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
			return eris.Wrap(err, "postgres: insert artifacts")
		}
	}
	return nil
}

func (s *PostgresStore) InsertFindings(ctx context.Context, findings []model.Finding) error {
	cols := []string{"id", "run_id", "bid_id", "document_id", "page_number", "type", "confidence", "data", "evidence_text", "evidence"}
	for _, chunk := range db.Chunk(findings, db.DefaultChunkSize) {
		args := make([]any, 0, len(chunk)*len(cols))
		for _, f := range chunk {
			dataJSON, err := marshalOrNil(f.Data)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal finding data")
			}
			evidenceJSON, err := marshalOrNil(f.Evidence)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal finding evidence")
			}
			args = append(args,
				f.ID, f.RunID, f.BidID, f.DocumentID, f.PageNumber,
				string(f.Type), f.Confidence, dataJSON, f.EvidenceText, evidenceJSON,
			)
		}
		sql := db.MultiInsertSQL("findings", cols, len(chunk), "ON CONFLICT (id) DO NOTHING")
		if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
			return eris.Wrap(err, "postgres: insert findings")
		}
	}
	return nil
}

// UpsertItems inserts items, leaving existing rows untouched when the
// (run_id, item_key) pair already exists. Re-deriving the same item
// within a run is a no-op, not an error.
func (s *PostgresStore) UpsertItems(ctx context.Context, items []model.Item) error {
	cols := []string{"id", "run_id", "bid_id", "user_id", "trade_code", "item_key", "code", "category", "description", "qty_number", "qty_text", "unit", "confidence", "status"}
	for _, chunk := range db.Chunk(items, db.DefaultChunkSize) {
		args := make([]any, 0, len(chunk)*len(cols))
		for _, it := range chunk {
			args = append(args,
				it.ID, it.RunID, it.BidID, it.UserID, it.TradeCode, it.ItemKey,
				it.Code, it.Category, it.Description, it.QtyNumber, it.QtyText,
				it.Unit, it.Confidence, string(it.Status),
			)
		}
		sql := db.MultiInsertSQL("items", cols, len(chunk),
			"ON CONFLICT (run_id, item_key) DO NOTHING")
		if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
			return eris.Wrap(err, "postgres: upsert items")
		}
	}
	return nil
}

func (s *PostgresStore) InsertItemEvidence(ctx context.Context, links []model.ItemEvidence) error {
	cols := []string{"id", "item_id", "finding_id", "weight", "note"}
	for _, chunk := range db.Chunk(links, db.DefaultChunkSize) {
		args := make([]any, 0, len(chunk)*len(cols))
		for _, l := range chunk {
			args = append(args, l.ID, l.ItemID, l.FindingID, l.Weight, l.Note)
		}
		sql := db.MultiInsertSQL("item_evidence", cols, len(chunk),
			"ON CONFLICT (item_id, finding_id) DO NOTHING")
		if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
			return eris.Wrap(err, "postgres: insert item evidence")
		}
	}
	return nil
}

func (s *PostgresStore) InsertLineItems(ctx context.Context, lines []model.LineItem) error {
	cols := []string{"id", "run_id", "bid_id", "document_id", "name", "quantity", "unit", "room_number", "sign_type", "page_numbers", "sheet_refs", "confidence"}
	for _, chunk := range db.Chunk(lines, db.DefaultChunkSize) {
		args := make([]any, 0, len(chunk)*len(cols))
		for _, li := range chunk {
			pagesJSON, err := marshalOrNil(li.PageNumbers)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal line item pages")
			}
			sheetsJSON, err := marshalOrNil(li.SheetRefs)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal line item sheets")
			}
			args = append(args,
				li.ID, li.RunID, li.BidID, li.DocumentID, li.Name, li.Quantity,
				li.Unit, li.RoomNumber, li.SignType, pagesJSON, sheetsJSON, li.Confidence,
			)
		}
		sql := db.MultiInsertSQL("line_items", cols, len(chunk), "ON CONFLICT (id) DO NOTHING")
		if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
			return eris.Wrap(err, "postgres: insert line items")
		}
	}
	return nil
}

func (s *PostgresStore) ListRunItems(ctx context.Context, runID string) ([]model.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, bid_id, user_id, trade_code, item_key, code, category, description, qty_number, qty_text, unit, confidence, status
		FROM items WHERE run_id = $1
		ORDER BY category, code, description`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list run items %s", runID)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(
			&it.ID, &it.RunID, &it.BidID, &it.UserID, &it.TradeCode, &it.ItemKey,
			&it.Code, &it.Category, &it.Description, &it.QtyNumber, &it.QtyText,
			&it.Unit, &it.Confidence, &it.Status,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: iterate items")
}

// ListEscalationCandidates returns index-phase document scores for a run
// where the document has no deeper (non-index) findings, ordered by
// score descending.
func (s *PostgresStore) ListEscalationCandidates(ctx context.Context, runID string, limit int) ([]EscalationCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.document_id, COALESCE((f.data->>'score')::double precision, 0) AS score
		FROM findings f
		WHERE f.run_id = $1 AND f.type = 'index_score'
		  AND NOT EXISTS (
			SELECT 1 FROM findings d
			WHERE d.run_id = f.run_id AND d.document_id = f.document_id AND d.type <> 'index_score'
		  )
		ORDER BY score DESC
		LIMIT $2`,
		runID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list escalation candidates %s", runID)
	}
	defer rows.Close()

	var out []EscalationCandidate
	for rows.Next() {
		var c EscalationCandidate
		if err := rows.Scan(&c.DocumentID, &c.Score); err != nil {
			return nil, eris.Wrap(err, "postgres: scan escalation candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate escalation candidates")
}

func marshalOrNil(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	case []int:
		if t == nil {
			return nil, nil
		}
	case []string:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
