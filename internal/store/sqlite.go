package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/takeoff-worker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for
// local development and tests; production deployments use Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	bid_id      TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	trade_code  TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'queued',
	lock_id     TEXT,
	locked_at   DATETIME,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at  DATETIME,
	finished_at DATETIME
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
	started_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at       DATETIME,
	last_error        TEXT,
	summary           TEXT
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
	legend            TEXT
);

CREATE INDEX IF NOT EXISTS idx_documents_bid_id ON documents(bid_id);

CREATE TABLE IF NOT EXISTS artifacts (
	run_id      TEXT NOT NULL,
	document_id TEXT NOT NULL,
	page_number INTEGER NOT NULL,
	method      TEXT NOT NULL,
	raw_text    TEXT NOT NULL DEFAULT '',
	meta        TEXT,
	PRIMARY KEY (run_id, document_id, page_number)
);

CREATE TABLE IF NOT EXISTS findings (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	bid_id        TEXT NOT NULL,
	document_id   TEXT NOT NULL,
	page_number   INTEGER NOT NULL DEFAULT 0,
	type          TEXT NOT NULL,
	confidence    REAL NOT NULL DEFAULT 0,
	data          TEXT,
	evidence_text TEXT NOT NULL DEFAULT '',
	evidence      TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
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
	qty_number  REAL,
	qty_text    TEXT NOT NULL DEFAULT '',
	unit        TEXT NOT NULL DEFAULT '',
	confidence  REAL NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'draft',
	UNIQUE (run_id, item_key)
);

CREATE TABLE IF NOT EXISTS item_evidence (
	id         TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL REFERENCES items(id),
	finding_id TEXT NOT NULL REFERENCES findings(id),
	weight     REAL NOT NULL DEFAULT 1,
	note       TEXT NOT NULL DEFAULT '',
	UNIQUE (item_id, finding_id)
);

CREATE TABLE IF NOT EXISTS line_items (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	bid_id       TEXT NOT NULL,
	document_id  TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL,
	quantity     REAL NOT NULL DEFAULT 0,
	unit         TEXT NOT NULL DEFAULT '',
	room_number  TEXT NOT NULL DEFAULT '',
	sign_type    TEXT NOT NULL DEFAULT '',
	page_numbers TEXT,
	sheet_refs   TEXT,
	confidence   REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_line_items_run ON line_items(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, params CreateJobParams) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin create job")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, bid_id, user_id, trade_code, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', 0, ?, ?)`,
		id, params.BidID, params.UserID, params.TradeCode, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	for _, docID := range params.DocumentIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO job_documents (job_id, document_id) VALUES (?, ?)
			ON CONFLICT (job_id, document_id) DO NOTHING`,
			id, docID,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert job document %s", docID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit create job")
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

// ClaimNextJob selects the oldest eligible job and takes its lock inside
// one transaction. SQLite's single-writer lock gives the same mutual
// exclusion Postgres gets from FOR UPDATE SKIP LOCKED.
func (s *SQLiteStore) ClaimNextJob(ctx context.Context, workerID string, staleAfter time.Duration) (*model.Job, error) {
	now := time.Now().UTC()
	staleCutoff := now.Add(-staleAfter)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin claim")
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE status = 'queued'
		   OR (status = 'running' AND locked_at IS NOT NULL AND locked_at < ?)
		ORDER BY created_at
		LIMIT 1`,
		staleCutoff,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select eligible job")
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET
			status = 'running',
			lock_id = ?,
			locked_at = ?,
			attempts = attempts + 1,
			started_at = COALESCE(started_at, ?),
			updated_at = ?
		WHERE id = ?
		  AND (status = 'queued' OR (status = 'running' AND locked_at IS NOT NULL AND locked_at < ?))`,
		workerID, now, now, now, id, staleCutoff,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: lock job %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Another worker got there between our select and update.
		return nil, nil
	}

	job, err := scanSQLiteJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: reread claimed job %s", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit claim")
	}
	return job, nil
}

func (s *SQLiteStore) MarkJobSucceeded(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'succeeded', last_error = NULL, finished_at = ?, updated_at = ? WHERE id = ?`,
		now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark job succeeded %s", jobID)
	}
	return checkSQLiteRows(res, "job", jobID)
}

func (s *SQLiteStore) MarkJobFailed(ctx context.Context, jobID, lastError string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', last_error = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		lastError, now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark job failed %s", jobID)
	}
	return checkSQLiteRows(res, "job", jobID)
}

func (s *SQLiteStore) RequeueJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'queued', lock_id = NULL, locked_at = NULL, last_error = NULL, finished_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'failed'`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: requeue job %s", jobID)
	}
	return checkSQLiteRows(res, "failed job", jobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var lockID, lastError sql.NullString
	var lockedAt, startedAt, finishedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.BidID, &j.UserID, &j.TradeCode, &j.Status,
		&lockID, &lockedAt, &j.Attempts, &lastError,
		&j.CreatedAt, &j.UpdatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	j.LockID = lockID.String
	j.LastError = lastError.String
	if lockedAt.Valid {
		t := lockedAt.Time
		j.LockedAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		j.FinishedAt = &t
	}
	return &j, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, params CreateRunParams) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	summaryJSON, err := marshalNullString(params.Summary)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal run summary")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, job_id, bid_id, user_id, status, worker_id, extractor_version, model, started_at, summary)
		VALUES (?, ?, ?, ?, 'running', ?, ?, ?, ?, ?)`,
		id, params.JobID, params.BidID, params.UserID,
		params.WorkerID, params.ExtractorVersion, params.Model, now, summaryJSON,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, lastError string, summary *model.RunSummary) error {
	summaryJSON, err := marshalNullString(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}

	var errVal sql.NullString
	if lastError != "" {
		errVal = sql.NullString{String: lastError, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, last_error = ?, summary = COALESCE(?, summary), finished_at = ?
		WHERE id = ?`,
		string(status), errVal, summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkSQLiteRows(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, bid_id, user_id, status, worker_id, extractor_version, model, started_at, finished_at, last_error, summary
		FROM runs WHERE id = ?`,
		runID,
	)

	var r model.Run
	var lastError, summaryJSON sql.NullString
	var finishedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.JobID, &r.BidID, &r.UserID, &r.Status, &r.WorkerID,
		&r.ExtractorVersion, &r.Model, &r.StartedAt, &finishedAt,
		&lastError, &summaryJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	r.LastError = lastError.String
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	if summaryJSON.Valid && summaryJSON.String != "" {
		if err := json.Unmarshal([]byte(summaryJSON.String), &r.Summary); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal run summary %s", runID)
		}
	}
	return &r, nil
}

func (s *SQLiteStore) InsertDocuments(ctx context.Context, docs []model.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert documents")
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range docs {
		status := d.ExtractionStatus
		if status == "" {
			status = model.ExtractionPending
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (id, bid_id, filename, storage_path, page_count, extraction_status, line_item_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			d.ID, d.BidID, d.Filename, d.StoragePath, d.PageCount, string(status), d.LineItemCount,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert document")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert documents")
}

func (s *SQLiteStore) ListJobDocuments(ctx context.Context, jobID string) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.bid_id, d.filename, d.storage_path, d.page_count, d.extraction_status, d.line_item_count
		FROM documents d
		JOIN job_documents jd ON jd.document_id = d.id
		WHERE jd.job_id = ?
		ORDER BY d.filename`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list job documents %s", jobID)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.BidID, &d.Filename, &d.StoragePath, &d.PageCount, &d.ExtractionStatus, &d.LineItemCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: iterate documents")
}

func (s *SQLiteStore) UpdateDocumentPageCount(ctx context.Context, documentID string, pageCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET page_count = ? WHERE id = ? AND page_count = 0`,
		pageCount, documentID,
	)
	return eris.Wrapf(err, "sqlite: backfill page count %s", documentID)
}

func (s *SQLiteStore) UpdateDocumentExtraction(ctx context.Context, documentID string, status model.ExtractionStatus, lineItemCount int, legend map[string]any) error {
	legendJSON, err := marshalNullString(legend)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal legend")
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE documents SET extraction_status = ?, line_item_count = ?, legend = COALESCE(?, legend)
		WHERE id = ?`,
		string(status), lineItemCount, legendJSON, documentID,
	)
	return eris.Wrapf(err, "sqlite: update document extraction %s", documentID)
}

func (s *SQLiteStore) InsertArtifacts(ctx context.Context, artifacts []model.Artifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert artifacts")
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range artifacts {
		metaJSON, err := marshalNullString(a.Meta)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal artifact meta")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO artifacts (run_id, document_id, page_number, method, raw_text, meta)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id, document_id, page_number) DO NOTHING`,
			a.RunID, a.DocumentID, a.PageNumber, string(a.Method), a.RawText, metaJSON,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert artifact")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert artifacts")
}

func (s *SQLiteStore) InsertFindings(ctx context.Context, findings []model.Finding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert findings")
	}
	defer func() { _ = tx.Rollback() }()

	for _, f := range findings {
		dataJSON, err := marshalNullString(f.Data)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal finding data")
		}
		evidenceJSON, err := marshalNullString(f.Evidence)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal finding evidence")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO findings (id, run_id, bid_id, document_id, page_number, type, confidence, data, evidence_text, evidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			f.ID, f.RunID, f.BidID, f.DocumentID, f.PageNumber,
			string(f.Type), f.Confidence, dataJSON, f.EvidenceText, evidenceJSON,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert finding")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert findings")
}

func (s *SQLiteStore) UpsertItems(ctx context.Context, items []model.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert items")
	}
	defer func() { _ = tx.Rollback() }()

	for _, it := range items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO items (id, run_id, bid_id, user_id, trade_code, item_key, code, category, description, qty_number, qty_text, unit, confidence, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id, item_key) DO NOTHING`,
			it.ID, it.RunID, it.BidID, it.UserID, it.TradeCode, it.ItemKey,
			it.Code, it.Category, it.Description, it.QtyNumber, it.QtyText,
			it.Unit, it.Confidence, string(it.Status),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: upsert item")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert items")
}

func (s *SQLiteStore) InsertItemEvidence(ctx context.Context, links []model.ItemEvidence) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert item evidence")
	}
	defer func() { _ = tx.Rollback() }()

	for _, l := range links {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO item_evidence (id, item_id, finding_id, weight, note)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (item_id, finding_id) DO NOTHING`,
			l.ID, l.ItemID, l.FindingID, l.Weight, l.Note,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert item evidence")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert item evidence")
}

func (s *SQLiteStore) InsertLineItems(ctx context.Context, lines []model.LineItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert line items")
	}
	defer func() { _ = tx.Rollback() }()

	for _, li := range lines {
		pagesJSON, err := marshalNullString(li.PageNumbers)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal line item pages")
		}
		sheetsJSON, err := marshalNullString(li.SheetRefs)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal line item sheets")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO line_items (id, run_id, bid_id, document_id, name, quantity, unit, room_number, sign_type, page_numbers, sheet_refs, confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			li.ID, li.RunID, li.BidID, li.DocumentID, li.Name, li.Quantity,
			li.Unit, li.RoomNumber, li.SignType, pagesJSON, sheetsJSON, li.Confidence,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert line item")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert line items")
}

func (s *SQLiteStore) ListRunItems(ctx context.Context, runID string) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, bid_id, user_id, trade_code, item_key, code, category, description, qty_number, qty_text, unit, confidence, status
		FROM items WHERE run_id = ?
		ORDER BY category, code, description`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list run items %s", runID)
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
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: iterate items")
}

func (s *SQLiteStore) ListEscalationCandidates(ctx context.Context, runID string, limit int) ([]EscalationCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.document_id, COALESCE(CAST(json_extract(f.data, '$.score') AS REAL), 0) AS score
		FROM findings f
		WHERE f.run_id = ? AND f.type = 'index_score'
		  AND NOT EXISTS (
			SELECT 1 FROM findings d
			WHERE d.run_id = f.run_id AND d.document_id = f.document_id AND d.type <> 'index_score'
		  )
		ORDER BY score DESC
		LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list escalation candidates %s", runID)
	}
	defer rows.Close()

	var out []EscalationCandidate
	for rows.Next() {
		var c EscalationCandidate
		if err := rows.Scan(&c.DocumentID, &c.Score); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan escalation candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate escalation candidates")
}

func checkSQLiteRows(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}

// marshalNullString renders v as a JSON string, or NULL when v is nil.
func marshalNullString(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return sql.NullString{}, nil
		}
	case []int:
		if t == nil {
			return sql.NullString{}, nil
		}
	case []string:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *model.RunSummary:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
