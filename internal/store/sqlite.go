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

	"github.com/sells-group/diligence-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id         TEXT PRIMARY KEY,
	org_id     TEXT NOT NULL,
	name       TEXT NOT NULL,
	metadata   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	deal_id        TEXT NOT NULL REFERENCES deals(id),
	doc_type       TEXT NOT NULL,
	name           TEXT NOT NULL,
	extracted_text TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	deal_id    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS current_facts (
	deal_id         TEXT NOT NULL,
	key             TEXT NOT NULL,
	category        TEXT NOT NULL DEFAULT '',
	value           TEXT NOT NULL,
	display_value   TEXT NOT NULL DEFAULT '',
	unit            TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL,
	confidence      INTEGER NOT NULL,
	disputed        INTEGER NOT NULL DEFAULT 0,
	history         TEXT NOT NULL DEFAULT '[]',
	first_seen_at   DATETIME NOT NULL,
	last_updated_at DATETIME NOT NULL,
	PRIMARY KEY (deal_id, key)
);

CREATE INDEX IF NOT EXISTS idx_deals_org_id ON deals(org_id);
CREATE INDEX IF NOT EXISTS idx_documents_deal_id ON documents(deal_id);
CREATE INDEX IF NOT EXISTS idx_runs_deal_id ON runs(deal_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveDeal(ctx context.Context, deal *model.Deal) error {
	metadata, err := json.Marshal(deal)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal deal")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deals (id, org_id, name, metadata, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET org_id = excluded.org_id, name = excluded.name, metadata = excluded.metadata`,
		deal.ID, deal.OrgID, deal.Name, string(metadata), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save deal %s", deal.ID)
}

func (s *SQLiteStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	var metadata string
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM deals WHERE id = ?`, dealID).Scan(&metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get deal %s", dealID)
	}

	var deal model.Deal
	if err := json.Unmarshal([]byte(metadata), &deal); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal deal")
	}
	return &deal, nil
}

func (s *SQLiteStore) SaveDocuments(ctx context.Context, dealID string, docs []model.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, d := range docs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, deal_id, doc_type, name, extracted_text, created_at) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET doc_type = excluded.doc_type, name = excluded.name, extracted_text = excluded.extracted_text`,
			d.ID, dealID, string(d.Type), d.Name, d.ExtractedText, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save document %s", d.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit documents")
}

func (s *SQLiteStore) Documents(ctx context.Context, dealID string) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc_type, name, extracted_text FROM documents WHERE deal_id = ? ORDER BY created_at`,
		dealID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list documents for deal %s", dealID)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		var docType string
		if err := rows.Scan(&d.ID, &docType, &d.Name, &d.ExtractedText); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		d.Type = model.DocumentType(docType)
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, dealID string) (*model.AnalysisRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, deal_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, dealID, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run for deal %s", dealID)
	}

	return &model.AnalysisRun{
		ID:        id,
		DealID:    dealID,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) SaveRunResult(ctx context.Context, run *model.AnalysisRun) error {
	resultJSON, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(run.Status), run.Error, time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save run result %s", run.ID)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, deal_id, status, result, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	run, err := scanSQLiteRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error) {
	query := `SELECT id, deal_id, status, result, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.DealID != "" {
		query += ` AND deal_id = ?`
		args = append(args, filter.DealID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.AnalysisRun
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CurrentFacts(ctx context.Context, dealID string) ([]model.CurrentFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT deal_id, key, category, value, display_value, unit, source, confidence, disputed, history, first_seen_at, last_updated_at
		 FROM current_facts WHERE deal_id = ? ORDER BY key`,
		dealID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: current facts for deal %s", dealID)
	}
	defer rows.Close()

	var facts []model.CurrentFact
	for rows.Next() {
		var cf model.CurrentFact
		var key, category, valueJSON, historyJSON string
		if err := rows.Scan(&cf.DealID, &key, &category, &valueJSON, &cf.DisplayValue, &cf.Unit,
			&cf.Source, &cf.Confidence, &cf.Disputed, &historyJSON, &cf.FirstSeenAt, &cf.LastUpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan current fact")
		}
		cf.Key = model.FactKey(key)
		cf.Category = model.FactCategory(category)
		if err := json.Unmarshal([]byte(valueJSON), &cf.Value); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal fact value %s", key)
		}
		if err := json.Unmarshal([]byte(historyJSON), &cf.History); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal fact history %s", key)
		}
		facts = append(facts, cf)
	}
	return facts, eris.Wrap(rows.Err(), "sqlite: current facts iterate")
}

func (s *SQLiteStore) ReplaceCurrentFact(ctx context.Context, cf *model.CurrentFact) error {
	valueJSON, err := json.Marshal(cf.Value)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal fact value %s", cf.Key)
	}
	historyJSON, err := json.Marshal(cf.History)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal fact history %s", cf.Key)
	}
	if string(historyJSON) == "null" {
		historyJSON = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO current_facts
		 (deal_id, key, category, value, display_value, unit, source, confidence, disputed, history, first_seen_at, last_updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (deal_id, key) DO UPDATE SET
		   category = excluded.category, value = excluded.value, display_value = excluded.display_value,
		   unit = excluded.unit, source = excluded.source, confidence = excluded.confidence,
		   disputed = excluded.disputed, history = excluded.history, last_updated_at = excluded.last_updated_at`,
		cf.DealID, string(cf.Key), string(cf.Category), string(valueJSON), cf.DisplayValue, cf.Unit,
		cf.Source, cf.Confidence, cf.Disputed, string(historyJSON), cf.FirstSeenAt, cf.LastUpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: replace current fact %s", cf.Key)
}

// helpers

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSQLiteRun(row scannable) (*model.AnalysisRun, error) {
	var id, dealID, status string
	var resultJSON, errMsg sql.NullString
	var createdAt, updatedAt time.Time

	if err := row.Scan(&id, &dealID, &status, &resultJSON, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	run := &model.AnalysisRun{}
	if resultJSON.Valid {
		if err := json.Unmarshal([]byte(resultJSON.String), run); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run result")
		}
	}
	run.ID = id
	run.DealID = dealID
	run.Status = model.RunStatus(status)
	run.CreatedAt = createdAt
	run.UpdatedAt = updatedAt
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return run, nil
}
