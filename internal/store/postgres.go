package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/db"
	"github.com/sells-group/diligence-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, deal_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"save_run_result":   `UPDATE runs SET result = $1, status = $2, error = $3, updated_at = $4 WHERE id = $5`,
	"get_run":           `SELECT id, deal_id, status, result, error, created_at, updated_at FROM runs WHERE id = $1`,
	"get_deal":          `SELECT metadata FROM deals WHERE id = $1`,
	"get_current_facts": `SELECT deal_id, key, category, value, display_value, unit, source, confidence, disputed, history, first_seen_at, last_updated_at FROM current_facts WHERE deal_id = $1 ORDER BY key`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., the credit ledger).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id         TEXT PRIMARY KEY,
	org_id     TEXT NOT NULL,
	name       TEXT NOT NULL,
	metadata   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	deal_id        TEXT NOT NULL REFERENCES deals(id),
	doc_type       TEXT NOT NULL,
	name           TEXT NOT NULL,
	extracted_text TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	deal_id    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS current_facts (
	deal_id         TEXT NOT NULL,
	key             TEXT NOT NULL,
	category        TEXT NOT NULL DEFAULT '',
	value           JSONB NOT NULL,
	display_value   TEXT NOT NULL DEFAULT '',
	unit            TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL,
	confidence      INTEGER NOT NULL,
	disputed        BOOLEAN NOT NULL DEFAULT false,
	history         JSONB NOT NULL DEFAULT '[]',
	first_seen_at   TIMESTAMPTZ NOT NULL,
	last_updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (deal_id, key)
);

CREATE INDEX IF NOT EXISTS idx_deals_org_id ON deals(org_id);
CREATE INDEX IF NOT EXISTS idx_documents_deal_id ON documents(deal_id);
CREATE INDEX IF NOT EXISTS idx_runs_deal_id ON runs(deal_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_current_facts_disputed ON current_facts(deal_id, disputed);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

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

func (s *PostgresStore) SaveDeal(ctx context.Context, deal *model.Deal) error {
	metadata, err := json.Marshal(deal)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal deal")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO deals (id, org_id, name, metadata, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET org_id = $2, name = $3, metadata = $4`,
		deal.ID, deal.OrgID, deal.Name, metadata, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save deal %s", deal.ID)
}

func (s *PostgresStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	var metadata []byte
	err := s.pool.QueryRow(ctx, `SELECT metadata FROM deals WHERE id = $1`, dealID).Scan(&metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get deal %s", dealID)
	}

	var deal model.Deal
	if err := json.Unmarshal(metadata, &deal); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal deal")
	}
	return &deal, nil
}

func (s *PostgresStore) SaveDocuments(ctx context.Context, dealID string, docs []model.Document) error {
	if len(docs) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(docs))
	now := time.Now().UTC()
	for _, d := range docs {
		rows = append(rows, []any{d.ID, dealID, string(d.Type), d.Name, d.ExtractedText, now})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "documents",
		Columns:      []string{"id", "deal_id", "doc_type", "name", "extracted_text", "created_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"doc_type", "name", "extracted_text"},
	}, rows)
	return eris.Wrapf(err, "postgres: save documents for deal %s", dealID)
}

func (s *PostgresStore) Documents(ctx context.Context, dealID string) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, doc_type, name, extracted_text FROM documents WHERE deal_id = $1 ORDER BY created_at`,
		dealID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list documents for deal %s", dealID)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		var docType string
		if err := rows.Scan(&d.ID, &docType, &d.Name, &d.ExtractedText); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		d.Type = model.DocumentType(docType)
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, dealID string) (*model.AnalysisRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, deal_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, dealID, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert run for deal %s", dealID)
	}

	return &model.AnalysisRun{
		ID:        id,
		DealID:    dealID,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveRunResult(ctx context.Context, run *model.AnalysisRun) error {
	resultJSON, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, error = $3, updated_at = $4 WHERE id = $5`,
		resultJSON, string(run.Status), run.Error, time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save run result %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, deal_id, status, result, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	run, err := scanPostgresRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error) {
	query := `SELECT id, deal_id, status, result, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.DealID != "" {
		query += fmt.Sprintf(` AND deal_id = $%d`, argIdx)
		args = append(args, filter.DealID)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.AnalysisRun
	for rows.Next() {
		run, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CurrentFacts(ctx context.Context, dealID string) ([]model.CurrentFact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT deal_id, key, category, value, display_value, unit, source, confidence, disputed, history, first_seen_at, last_updated_at
		 FROM current_facts WHERE deal_id = $1 ORDER BY key`,
		dealID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: current facts for deal %s", dealID)
	}
	defer rows.Close()

	var facts []model.CurrentFact
	for rows.Next() {
		var cf model.CurrentFact
		var key, category string
		var valueJSON, historyJSON []byte
		if err := rows.Scan(&cf.DealID, &key, &category, &valueJSON, &cf.DisplayValue, &cf.Unit,
			&cf.Source, &cf.Confidence, &cf.Disputed, &historyJSON, &cf.FirstSeenAt, &cf.LastUpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan current fact")
		}
		cf.Key = model.FactKey(key)
		cf.Category = model.FactCategory(category)
		if err := json.Unmarshal(valueJSON, &cf.Value); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal fact value %s", key)
		}
		if err := json.Unmarshal(historyJSON, &cf.History); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal fact history %s", key)
		}
		facts = append(facts, cf)
	}
	return facts, eris.Wrap(rows.Err(), "postgres: current facts iterate")
}

func (s *PostgresStore) ReplaceCurrentFact(ctx context.Context, cf *model.CurrentFact) error {
	valueJSON, err := json.Marshal(cf.Value)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal fact value %s", cf.Key)
	}
	historyJSON, err := json.Marshal(cf.History)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal fact history %s", cf.Key)
	}
	if historyJSON == nil || string(historyJSON) == "null" {
		historyJSON = []byte("[]")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO current_facts
		 (deal_id, key, category, value, display_value, unit, source, confidence, disputed, history, first_seen_at, last_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (deal_id, key) DO UPDATE SET
		   category = $3, value = $4, display_value = $5, unit = $6, source = $7,
		   confidence = $8, disputed = $9, history = $10, last_updated_at = $12`,
		cf.DealID, string(cf.Key), string(cf.Category), valueJSON, cf.DisplayValue, cf.Unit,
		cf.Source, cf.Confidence, cf.Disputed, historyJSON, cf.FirstSeenAt, cf.LastUpdatedAt,
	)
	return eris.Wrapf(err, "postgres: replace current fact %s", cf.Key)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPostgresRun(row scannable) (*model.AnalysisRun, error) {
	var id, dealID, status string
	var resultJSON []byte
	var errMsg *string
	var createdAt, updatedAt time.Time

	if err := row.Scan(&id, &dealID, &status, &resultJSON, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	run := &model.AnalysisRun{}
	if resultJSON != nil {
		if err := json.Unmarshal(resultJSON, run); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run result")
		}
	}
	// Columns are authoritative for identity and lifecycle state.
	run.ID = id
	run.DealID = dealID
	run.Status = model.RunStatus(status)
	run.CreatedAt = createdAt
	run.UpdatedAt = updatedAt
	if errMsg != nil {
		run.Error = *errMsg
	}
	return run, nil
}
