package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const schemaLockKey int64 = 2026030201

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	domain TEXT NOT NULL DEFAULT '',
	session_id TEXT,
	status TEXT NOT NULL,
	extracted_data JSONB,
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	artifacts JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_owner_created ON documents(owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_documents_session ON documents(session_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

CREATE TABLE IF NOT EXISTS processing_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	document_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	stopped_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_sessions_active_user ON processing_sessions(user_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS review_tasks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	owner_id TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	assigned_to TEXT,
	status TEXT NOT NULL,
	assigned_at TIMESTAMPTZ NOT NULL,
	due_at TIMESTAMPTZ NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	cycle INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_review_tasks_active_document ON review_tasks(document_id) WHERE status <> 'approved';
CREATE INDEX IF NOT EXISTS idx_review_tasks_owner_open ON review_tasks(owner_id, due_at) WHERE status IN ('assigned', 'changes_requested');

CREATE TABLE IF NOT EXISTS review_transitions (
	id BIGSERIAL PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES review_tasks(id),
	from_status TEXT NOT NULL DEFAULT '',
	to_status TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	at TIMESTAMPTZ NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	cycle INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_transitions_task ON review_transitions(task_id, id);

CREATE TABLE IF NOT EXISTS sla_rules (
	user_id TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	warning_minutes INTEGER NOT NULL,
	breach_minutes INTEGER NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, doc_type),
	CHECK (warning_minutes > 0 AND breach_minutes > warning_minutes)
);

CREATE TABLE IF NOT EXISTS owner_settings (
	user_id TEXT PRIMARY KEY,
	auto_approve_threshold DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates every table the stores use.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(kind, id string) error {
	return domain.WrapError(domain.ErrNotFound, "get "+kind, fmt.Errorf("%s %s", kind, id))
}

// jsonColumn marshals an optional value; nil becomes SQL NULL.
func jsonColumn[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeJSONColumn[T any](raw []byte) (*T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
