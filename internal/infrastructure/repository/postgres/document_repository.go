package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const documentColumns = `id, owner_id, filename, mime_type, storage_path, doc_type, domain, session_id, status,
	extracted_data, confidence_score, artifacts, error_message, created_at, updated_at`

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	data, err := jsonColumn(doc.ExtractedData)
	if err != nil {
		return fmt.Errorf("marshal extracted data: %w", err)
	}
	artifacts, err := jsonColumn(doc.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`,
		doc.ID, doc.OwnerID, doc.Filename, doc.MimeType, doc.StoragePath, doc.DocType, doc.Domain,
		sql.NullString{String: doc.SessionID, Valid: doc.SessionID != ""}, string(doc.Status),
		data, doc.ConfidenceScore, artifacts, doc.Error, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrConflict, "create document", err)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("document", id)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE owner_id = $1
ORDER BY created_at DESC
LIMIT $2
`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return collectDocuments(rows)
}

func (r *DocumentRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE session_id = $1
ORDER BY created_at
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session documents: %w", err)
	}
	return collectDocuments(rows)
}

func (r *DocumentRepository) AssignSession(ctx context.Context, sessionID string, documentIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for _, id := range documentIDs {
		result, err := tx.ExecContext(ctx, `UPDATE documents SET session_id = $2, updated_at = $3 WHERE id = $1`, id, sessionID, now)
		if err != nil {
			return fmt.Errorf("assign document %s: %w", id, err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("assign document rows affected: %w", err)
		} else if n == 0 {
			return notFound("document", id)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assign tx: %w", err)
	}
	return nil
}

// ClaimPending is the compare-and-set that lets exactly one worker own a run.
// A document bound to a session that is no longer active cannot be claimed.
func (r *DocumentRepository) ClaimPending(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE documents d
SET status = $2, updated_at = $3
WHERE d.id = $1 AND d.status = $4
AND NOT EXISTS (
	SELECT 1 FROM processing_sessions s
	WHERE s.id = d.session_id AND s.status <> $5
)
RETURNING `+documentColumns,
		id, string(domain.StatusProcessing), time.Now().UTC(), string(domain.StatusPending), string(domain.SessionActive))
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.statusMismatch(ctx, "claim document", id, domain.StatusPending)
		}
		return nil, fmt.Errorf("claim document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) Complete(ctx context.Context, id string, outcome domain.ProcessingOutcome) error {
	if !domain.CanTransitionDocument(domain.StatusProcessing, outcome.Status) {
		return domain.WrapError(domain.ErrInvalidTransition, "complete document", fmt.Errorf("%s -> %s", domain.StatusProcessing, outcome.Status))
	}
	data, err := jsonColumn(outcome.ExtractedData)
	if err != nil {
		return fmt.Errorf("marshal extracted data: %w", err)
	}
	artifacts, err := jsonColumn(outcome.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, extracted_data = $3, confidence_score = $4, artifacts = $5, error_message = $6, updated_at = $7
WHERE id = $1 AND status = $8
`, id, string(outcome.Status), data, outcome.ConfidenceScore, artifacts, outcome.Error, time.Now().UTC(), string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	return r.checkCAS(ctx, result, "complete document", id, domain.StatusProcessing)
}

func (r *DocumentRepository) RollbackProcessing(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, updated_at = $3
WHERE id = $1 AND status = $4
`, id, string(domain.StatusPending), time.Now().UTC(), string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("rollback document: %w", err)
	}
	return r.checkCAS(ctx, result, "rollback document", id, domain.StatusProcessing)
}

func (r *DocumentRepository) TransitionStatus(ctx context.Context, id string, from, to domain.DocumentStatus, data *domain.ExtractedData) error {
	if !domain.CanTransitionDocument(from, to) {
		return domain.WrapError(domain.ErrInvalidTransition, "update document status", fmt.Errorf("%s -> %s", from, to))
	}
	return r.swapStatus(ctx, "update document status", id, from, to, data)
}

func (r *DocumentRepository) RevertStatus(ctx context.Context, id string, from, to domain.DocumentStatus, data *domain.ExtractedData) error {
	if !domain.CanRevertDocument(from, to) {
		return domain.WrapError(domain.ErrInvalidTransition, "revert document status", fmt.Errorf("%s -> %s", from, to))
	}
	return r.swapStatus(ctx, "revert document status", id, from, to, data)
}

func (r *DocumentRepository) swapStatus(ctx context.Context, op, id string, from, to domain.DocumentStatus, data *domain.ExtractedData) error {
	raw, err := jsonColumn(data)
	if err != nil {
		return fmt.Errorf("marshal extracted data: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, extracted_data = COALESCE($3, extracted_data), updated_at = $4
WHERE id = $1 AND status = $5
`, id, string(to), raw, time.Now().UTC(), string(from))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return r.checkCAS(ctx, result, op, id, from)
}

func (r *DocumentRepository) checkCAS(ctx context.Context, result sql.Result, op, id string, expected domain.DocumentStatus) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return r.statusMismatch(ctx, op, id, expected)
	}
	return nil
}

// statusMismatch tells a missing document apart from one another writer moved.
func (r *DocumentRepository) statusMismatch(ctx context.Context, op, id string, expected domain.DocumentStatus) error {
	var current string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("document", id)
		}
		return fmt.Errorf("%s: read status: %w", op, err)
	}
	if current == string(expected) {
		return domain.WrapError(domain.ErrConflict, op, fmt.Errorf("document %s belongs to a session that is no longer active", id))
	}
	return domain.WrapError(domain.ErrConflict, op, fmt.Errorf("document %s is %s, expected %s", id, current, expected))
}

func collectDocuments(rows *sql.Rows) ([]domain.Document, error) {
	defer rows.Close()
	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var sessionID sql.NullString
	var status string
	var dataRaw, artifactsRaw []byte

	err := row.Scan(
		&doc.ID, &doc.OwnerID, &doc.Filename, &doc.MimeType, &doc.StoragePath, &doc.DocType, &doc.Domain,
		&sessionID, &status, &dataRaw, &doc.ConfidenceScore, &artifactsRaw, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.SessionID = sessionID.String
	doc.Status = domain.DocumentStatus(status)
	if doc.ExtractedData, err = decodeJSONColumn[domain.ExtractedData](dataRaw); err != nil {
		return nil, fmt.Errorf("unmarshal extracted data: %w", err)
	}
	if doc.Artifacts, err = decodeJSONColumn[domain.Artifacts](artifactsRaw); err != nil {
		return nil, fmt.Errorf("unmarshal artifacts: %w", err)
	}
	return &doc, nil
}
