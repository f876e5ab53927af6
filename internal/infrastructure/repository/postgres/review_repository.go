package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const reviewTaskColumns = `id, document_id, owner_id, doc_type, assigned_to, status, assigned_at, due_at, notes, cycle, created_at, updated_at`

type ReviewRepository struct {
	db *sql.DB
}

func NewReviewRepository(db *sql.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

func (r *ReviewRepository) Create(ctx context.Context, task *domain.ReviewTask, first domain.ReviewTransition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin review tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO review_tasks (`+reviewTaskColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`, task.ID, task.DocumentID, task.OwnerID, task.DocType, nullString(task.AssignedTo), string(task.Status),
		task.AssignedAt, task.DueAt, task.Notes, task.Cycle, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrConflict, "create review task",
				fmt.Errorf("document %s already has an active review task", task.DocumentID))
		}
		return fmt.Errorf("create review task: %w", err)
	}
	if err := insertTransition(ctx, tx, first); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit review tx: %w", err)
	}
	return nil
}

func (r *ReviewRepository) Get(ctx context.Context, id string) (*domain.ReviewTask, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reviewTaskColumns+` FROM review_tasks WHERE id = $1`, id)
	task, err := scanReviewTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("review task", id)
		}
		return nil, fmt.Errorf("get review task: %w", err)
	}
	return &task, nil
}

func (r *ReviewRepository) GetActiveByDocument(ctx context.Context, documentID string) (*domain.ReviewTask, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+reviewTaskColumns+`
FROM review_tasks
WHERE document_id = $1 AND status <> $2
ORDER BY created_at DESC
LIMIT 1
`, documentID, string(domain.ReviewApproved))
	task, err := scanReviewTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("review task for document", documentID)
		}
		return nil, fmt.Errorf("get review task by document: %w", err)
	}
	return &task, nil
}

// SaveTransition updates the task only if it is still in the expected status
// and appends the transition in the same transaction.
func (r *ReviewRepository) SaveTransition(ctx context.Context, task *domain.ReviewTask, expected domain.ReviewStatus, tr domain.ReviewTransition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin review tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE review_tasks
SET status = $2, assigned_to = $3, assigned_at = $4, due_at = $5, notes = $6, cycle = $7, updated_at = $8
WHERE id = $1 AND status = $9
`, task.ID, string(task.Status), nullString(task.AssignedTo), task.AssignedAt, task.DueAt, task.Notes, task.Cycle, task.UpdatedAt, string(expected))
	if err != nil {
		return fmt.Errorf("update review task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update review task rows affected: %w", err)
	}
	if rows == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM review_tasks WHERE id = $1`, task.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("review task", task.ID)
		}
		if err != nil {
			return fmt.Errorf("read review task status: %w", err)
		}
		return domain.WrapError(domain.ErrConflict, "save review transition",
			fmt.Errorf("task %s is %s, expected %s", task.ID, current, expected))
	}
	if err := insertTransition(ctx, tx, tr); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit review tx: %w", err)
	}
	return nil
}

func (r *ReviewRepository) History(ctx context.Context, taskID string) ([]domain.ReviewTransition, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT task_id, from_status, to_status, actor_id, at, note, payload, cycle
FROM review_transitions
WHERE task_id = $1
ORDER BY id
`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list review transitions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ReviewTransition, 0)
	for rows.Next() {
		var tr domain.ReviewTransition
		var from, to string
		var payload []byte
		if err := rows.Scan(&tr.TaskID, &from, &to, &tr.ActorID, &tr.At, &tr.Note, &payload, &tr.Cycle); err != nil {
			return nil, fmt.Errorf("scan review transition: %w", err)
		}
		if err := json.Unmarshal(payload, &tr.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal review payload: %w", err)
		}
		tr.From = domain.ReviewStatus(from)
		tr.To = domain.ReviewStatus(to)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review transitions: %w", err)
	}
	return out, nil
}

func (r *ReviewRepository) ListOpen(ctx context.Context, ownerID string) ([]domain.ReviewTask, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+reviewTaskColumns+`
FROM review_tasks
WHERE owner_id = $1 AND status IN ($2, $3)
ORDER BY due_at
`, ownerID, string(domain.ReviewAssigned), string(domain.ReviewChangesRequested))
	if err != nil {
		return nil, fmt.Errorf("list open review tasks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ReviewTask, 0)
	for rows.Next() {
		task, err := scanReviewTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review tasks: %w", err)
	}
	return out, nil
}

func (r *ReviewRepository) ListOpenOwners(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT owner_id
FROM review_tasks
WHERE status IN ($1, $2)
ORDER BY owner_id
`, string(domain.ReviewAssigned), string(domain.ReviewChangesRequested))
	if err != nil {
		return nil, fmt.Errorf("list review owners: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan review owner: %w", err)
		}
		out = append(out, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review owners: %w", err)
	}
	return out, nil
}

func insertTransition(ctx context.Context, tx *sql.Tx, tr domain.ReviewTransition) error {
	payload, err := json.Marshal(tr.Payload)
	if err != nil {
		return fmt.Errorf("marshal review payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO review_transitions (task_id, from_status, to_status, actor_id, at, note, payload, cycle)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, tr.TaskID, string(tr.From), string(tr.To), tr.ActorID, tr.At, tr.Note, payload, tr.Cycle)
	if err != nil {
		return fmt.Errorf("insert review transition: %w", err)
	}
	return nil
}

func scanReviewTask(row rowScanner) (domain.ReviewTask, error) {
	var task domain.ReviewTask
	var assignedTo sql.NullString
	var status string
	err := row.Scan(
		&task.ID,
		&task.DocumentID,
		&task.OwnerID,
		&task.DocType,
		&assignedTo,
		&status,
		&task.AssignedAt,
		&task.DueAt,
		&task.Notes,
		&task.Cycle,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return domain.ReviewTask{}, err
	}
	if assignedTo.Valid {
		v := assignedTo.String
		task.AssignedTo = &v
	}
	task.Status = domain.ReviewStatus(status)
	return task, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
