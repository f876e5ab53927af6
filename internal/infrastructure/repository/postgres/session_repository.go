package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const sessionColumns = `id, user_id, document_ids, status, started_at, stopped_at, completed_at`

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateActive relies on the partial unique index over active sessions, so
// two concurrent starts for one user cannot both succeed.
func (r *SessionRepository) CreateActive(ctx context.Context, session *domain.ProcessingSession) error {
	ids, err := json.Marshal(session.DocumentIDs)
	if err != nil {
		return fmt.Errorf("marshal document ids: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO processing_sessions (`+sessionColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, session.ID, session.UserID, ids, string(domain.SessionActive), session.StartedAt, nullTime(session.StoppedAt), nullTime(session.CompletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrConflict, "create session",
				fmt.Errorf("user %s already has an active session", session.UserID))
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.ProcessingSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM processing_sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("session", id)
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) GetActiveByUser(ctx context.Context, userID string) (*domain.ProcessingSession, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+sessionColumns+`
FROM processing_sessions
WHERE user_id = $1 AND status = $2
`, userID, string(domain.SessionActive))
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("active session for user", userID)
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, from, to domain.SessionStatus, at time.Time) error {
	stampColumn := "stopped_at"
	if to == domain.SessionCompleted {
		stampColumn = "completed_at"
	}
	result, err := r.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE processing_sessions
SET status = $2, %s = $3
WHERE id = $1 AND status = $4
`, stampColumn), id, string(to), at, string(from))
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return domain.WrapError(domain.ErrConflict, "update session status",
		fmt.Errorf("session %s is %s, expected %s", id, current.Status, from))
}

// CompleteIfIdle closes an active session once none of its documents is
// pending or processing. The check and the update are one statement.
func (r *SessionRepository) CompleteIfIdle(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE processing_sessions s
SET status = $2, completed_at = $3
WHERE s.id = $1 AND s.status = $4
AND NOT EXISTS (
	SELECT 1 FROM documents d
	WHERE d.session_id = s.id AND d.status IN ($5, $6)
)
`, id, string(domain.SessionCompleted), at, string(domain.SessionActive),
		string(domain.StatusPending), string(domain.StatusProcessing))
	if err != nil {
		return false, fmt.Errorf("complete session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete session rows affected: %w", err)
	}
	return n > 0, nil
}

func scanSession(row rowScanner) (*domain.ProcessingSession, error) {
	var session domain.ProcessingSession
	var idsRaw []byte
	var status string
	var stoppedAt, completedAt sql.NullTime
	if err := row.Scan(&session.ID, &session.UserID, &idsRaw, &status, &session.StartedAt, &stoppedAt, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(idsRaw, &session.DocumentIDs); err != nil {
		return nil, fmt.Errorf("unmarshal document ids: %w", err)
	}
	session.Status = domain.SessionStatus(status)
	session.StoppedAt = timePtr(stoppedAt)
	session.CompletedAt = timePtr(completedAt)
	return &session, nil
}
