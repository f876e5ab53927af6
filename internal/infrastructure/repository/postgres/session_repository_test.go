package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/docextract/internal/core/domain"
)

func TestSessionRepositoryCreateActiveReturnsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewSessionRepository(db)
	mock.ExpectExec("INSERT INTO processing_sessions").WillReturnError(&pgconn.PgError{Code: "23505"})

	err = repo.CreateActive(context.Background(), &domain.ProcessingSession{
		ID: "s-2", UserID: "u-1", DocumentIDs: []string{"d-1"}, StartedAt: time.Now().UTC(),
	})
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSessionRepositoryGetActiveByUserScansNullStamps(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewSessionRepository(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "user_id", "document_ids", "status", "started_at", "stopped_at", "completed_at"}).
		AddRow("s-1", "u-1", []byte(`["d-1","d-2"]`), string(domain.SessionActive), now, nil, nil)
	mock.ExpectQuery("FROM processing_sessions").
		WithArgs("u-1", string(domain.SessionActive)).
		WillReturnRows(rows)

	session, err := repo.GetActiveByUser(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("GetActiveByUser() error = %v", err)
	}
	if !session.Active() || len(session.DocumentIDs) != 2 {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.StoppedAt != nil || session.CompletedAt != nil {
		t.Fatalf("expected nil stamps")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSessionRepositoryUpdateStatusReturnsConflictWhenAlreadyStopped(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewSessionRepository(db)
	now := time.Now().UTC()
	mock.ExpectExec("SET status = \\$2, stopped_at = \\$3").
		WithArgs("s-1", string(domain.SessionStopped), sqlmock.AnyArg(), string(domain.SessionActive)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM processing_sessions WHERE id").
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "document_ids", "status", "started_at", "stopped_at", "completed_at"}).
			AddRow("s-1", "u-1", []byte(`[]`), string(domain.SessionStopped), now, now, nil))

	err = repo.UpdateStatus(context.Background(), "s-1", domain.SessionActive, domain.SessionStopped, now)
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSessionRepositoryCompleteIfIdle(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewSessionRepository(db)
	now := time.Now().UTC()
	mock.ExpectExec("NOT EXISTS").
		WithArgs("s-1", string(domain.SessionCompleted), sqlmock.AnyArg(), string(domain.SessionActive),
			string(domain.StatusPending), string(domain.StatusProcessing)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("NOT EXISTS").
		WithArgs("s-1", string(domain.SessionCompleted), sqlmock.AnyArg(), string(domain.SessionActive),
			string(domain.StatusPending), string(domain.StatusProcessing)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	done, err := repo.CompleteIfIdle(context.Background(), "s-1", now)
	if err != nil || done {
		t.Fatalf("expected busy session to stay active, done=%v err=%v", done, err)
	}
	done, err = repo.CompleteIfIdle(context.Background(), "s-1", now)
	if err != nil || !done {
		t.Fatalf("expected idle session to complete, done=%v err=%v", done, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
