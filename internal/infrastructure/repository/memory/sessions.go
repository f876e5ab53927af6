package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
)

type SessionStore struct {
	db *DB
}

func (s *SessionStore) CreateActive(_ context.Context, session *domain.ProcessingSession) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, existing := range s.db.sessions {
		if existing.UserID == session.UserID && existing.Status == domain.SessionActive {
			return domain.WrapError(domain.ErrConflict, "create session",
				fmt.Errorf("user %s already has active session %s", session.UserID, existing.ID))
		}
	}
	s.db.sessions[session.ID] = deepCopy(session)
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (*domain.ProcessingSession, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	session, ok := s.db.sessions[id]
	if !ok {
		return nil, notFound("session", id)
	}
	return deepCopy(session), nil
}

func (s *SessionStore) GetActiveByUser(_ context.Context, userID string) (*domain.ProcessingSession, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	for _, session := range s.db.sessions {
		if session.UserID == userID && session.Status == domain.SessionActive {
			return deepCopy(session), nil
		}
	}
	return nil, notFound("active session for user", userID)
}

func (s *SessionStore) UpdateStatus(_ context.Context, id string, from, to domain.SessionStatus, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	session, ok := s.db.sessions[id]
	if !ok {
		return notFound("session", id)
	}
	if session.Status != from {
		return domain.WrapError(domain.ErrConflict, "update session status",
			fmt.Errorf("session %s is %s, expected %s", id, session.Status, from))
	}
	session.Status = to
	stamp(session, to, at)
	return nil
}

func (s *SessionStore) CompleteIfIdle(_ context.Context, id string, at time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	session, ok := s.db.sessions[id]
	if !ok {
		return false, notFound("session", id)
	}
	if session.Status != domain.SessionActive {
		return false, nil
	}
	for _, docID := range session.DocumentIDs {
		doc, ok := s.db.documents[docID]
		if !ok {
			continue
		}
		if doc.Status == domain.StatusPending || doc.Status == domain.StatusProcessing {
			return false, nil
		}
	}
	session.Status = domain.SessionCompleted
	stamp(session, domain.SessionCompleted, at)
	return true, nil
}

func stamp(session *domain.ProcessingSession, to domain.SessionStatus, at time.Time) {
	t := at
	switch to {
	case domain.SessionStopped:
		session.StoppedAt = &t
	case domain.SessionCompleted:
		session.CompletedAt = &t
	}
}
