package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
)

type DocumentStore struct {
	db *DB
}

func (s *DocumentStore) Create(_ context.Context, doc *domain.Document) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, exists := s.db.documents[doc.ID]; exists {
		return domain.WrapError(domain.ErrConflict, "create document", fmt.Errorf("document %s already exists", doc.ID))
	}
	s.db.documents[doc.ID] = deepCopy(doc)
	s.db.docOrder = append(s.db.docOrder, doc.ID)
	return nil
}

func (s *DocumentStore) GetByID(_ context.Context, id string) (*domain.Document, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	doc, ok := s.db.documents[id]
	if !ok {
		return nil, notFound("document", id)
	}
	return deepCopy(doc), nil
}

func (s *DocumentStore) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.Document, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make([]domain.Document, 0)
	for i := len(s.db.docOrder) - 1; i >= 0; i-- {
		doc := s.db.documents[s.db.docOrder[i]]
		if doc.OwnerID != ownerID {
			continue
		}
		out = append(out, *deepCopy(doc))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *DocumentStore) ListBySession(_ context.Context, sessionID string) ([]domain.Document, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make([]domain.Document, 0)
	for _, id := range s.db.docOrder {
		if doc := s.db.documents[id]; doc.SessionID == sessionID {
			out = append(out, *deepCopy(doc))
		}
	}
	return out, nil
}

func (s *DocumentStore) AssignSession(_ context.Context, sessionID string, documentIDs []string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, id := range documentIDs {
		if _, ok := s.db.documents[id]; !ok {
			return notFound("document", id)
		}
	}
	for _, id := range documentIDs {
		s.db.documents[id].SessionID = sessionID
	}
	return nil
}

func (s *DocumentStore) ClaimPending(_ context.Context, id string) (*domain.Document, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if doc, ok := s.db.documents[id]; ok && doc.SessionID != "" {
		if session, ok := s.db.sessions[doc.SessionID]; ok && !session.Active() {
			return nil, domain.WrapError(domain.ErrConflict, "claim document",
				fmt.Errorf("document %s belongs to session %s which is %s", id, session.ID, session.Status))
		}
	}
	doc, err := s.casLocked(id, domain.StatusPending, domain.StatusProcessing)
	if err != nil {
		return nil, err
	}
	return deepCopy(doc), nil
}

func (s *DocumentStore) Complete(_ context.Context, id string, outcome domain.ProcessingOutcome) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	doc, err := s.casLocked(id, domain.StatusProcessing, outcome.Status)
	if err != nil {
		return err
	}
	doc.ExtractedData = deepCopy(outcome.ExtractedData)
	doc.ConfidenceScore = outcome.ConfidenceScore
	doc.Artifacts = deepCopy(outcome.Artifacts)
	doc.Error = outcome.Error
	return nil
}

func (s *DocumentStore) RollbackProcessing(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	_, err := s.casLocked(id, domain.StatusProcessing, domain.StatusPending)
	return err
}

func (s *DocumentStore) TransitionStatus(_ context.Context, id string, from, to domain.DocumentStatus, data *domain.ExtractedData) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	doc, err := s.casLocked(id, from, to)
	if err != nil {
		return err
	}
	if data != nil {
		doc.ExtractedData = deepCopy(data)
	}
	return nil
}

func (s *DocumentStore) RevertStatus(_ context.Context, id string, from, to domain.DocumentStatus, data *domain.ExtractedData) error {
	if !domain.CanRevertDocument(from, to) {
		return domain.WrapError(domain.ErrInvalidTransition, "revert document status", fmt.Errorf("%s -> %s", from, to))
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	doc, err := s.swapLocked(id, from, to)
	if err != nil {
		return err
	}
	if data != nil {
		doc.ExtractedData = deepCopy(data)
	}
	return nil
}

// casLocked moves a document along a legal edge. Callers hold the write lock.
func (s *DocumentStore) casLocked(id string, from, to domain.DocumentStatus) (*domain.Document, error) {
	if !domain.CanTransitionDocument(from, to) {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "update document status", fmt.Errorf("%s -> %s", from, to))
	}
	return s.swapLocked(id, from, to)
}

func (s *DocumentStore) swapLocked(id string, from, to domain.DocumentStatus) (*domain.Document, error) {
	doc, ok := s.db.documents[id]
	if !ok {
		return nil, notFound("document", id)
	}
	if doc.Status != from {
		return nil, domain.WrapError(domain.ErrConflict, "update document status",
			fmt.Errorf("document %s is %s, expected %s", id, doc.Status, from))
	}
	doc.Status = to
	doc.UpdatedAt = time.Now().UTC()
	return doc, nil
}

func notFound(kind, id string) error {
	return domain.WrapError(domain.ErrNotFound, "get "+kind, fmt.Errorf("%s %s", kind, id))
}
