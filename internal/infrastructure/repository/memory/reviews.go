package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/kirillkom/docextract/internal/core/domain"
)

type ReviewTaskStore struct {
	db *DB
}

func (s *ReviewTaskStore) Create(_ context.Context, task *domain.ReviewTask, first domain.ReviewTransition) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, existing := range s.db.tasks {
		if existing.DocumentID == task.DocumentID && existing.Status != domain.ReviewApproved {
			return domain.WrapError(domain.ErrConflict, "create review task",
				fmt.Errorf("document %s already has task %s", task.DocumentID, existing.ID))
		}
	}
	s.db.tasks[task.ID] = deepCopy(task)
	s.db.taskLog[task.ID] = append(s.db.taskLog[task.ID], first)
	return nil
}

func (s *ReviewTaskStore) Get(_ context.Context, id string) (*domain.ReviewTask, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	task, ok := s.db.tasks[id]
	if !ok {
		return nil, notFound("review task", id)
	}
	return deepCopy(task), nil
}

func (s *ReviewTaskStore) GetActiveByDocument(_ context.Context, documentID string) (*domain.ReviewTask, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	for _, task := range s.db.tasks {
		if task.DocumentID == documentID && task.Status != domain.ReviewApproved {
			return deepCopy(task), nil
		}
	}
	return nil, notFound("review task for document", documentID)
}

func (s *ReviewTaskStore) SaveTransition(_ context.Context, task *domain.ReviewTask, expected domain.ReviewStatus, tr domain.ReviewTransition) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	current, ok := s.db.tasks[task.ID]
	if !ok {
		return notFound("review task", task.ID)
	}
	if current.Status != expected {
		return domain.WrapError(domain.ErrConflict, "save review transition",
			fmt.Errorf("task %s is %s, expected %s", task.ID, current.Status, expected))
	}
	s.db.tasks[task.ID] = deepCopy(task)
	s.db.taskLog[task.ID] = append(s.db.taskLog[task.ID], tr)
	return nil
}

func (s *ReviewTaskStore) History(_ context.Context, taskID string) ([]domain.ReviewTransition, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	return append([]domain.ReviewTransition(nil), s.db.taskLog[taskID]...), nil
}

func (s *ReviewTaskStore) ListOpen(_ context.Context, ownerID string) ([]domain.ReviewTask, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make([]domain.ReviewTask, 0)
	for _, task := range s.db.tasks {
		if task.OwnerID == ownerID && task.Status.Open() {
			out = append(out, *deepCopy(task))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (s *ReviewTaskStore) ListOpenOwners(_ context.Context) ([]string, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, task := range s.db.tasks {
		if task.Status.Open() {
			seen[task.OwnerID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for owner := range seen {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out, nil
}
