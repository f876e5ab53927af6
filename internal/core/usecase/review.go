package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

const systemActor = "system"

// ReviewUseCase drives a review task through its state machine and keeps the
// document status in step with it. A task id is reused across cycles.
type ReviewUseCase struct {
	tasks           ports.ReviewTaskStore
	docs            ports.DocumentStore
	sla             *SLAUseCase
	notifier        ports.Notifier
	exporter        ports.ReviewExporter
	defaultAssignee string
	now             func() time.Time
}

type ReviewOption func(*ReviewUseCase)

func WithReviewNotifier(n ports.Notifier) ReviewOption {
	return func(uc *ReviewUseCase) { uc.notifier = n }
}

func WithReviewExporter(e ports.ReviewExporter) ReviewOption {
	return func(uc *ReviewUseCase) { uc.exporter = e }
}

func WithDefaultAssignee(id string) ReviewOption {
	return func(uc *ReviewUseCase) { uc.defaultAssignee = strings.TrimSpace(id) }
}

func WithReviewClock(now func() time.Time) ReviewOption {
	return func(uc *ReviewUseCase) { uc.now = now }
}

func NewReviewUseCase(tasks ports.ReviewTaskStore, docs ports.DocumentStore, sla *SLAUseCase, opts ...ReviewOption) *ReviewUseCase {
	uc := &ReviewUseCase{
		tasks: tasks,
		docs:  docs,
		sla:   sla,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// OpenForDocument creates the review task of a document, or re-assigns the
// existing one instead of creating a duplicate.
func (uc *ReviewUseCase) OpenForDocument(ctx context.Context, doc *domain.Document) (*domain.ReviewTask, error) {
	if doc == nil {
		return nil, domain.WrapError(domain.ErrValidation, "open review", errors.New("document is required"))
	}
	existing, err := uc.tasks.GetActiveByDocument(ctx, doc.ID)
	switch {
	case err == nil:
		if existing.Status == domain.ReviewAssigned {
			return existing, nil
		}
		return uc.transition(ctx, systemActor, existing, domain.ReviewAssigned, domain.ReviewPayload{Note: "document returned to review"})
	case !domain.IsKind(err, domain.ErrNotFound):
		return nil, fmt.Errorf("find review task: %w", err)
	}

	now := uc.now()
	due, err := uc.dueAt(ctx, doc.OwnerID, doc.DocType, now)
	if err != nil {
		return nil, err
	}
	assignee := doc.OwnerID
	if uc.defaultAssignee != "" {
		assignee = uc.defaultAssignee
	}
	task := &domain.ReviewTask{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		DocType:    doc.DocType,
		AssignedTo: &assignee,
		Status:     domain.ReviewAssigned,
		AssignedAt: now,
		DueAt:      due,
		Cycle:      1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	first := domain.ReviewTransition{
		TaskID:  task.ID,
		To:      domain.ReviewAssigned,
		ActorID: systemActor,
		At:      now,
		Note:    "opened for document",
		Cycle:   task.Cycle,
	}
	if err := uc.tasks.Create(ctx, task, first); err != nil {
		return nil, fmt.Errorf("create review task: %w", err)
	}
	uc.notify(ctx, task)
	return task, nil
}

// Transition applies a reviewer decision. The actor must own the document.
func (uc *ReviewUseCase) Transition(
	ctx context.Context,
	actorID, taskID string,
	next domain.ReviewStatus,
	payload domain.ReviewPayload,
) (*domain.ReviewTask, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "review transition", errors.New("actor_id is required"))
	}
	if !next.Valid() {
		return nil, domain.WrapError(domain.ErrValidation, "review transition", fmt.Errorf("unknown status %q", next))
	}
	task, err := uc.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load review task: %w", err)
	}
	if task.OwnerID != actorID {
		return nil, domain.WrapError(domain.ErrForbidden, "review transition", fmt.Errorf("actor %s does not own task %s", actorID, taskID))
	}
	return uc.transition(ctx, actorID, task, next, payload)
}

func (uc *ReviewUseCase) transition(
	ctx context.Context,
	actorID string,
	task *domain.ReviewTask,
	next domain.ReviewStatus,
	payload domain.ReviewPayload,
) (*domain.ReviewTask, error) {
	from := task.Status
	if !domain.CanTransitionReview(from, next) {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "review transition", fmt.Errorf("%s -> %s", from, next))
	}
	if err := payload.Validate(next); err != nil {
		return nil, err
	}

	doc, err := uc.docs.GetByID(ctx, task.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load reviewed document: %w", err)
	}
	if next == domain.ReviewApproved {
		if err := payload.ValidateEdits(doc.ExtractedData); err != nil {
			return nil, err
		}
	}

	now := uc.now()
	updated := *task
	updated.Status = next
	updated.UpdatedAt = now
	if note := reviewNote(payload); note != "" {
		updated.Notes = note
	}
	if next == domain.ReviewAssigned {
		updated.Cycle++
		updated.AssignedAt = now
		// the SLA clock runs from task creation, not from the latest assignment
		due, err := uc.dueAt(ctx, task.OwnerID, task.DocType, task.CreatedAt)
		if err != nil {
			return nil, err
		}
		updated.DueAt = due
	}

	tr := domain.ReviewTransition{
		TaskID:  task.ID,
		From:    from,
		To:      next,
		ActorID: actorID,
		At:      now,
		Note:    reviewNote(payload),
		Payload: payload,
		Cycle:   updated.Cycle,
	}
	// The document moves first: its CAS fails on a concurrent decision
	// before the task log is written.
	if err := uc.syncDocument(ctx, doc, from, next, payload); err != nil {
		slog.Error("review_document_sync_failed", "task_id", task.ID, "document_id", doc.ID, "to", next, "error", err)
		return nil, err
	}
	if err := uc.tasks.SaveTransition(ctx, &updated, from, tr); err != nil {
		uc.revertDocument(ctx, doc, from, next)
		return nil, fmt.Errorf("save review transition: %w", err)
	}

	slog.Info("review_transition", "task_id", task.ID, "from", from, "to", next, "actor_id", actorID, "cycle", updated.Cycle)
	uc.notify(ctx, &updated)
	return &updated, nil
}

// syncDocument mirrors a review decision onto the document status.
func (uc *ReviewUseCase) syncDocument(
	ctx context.Context,
	doc *domain.Document,
	from, next domain.ReviewStatus,
	payload domain.ReviewPayload,
) error {
	switch next {
	case domain.ReviewApproved:
		data := applyEdits(doc.ExtractedData, payload.EditedFields)
		if err := uc.docs.TransitionStatus(ctx, doc.ID, domain.StatusNeedsReview, domain.StatusApproved, data); err != nil {
			return fmt.Errorf("approve document: %w", err)
		}
	case domain.ReviewRejected:
		if err := uc.docs.TransitionStatus(ctx, doc.ID, domain.StatusNeedsReview, domain.StatusRejected, nil); err != nil {
			return fmt.Errorf("reject document: %w", err)
		}
	case domain.ReviewAssigned:
		if from == domain.ReviewRejected && doc.Status == domain.StatusRejected {
			if err := uc.docs.TransitionStatus(ctx, doc.ID, domain.StatusRejected, domain.StatusNeedsReview, nil); err != nil {
				return fmt.Errorf("return document to review: %w", err)
			}
		}
	}
	return nil
}

// revertDocument undoes syncDocument after the task CAS lost.
func (uc *ReviewUseCase) revertDocument(ctx context.Context, doc *domain.Document, from, next domain.ReviewStatus) {
	var err error
	switch next {
	case domain.ReviewApproved:
		err = uc.docs.RevertStatus(ctx, doc.ID, domain.StatusApproved, domain.StatusNeedsReview, doc.ExtractedData)
	case domain.ReviewRejected:
		err = uc.docs.RevertStatus(ctx, doc.ID, domain.StatusRejected, domain.StatusNeedsReview, nil)
	case domain.ReviewAssigned:
		if from == domain.ReviewRejected && doc.Status == domain.StatusRejected {
			err = uc.docs.RevertStatus(ctx, doc.ID, domain.StatusNeedsReview, domain.StatusRejected, nil)
		}
	}
	if err != nil {
		slog.Error("review_document_revert_failed", "document_id", doc.ID, "to", next, "error", err)
	}
}

func (uc *ReviewUseCase) Get(ctx context.Context, taskID string) (*domain.ReviewTask, error) {
	return uc.tasks.Get(ctx, taskID)
}

func (uc *ReviewUseCase) History(ctx context.Context, taskID string) ([]domain.ReviewTransition, error) {
	if _, err := uc.tasks.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return uc.tasks.History(ctx, taskID)
}

func (uc *ReviewUseCase) ListOpen(ctx context.Context, userID string) ([]domain.ReviewTask, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "list open reviews", errors.New("user_id is required"))
	}
	return uc.tasks.ListOpen(ctx, userID)
}

// ExportOpenXLSX writes the open review queue of a user with current SLA risk.
func (uc *ReviewUseCase) ExportOpenXLSX(ctx context.Context, userID string, w io.Writer) error {
	if uc.exporter == nil {
		return domain.WrapError(domain.ErrValidation, "export reviews", errors.New("exporter is not configured"))
	}
	tasks, err := uc.ListOpen(ctx, userID)
	if err != nil {
		return err
	}
	risk := map[string]domain.RiskLevel{}
	if uc.sla != nil {
		evals, err := uc.sla.Evaluate(ctx, userID)
		if err != nil {
			return fmt.Errorf("evaluate sla for export: %w", err)
		}
		for _, ev := range evals {
			risk[ev.TaskID] = ev.RiskLevel
		}
	}
	return uc.exporter.WriteReviewQueue(w, tasks, risk)
}

func (uc *ReviewUseCase) dueAt(ctx context.Context, ownerID, docType string, from time.Time) (time.Time, error) {
	if uc.sla == nil {
		return from.Add(240 * time.Minute), nil
	}
	rule, err := uc.sla.RuleFor(ctx, ownerID, docType)
	if err != nil {
		return time.Time{}, err
	}
	return from.Add(time.Duration(rule.BreachMinutes) * time.Minute), nil
}

func (uc *ReviewUseCase) notify(ctx context.Context, task *domain.ReviewTask) {
	if uc.notifier == nil {
		return
	}
	event := "review." + string(task.Status)
	if err := uc.notifier.Notify(ctx, event, map[string]any{
		"task_id":     task.ID,
		"document_id": task.DocumentID,
		"owner_id":    task.OwnerID,
		"status":      task.Status,
		"cycle":       task.Cycle,
	}); err != nil {
		slog.Warn("notify_failed", "event", event, "task_id", task.ID, "error", err)
	}
}

func reviewNote(p domain.ReviewPayload) string {
	switch {
	case strings.TrimSpace(p.Note) != "":
		return strings.TrimSpace(p.Note)
	case strings.TrimSpace(p.Reason) != "":
		return strings.TrimSpace(p.Reason)
	case len(p.RequestedChanges) > 0:
		return strings.Join(p.RequestedChanges, "; ")
	default:
		return ""
	}
}

// applyEdits copies data and overwrites edited values with full confidence.
// Keys of the form lineItems[i].field address a line item.
func applyEdits(data *domain.ExtractedData, edits map[string]string) *domain.ExtractedData {
	if len(edits) == 0 {
		return nil
	}
	out := &domain.ExtractedData{Fields: map[string]domain.FieldValue{}}
	if data != nil {
		result := &domain.ExtractionResult{Fields: data.Fields, LineItems: data.LineItems, Extensions: data.Extensions}
		out = result.Data()
	}
	for key, value := range edits {
		if idx, field, ok := domain.LineItemKey(key); ok && idx < len(out.LineItems) {
			out.LineItems[idx].Values[field] = value
			out.LineItems[idx].Confidence = 1
			continue
		}
		if _, ok := out.Extensions[key]; ok {
			out.Extensions[key] = domain.FieldValue{Value: value, Confidence: 1}
			continue
		}
		out.Fields[key] = domain.FieldValue{Value: value, Confidence: 1}
	}
	return out
}
