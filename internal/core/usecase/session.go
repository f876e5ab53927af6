package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

const defaultWorkerConcurrency = 4

// SessionUseCase runs a user's batch of documents behind a circuit breaker
// that the user can trip at any time. Cancellation is cooperative: workers
// poll the session status before claiming each document.
type SessionUseCase struct {
	sessions    ports.SessionStore
	docs        ports.DocumentStore
	processor   ports.DocumentProcessor
	queue       ports.MessageQueue
	notifier    ports.Notifier
	metrics     ports.PipelineMetrics
	concurrency int
	now         func() time.Time
}

type SessionOption func(*SessionUseCase)

func WithSessionQueue(q ports.MessageQueue) SessionOption {
	return func(uc *SessionUseCase) { uc.queue = q }
}

func WithSessionNotifier(n ports.Notifier) SessionOption {
	return func(uc *SessionUseCase) { uc.notifier = n }
}

func WithSessionMetrics(m ports.PipelineMetrics) SessionOption {
	return func(uc *SessionUseCase) {
		if m != nil {
			uc.metrics = m
		}
	}
}

func WithSessionClock(now func() time.Time) SessionOption {
	return func(uc *SessionUseCase) { uc.now = now }
}

func NewSessionUseCase(
	sessions ports.SessionStore,
	docs ports.DocumentStore,
	processor ports.DocumentProcessor,
	concurrency int,
	opts ...SessionOption,
) *SessionUseCase {
	if concurrency <= 0 {
		concurrency = defaultWorkerConcurrency
	}
	uc := &SessionUseCase{
		sessions:    sessions,
		docs:        docs,
		processor:   processor,
		metrics:     nopPipelineMetrics{},
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *SessionUseCase) Start(ctx context.Context, userID string, documentIDs []string) (*domain.ProcessingSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.WrapError(domain.ErrValidation, "start session", errors.New("user_id is required"))
	}
	ids := dedupeIDs(documentIDs)
	if len(ids) == 0 {
		return nil, domain.WrapError(domain.ErrValidation, "start session", errors.New("at least one document id is required"))
	}
	for _, id := range ids {
		doc, err := uc.docs.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load document %s: %w", id, err)
		}
		if doc.OwnerID != userID {
			return nil, domain.WrapError(domain.ErrForbidden, "start session", fmt.Errorf("document %s belongs to another user", id))
		}
	}

	session := &domain.ProcessingSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		DocumentIDs: ids,
		Status:      domain.SessionActive,
		StartedAt:   uc.now(),
	}
	if err := uc.sessions.CreateActive(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := uc.docs.AssignSession(ctx, session.ID, ids); err != nil {
		uc.abandon(ctx, session)
		return nil, fmt.Errorf("assign documents to session: %w", err)
	}

	if uc.queue != nil {
		if err := uc.queue.PublishSessionStarted(ctx, session.ID); err != nil {
			uc.abandon(ctx, session)
			return nil, fmt.Errorf("publish session started: %w", err)
		}
	}
	slog.Info("session_started", "session_id", session.ID, "user_id", userID, "documents", len(ids))
	return session, nil
}

// Run processes the session's documents with a bounded pool. Per-document
// failures are logged and never fail the session.
func (uc *SessionUseCase) Run(ctx context.Context, sessionID string) error {
	session, err := uc.sessions.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !session.Active() {
		slog.Info("session_not_active", "session_id", sessionID, "status", session.Status)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.concurrency)
	for _, id := range session.DocumentIDs {
		if !uc.stillActive(gctx, sessionID) {
			break
		}
		documentID := id
		g.Go(func() error {
			if !uc.stillActive(gctx, sessionID) {
				return nil
			}
			uc.processOne(gctx, sessionID, documentID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if !uc.stillActive(ctx, sessionID) {
		uc.releaseOrphans(ctx, sessionID)
		return ctx.Err()
	}
	uc.completeIfIdle(ctx, sessionID)
	return ctx.Err()
}

// releaseOrphans returns documents a stopped session left in processing,
// such as a claim that raced with Stop, to pending.
func (uc *SessionUseCase) releaseOrphans(ctx context.Context, sessionID string) {
	if ctx.Err() != nil {
		return
	}
	docs, err := uc.docs.ListBySession(ctx, sessionID)
	if err != nil {
		slog.Warn("session_orphan_scan_failed", "session_id", sessionID, "error", err)
		return
	}
	orphans := make([]string, 0)
	for _, d := range docs {
		if d.Status == domain.StatusProcessing {
			orphans = append(orphans, d.ID)
		}
	}
	if len(orphans) == 0 {
		return
	}
	result := uc.rollback(ctx, orphans)
	slog.Info("session_orphans_released", "session_id", sessionID, "rolled_back", len(result.RolledBack), "rollback_failed", len(result.Failed))
}

func (uc *SessionUseCase) processOne(ctx context.Context, sessionID, documentID string) {
	_, err := uc.processor.ProcessByID(ctx, documentID, domain.ProcessOptions{})
	switch {
	case err == nil:
	case domain.IsKind(err, domain.ErrConflict):
		slog.Info("session_document_skipped", "session_id", sessionID, "document_id", documentID, "error", err)
	default:
		slog.Error("session_document_failed", "session_id", sessionID, "document_id", documentID, "error", err)
	}
	uc.completeIfIdle(ctx, sessionID)
}

// Stop trips the breaker: the session moves active -> stopped and every
// document still processing is returned to pending.
func (uc *SessionUseCase) Stop(ctx context.Context, sessionID string) (*domain.RollbackResult, error) {
	if _, err := uc.sessions.Get(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if err := uc.sessions.UpdateStatus(ctx, sessionID, domain.SessionActive, domain.SessionStopped, uc.now()); err != nil {
		return nil, fmt.Errorf("stop session: %w", err)
	}

	docs, err := uc.docs.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session documents: %w", err)
	}
	inFlight := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Status == domain.StatusProcessing {
			inFlight = append(inFlight, d.ID)
		}
	}
	result := uc.rollback(ctx, inFlight)
	slog.Info("session_stopped",
		"session_id", sessionID,
		"rolled_back", len(result.RolledBack),
		"rollback_failed", len(result.Failed),
	)
	if uc.notifier != nil {
		if err := uc.notifier.Notify(ctx, "session.stopped", map[string]any{
			"session_id":  sessionID,
			"rolled_back": result.RolledBack,
			"failed":      result.Failed,
		}); err != nil {
			slog.Warn("notify_failed", "event", "session.stopped", "session_id", sessionID, "error", err)
		}
	}
	return result, nil
}

// CancelDocuments returns an explicit set of processing documents to pending.
func (uc *SessionUseCase) CancelDocuments(ctx context.Context, documentIDs []string) (*domain.RollbackResult, error) {
	ids := dedupeIDs(documentIDs)
	if len(ids) == 0 {
		return nil, domain.WrapError(domain.ErrValidation, "cancel documents", errors.New("at least one document id is required"))
	}
	return uc.rollback(ctx, ids), nil
}

func (uc *SessionUseCase) Get(ctx context.Context, sessionID string) (*domain.ProcessingSession, error) {
	return uc.sessions.Get(ctx, sessionID)
}

// rollback continues past individual failures and reports them.
func (uc *SessionUseCase) rollback(ctx context.Context, ids []string) *domain.RollbackResult {
	result := &domain.RollbackResult{RolledBack: []string{}, Failed: []domain.RollbackFailure{}}
	for _, id := range ids {
		if err := uc.docs.RollbackProcessing(ctx, id); err != nil {
			slog.Warn("session_rollback_failed", "document_id", id, "error", err)
			result.Failed = append(result.Failed, domain.RollbackFailure{DocumentID: id, Reason: err.Error()})
			continue
		}
		result.RolledBack = append(result.RolledBack, id)
	}
	uc.metrics.ObserveRollback(len(result.RolledBack), len(result.Failed))
	if result.Partial() {
		slog.Warn("session_rollback_partial", "error", result.Err())
	}
	return result
}

func (uc *SessionUseCase) stillActive(ctx context.Context, sessionID string) bool {
	if ctx.Err() != nil {
		return false
	}
	session, err := uc.sessions.Get(ctx, sessionID)
	if err != nil {
		slog.Warn("session_poll_failed", "session_id", sessionID, "error", err)
		return false
	}
	return session.Active()
}

func (uc *SessionUseCase) completeIfIdle(ctx context.Context, sessionID string) {
	done, err := uc.sessions.CompleteIfIdle(ctx, sessionID, uc.now())
	if err != nil {
		slog.Warn("session_complete_check_failed", "session_id", sessionID, "error", err)
		return
	}
	if !done {
		return
	}
	slog.Info("session_completed", "session_id", sessionID)
	if uc.notifier != nil {
		if err := uc.notifier.Notify(ctx, "session.completed", map[string]any{"session_id": sessionID}); err != nil {
			slog.Warn("notify_failed", "event", "session.completed", "session_id", sessionID, "error", err)
		}
	}
}

func (uc *SessionUseCase) abandon(ctx context.Context, session *domain.ProcessingSession) {
	if err := uc.sessions.UpdateStatus(ctx, session.ID, domain.SessionActive, domain.SessionStopped, uc.now()); err != nil {
		slog.Error("session_abandon_failed", "session_id", session.ID, "error", err)
	}
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
