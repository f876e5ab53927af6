package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// DocumentStore persists document state. Status changes are compare-and-swap
// and refuse edges missing from domain.CanTransitionDocument.
type DocumentStore interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Document, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.Document, error)
	AssignSession(ctx context.Context, sessionID string, documentIDs []string) error
	// ClaimPending moves pending -> processing. Any other status yields ErrConflict.
	ClaimPending(ctx context.Context, id string) (*domain.Document, error)
	// Complete moves processing -> outcome.Status and stores the run output.
	Complete(ctx context.Context, id string, outcome domain.ProcessingOutcome) error
	// RollbackProcessing moves processing -> pending.
	RollbackProcessing(ctx context.Context, id string) error
	// TransitionStatus moves from -> to. A non-nil data replaces the extracted payload.
	TransitionStatus(ctx context.Context, id string, from, to domain.DocumentStatus, data *domain.ExtractedData) error
	// RevertStatus undoes a review decision (see domain.CanRevertDocument)
	// when the review log refused it.
	RevertStatus(ctx context.Context, id string, from, to domain.DocumentStatus, data *domain.ExtractedData) error
}

// SessionStore persists processing sessions.
type SessionStore interface {
	// CreateActive fails with ErrConflict when the user already has an active session.
	CreateActive(ctx context.Context, session *domain.ProcessingSession) error
	Get(ctx context.Context, id string) (*domain.ProcessingSession, error)
	GetActiveByUser(ctx context.Context, userID string) (*domain.ProcessingSession, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.SessionStatus, at time.Time) error
	// CompleteIfIdle marks an active session completed when none of its
	// documents is pending or processing.
	CompleteIfIdle(ctx context.Context, id string, at time.Time) (bool, error)
}

// ReviewTaskStore persists review tasks and their transition log.
type ReviewTaskStore interface {
	Create(ctx context.Context, task *domain.ReviewTask, first domain.ReviewTransition) error
	Get(ctx context.Context, id string) (*domain.ReviewTask, error)
	// GetActiveByDocument returns the task of a document that is not approved.
	GetActiveByDocument(ctx context.Context, documentID string) (*domain.ReviewTask, error)
	// SaveTransition updates the task if its stored status still equals
	// expected and appends tr to the log in the same unit of work.
	SaveTransition(ctx context.Context, task *domain.ReviewTask, expected domain.ReviewStatus, tr domain.ReviewTransition) error
	History(ctx context.Context, taskID string) ([]domain.ReviewTransition, error)
	ListOpen(ctx context.Context, ownerID string) ([]domain.ReviewTask, error)
	ListOpenOwners(ctx context.Context) ([]string, error)
}

// SlaRuleStore persists per-user SLA rules.
type SlaRuleStore interface {
	Get(ctx context.Context, userID, docType string) (*domain.SlaRule, error)
	Upsert(ctx context.Context, rule domain.SlaRule) error
	List(ctx context.Context, userID string) ([]domain.SlaRule, error)
}

// SettingsStore persists owner pipeline preferences.
type SettingsStore interface {
	GetOwnerSettings(ctx context.Context, userID string) (*domain.OwnerSettings, error)
	SaveOwnerSettings(ctx context.Context, settings domain.OwnerSettings) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// SourceLoader turns stored bytes into text, rows or page images.
type SourceLoader interface {
	Load(ctx context.Context, doc *domain.Document) (domain.SourceDocument, error)
}

// SchemaRegistry resolves the target schema of a (domain, docType) pair.
type SchemaRegistry interface {
	Resolve(domainName, docType string) (domain.Schema, error)
	List() []domain.Schema
}

// ExtractionEngine performs one bounded model call.
type ExtractionEngine interface {
	Route() domain.Route
	Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResult, error)
}

// FieldReExtractor re-reads weak fields with a stronger model.
type FieldReExtractor interface {
	ReExtract(ctx context.Context, req domain.ReconcileRequest) (*domain.ReconcileResponse, error)
}

// ConsistencyChecker cross-checks one batch of extracted data. Returned
// issues index line items relative to req.LineItems, -1 for header fields.
type ConsistencyChecker interface {
	Check(ctx context.Context, req domain.VerificationRequest) ([]domain.VerificationIssue, error)
}

// ResultValidator validates raw model output against the JSON form of a schema.
type ResultValidator interface {
	ValidateExtraction(schema domain.Schema, payload []byte) error
	ValidateIssues(payload []byte) error
}

// UsageRecorder receives one record per model call.
type UsageRecorder interface {
	Record(ctx context.Context, usage domain.ModelUsage)
}

// Notifier publishes fire-and-forget domain events.
type Notifier interface {
	Notify(ctx context.Context, event string, payload any) error
}

// MessageQueue dispatches work to workers.
type MessageQueue interface {
	PublishDocumentQueued(ctx context.Context, documentID string) error
	SubscribeDocumentQueued(ctx context.Context, handler func(context.Context, string) error) error
	PublishSessionStarted(ctx context.Context, sessionID string) error
	SubscribeSessionStarted(ctx context.Context, handler func(context.Context, string) error) error
}

// ReviewOpener opens or re-assigns the review task of a document.
type ReviewOpener interface {
	OpenForDocument(ctx context.Context, doc *domain.Document) (*domain.ReviewTask, error)
}

// ReviewExporter renders a review queue as a spreadsheet.
type ReviewExporter interface {
	WriteReviewQueue(w io.Writer, tasks []domain.ReviewTask, risk map[string]domain.RiskLevel) error
}

// PipelineMetrics observes orchestrator stages and outcomes.
type PipelineMetrics interface {
	ObserveStage(stage string, duration time.Duration, failed bool)
	ObserveOutcome(status domain.DocumentStatus, score float64)
	ObserveRollback(rolledBack, failed int)
}

// SLAMetrics exposes current review risk counts.
type SLAMetrics interface {
	SetOpenRisk(counts map[domain.RiskLevel]int)
}
