package ports

import (
	"context"
	"io"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload.
type DocumentIngestor interface {
	Upload(ctx context.Context, req domain.UploadRequest, body io.Reader) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Document, error)
}

// DocumentProcessor runs the extraction pipeline for one document.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string, opts domain.ProcessOptions) (*domain.Document, error)
}

// SessionManager controls cancellable batch runs.
type SessionManager interface {
	Start(ctx context.Context, userID string, documentIDs []string) (*domain.ProcessingSession, error)
	Run(ctx context.Context, sessionID string) error
	Stop(ctx context.Context, sessionID string) (*domain.RollbackResult, error)
	CancelDocuments(ctx context.Context, documentIDs []string) (*domain.RollbackResult, error)
	Get(ctx context.Context, sessionID string) (*domain.ProcessingSession, error)
}

// ReviewWorkflow drives human review of extracted documents.
type ReviewWorkflow interface {
	Transition(ctx context.Context, actorID, taskID string, next domain.ReviewStatus, payload domain.ReviewPayload) (*domain.ReviewTask, error)
	Get(ctx context.Context, taskID string) (*domain.ReviewTask, error)
	History(ctx context.Context, taskID string) ([]domain.ReviewTransition, error)
	ListOpen(ctx context.Context, userID string) ([]domain.ReviewTask, error)
	ExportOpenXLSX(ctx context.Context, userID string, w io.Writer) error
}

// SLAEvaluator computes review SLA risk on demand.
type SLAEvaluator interface {
	Evaluate(ctx context.Context, userID string) ([]domain.SlaEvaluation, error)
	UpsertRule(ctx context.Context, rule domain.SlaRule) error
	ListRules(ctx context.Context, userID string) ([]domain.SlaRule, error)
}

// SettingsManager reads and updates owner preferences.
type SettingsManager interface {
	Get(ctx context.Context, userID string) (*domain.OwnerSettings, error)
	Update(ctx context.Context, settings domain.OwnerSettings) (*domain.OwnerSettings, error)
}
