package domain

import "time"

type DocumentStatus string

const (
	StatusPending     DocumentStatus = "pending"
	StatusProcessing  DocumentStatus = "processing"
	StatusNeedsReview DocumentStatus = "needs_review"
	StatusApproved    DocumentStatus = "approved"
	StatusRejected    DocumentStatus = "rejected"
	StatusFailed      DocumentStatus = "failed"
)

// documentTransitions lists every legal status edge. The pipeline owns
// pending/processing edges, the review workflow owns the rest.
var documentTransitions = map[DocumentStatus][]DocumentStatus{
	StatusPending:     {StatusProcessing},
	StatusProcessing:  {StatusApproved, StatusNeedsReview, StatusFailed, StatusPending},
	StatusNeedsReview: {StatusApproved, StatusRejected},
	StatusRejected:    {StatusNeedsReview},
}

// CanTransitionDocument reports whether from -> to is an allowed edge.
func CanTransitionDocument(from, to DocumentStatus) bool {
	for _, next := range documentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanRevertDocument reports whether from -> to undoes a review-owned edge.
// It is the only way out of approved.
func CanRevertDocument(from, to DocumentStatus) bool {
	return (to == StatusNeedsReview || to == StatusRejected) && CanTransitionDocument(to, from)
}

// IsTerminal reports statuses that end a pipeline run.
func (s DocumentStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusNeedsReview, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

type Document struct {
	ID              string         `json:"id"`
	OwnerID         string         `json:"owner_id"`
	Filename        string         `json:"filename"`
	MimeType        string         `json:"mime_type"`
	StoragePath     string         `json:"storage_path"`
	DocType         string         `json:"doc_type"`
	Domain          string         `json:"domain,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	Status          DocumentStatus `json:"status"`
	ExtractedData   *ExtractedData `json:"extracted_data,omitempty"`
	ConfidenceScore float64        `json:"confidence_score"`
	Artifacts       *Artifacts     `json:"artifacts,omitempty"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ProcessingOutcome is what the orchestrator persists when a run finishes.
type ProcessingOutcome struct {
	Status          DocumentStatus
	ExtractedData   *ExtractedData
	ConfidenceScore float64
	Artifacts       *Artifacts
	Error           string
}

// Artifacts keeps every intermediate result of a run for auditability.
type Artifacts struct {
	Quality        *QualityAssessment    `json:"quality,omitempty"`
	Extraction     *ExtractionResult     `json:"extraction,omitempty"`
	Reconciliation *ReconciliationResult `json:"reconciliation,omitempty"`
	Issues         []VerificationIssue   `json:"issues"`
	Reasons        []string              `json:"reasons,omitempty"`
	Usage          []ModelUsage          `json:"usage,omitempty"`
	SchemaVersion  string                `json:"schema_version,omitempty"`
	FinishedAt     time.Time             `json:"finished_at"`
}

// OwnerSettings are per-user pipeline preferences.
type OwnerSettings struct {
	UserID               string  `json:"user_id"`
	AutoApproveThreshold float64 `json:"auto_approve_threshold"`
}

const (
	MinAutoApproveThreshold     = 60
	MaxAutoApproveThreshold     = 99
	DefaultAutoApproveThreshold = 90
)

// ClampAutoApproveThreshold keeps a user threshold inside the supported band.
func ClampAutoApproveThreshold(v float64) float64 {
	if v < MinAutoApproveThreshold {
		return MinAutoApproveThreshold
	}
	if v > MaxAutoApproveThreshold {
		return MaxAutoApproveThreshold
	}
	return v
}

// ProcessOptions lets callers override pipeline decisions for one run.
type ProcessOptions struct {
	Route Route `json:"route,omitempty"`
}

// UploadRequest describes a new document before it is stored.
type UploadRequest struct {
	OwnerID  string
	Filename string
	MimeType string
	DocType  string
	Domain   string
	// Defer leaves the document pending without queueing it, so a
	// processing session decides when it runs.
	Defer bool
}
