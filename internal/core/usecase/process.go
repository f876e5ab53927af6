package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

const tracerName = "github.com/kirillkom/docextract/internal/core/usecase"

// Review reasons recorded on documents that were not auto-approved.
const (
	ReasonLowConfidence        = "low_confidence"
	ReasonVerificationErrors   = "verification_errors"
	ReasonExtractionFailed     = "extraction_failed"
	ReasonReconciliationFailed = "reconciliation_failed"
	ReasonVerificationFailed   = "verification_failed"
	ReasonSourceUnavailable    = "source_unavailable"
	ReasonValidationFailed     = "validation_failed"
)

type ProcessConfig struct {
	ReconcileThreshold float64
	QualityTimeout     time.Duration
}

// ProcessDeps groups the collaborators of the pipeline orchestrator.
type ProcessDeps struct {
	Documents  ports.DocumentStore
	Loader     ports.SourceLoader
	Schemas    ports.SchemaRegistry
	Assessor   *QualityAssessor
	Extraction *ExtractionRunner
	Reconciler *Reconciler
	Verifier   *Verifier
	Settings   *SettingsUseCase
	Usage      *UsageLedger
	Notifier   ports.Notifier
	Reviews    ports.ReviewOpener
	Metrics    ports.PipelineMetrics
}

type ProcessDocumentUseCase struct {
	deps   ProcessDeps
	cfg    ProcessConfig
	tracer trace.Tracer
	now    func() time.Time
}

func NewProcessDocumentUseCase(deps ProcessDeps, cfg ProcessConfig) *ProcessDocumentUseCase {
	if cfg.ReconcileThreshold <= 0 {
		cfg.ReconcileThreshold = 80
	}
	if cfg.QualityTimeout <= 0 {
		cfg.QualityTimeout = 800 * time.Millisecond
	}
	if deps.Metrics == nil {
		deps.Metrics = nopPipelineMetrics{}
	}
	return &ProcessDocumentUseCase{
		deps:   deps,
		cfg:    cfg,
		tracer: otel.Tracer(tracerName),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ProcessByID runs one document through pending -> processing -> terminal.
// A document that is not pending yields ErrConflict, as does a result whose
// document was rolled back while the run was in flight.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string, opts domain.ProcessOptions) (*domain.Document, error) {
	ctx, span := uc.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(attribute.String("document.id", documentID)))
	defer span.End()

	doc, err := uc.deps.Documents.ClaimPending(ctx, documentID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("claim document: %w", err)
	}

	outcome := uc.run(ctx, doc, opts)

	if err := uc.deps.Documents.Complete(ctx, doc.ID, outcome); err != nil {
		span.SetStatus(codes.Error, err.Error())
		if domain.IsKind(err, domain.ErrConflict) {
			slog.Warn("pipeline_result_discarded", "document_id", doc.ID, "status", outcome.Status, "error", err)
		}
		return nil, fmt.Errorf("complete document: %w", err)
	}

	doc.Status = outcome.Status
	doc.ExtractedData = outcome.ExtractedData
	doc.ConfidenceScore = outcome.ConfidenceScore
	doc.Artifacts = outcome.Artifacts
	doc.Error = outcome.Error
	doc.UpdatedAt = uc.now()

	span.SetAttributes(attribute.String("document.status", string(doc.Status)), attribute.Float64("document.confidence", doc.ConfidenceScore))
	uc.deps.Metrics.ObserveOutcome(doc.Status, doc.ConfidenceScore)
	slog.Info("document_processed",
		"document_id", doc.ID,
		"status", doc.Status,
		"confidence_score", doc.ConfidenceScore,
		"reasons", outcome.Artifacts.Reasons,
	)

	uc.notify(ctx, doc)
	if doc.Status == domain.StatusNeedsReview && uc.deps.Reviews != nil {
		if _, err := uc.deps.Reviews.OpenForDocument(ctx, doc); err != nil {
			slog.Error("review_open_failed", "document_id", doc.ID, "error", err)
		}
	}
	return doc, nil
}

func (uc *ProcessDocumentUseCase) run(ctx context.Context, doc *domain.Document, opts domain.ProcessOptions) domain.ProcessingOutcome {
	artifacts := &domain.Artifacts{Issues: []domain.VerificationIssue{}}
	defer func() {
		if uc.deps.Usage != nil {
			artifacts.Usage = uc.deps.Usage.Drain(doc.ID)
		}
		artifacts.FinishedAt = uc.now()
	}()

	schema, err := uc.resolveSchema(doc)
	if err != nil {
		return uc.failed(artifacts, err)
	}
	artifacts.SchemaVersion = schema.Version

	var src domain.SourceDocument
	err = uc.stage(ctx, "load", func(stageCtx context.Context) error {
		var loadErr error
		src, loadErr = uc.deps.Loader.Load(stageCtx, doc)
		return loadErr
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrValidation) {
			return uc.failed(artifacts, err)
		}
		slog.Error("pipeline_stage_failed", "stage", "load", "document_id", doc.ID, "error", err)
		artifacts.Reasons = append(artifacts.Reasons, ReasonSourceUnavailable)
		return domain.ProcessingOutcome{
			Status:    domain.StatusNeedsReview,
			Artifacts: artifacts,
			Error:     err.Error(),
		}
	}
	if src.Empty() {
		return uc.failed(artifacts, domain.WrapError(domain.ErrValidation, "load source", errors.New("source has no readable content")))
	}

	quality := uc.assess(ctx, src)
	if opts.Route.Valid() && opts.Route != quality.Route {
		quality.Rationale = fmt.Sprintf("%s; route overridden to %s", quality.Rationale, opts.Route)
		quality.Route = opts.Route
	}
	artifacts.Quality = &quality

	var stageErr string
	var extracted *domain.ExtractionResult
	err = uc.stage(ctx, "extract", func(stageCtx context.Context) error {
		var runErr error
		extracted, runErr = uc.deps.Extraction.Run(stageCtx, schema, src, quality.Route)
		return runErr
	})
	if err != nil {
		slog.Error("pipeline_stage_failed", "stage", "extract", "document_id", doc.ID, "error", err)
		artifacts.Reasons = append(artifacts.Reasons, ReasonExtractionFailed)
		stageErr = err.Error()
		extracted = &domain.ExtractionResult{Fields: map[string]domain.FieldValue{}, LineItems: []domain.LineItem{}, EngineUsed: string(quality.Route)}
	}
	final := domain.NormalizeConfidence(splitUndeclared(schema, extracted))
	final.OverallConfidence = domain.OverallConfidence(schema, final)
	artifacts.Extraction = final

	if err == nil && uc.deps.Reconciler != nil && domain.ConfidenceScore(final.OverallConfidence) < uc.cfg.ReconcileThreshold {
		var rec *domain.ReconciliationResult
		recErr := uc.stage(ctx, "reconcile", func(stageCtx context.Context) error {
			var runErr error
			rec, runErr = uc.deps.Reconciler.Reconcile(stageCtx, schema, src, final)
			return runErr
		})
		if recErr != nil {
			slog.Error("pipeline_stage_failed", "stage", "reconcile", "document_id", doc.ID, "error", recErr)
			artifacts.Reasons = append(artifacts.Reasons, ReasonReconciliationFailed)
		} else {
			artifacts.Reconciliation = rec
			final = rec.Merged
		}
	}

	var issues []domain.VerificationIssue
	verifyErr := uc.stage(ctx, "verify", func(stageCtx context.Context) error {
		var runErr error
		issues, runErr = uc.deps.Verifier.Verify(stageCtx, schema, src, final)
		return runErr
	})
	if verifyErr != nil {
		slog.Error("pipeline_stage_failed", "stage", "verify", "document_id", doc.ID, "error", verifyErr)
		artifacts.Reasons = append(artifacts.Reasons, ReasonVerificationFailed)
	}
	if issues != nil {
		artifacts.Issues = issues
	}

	score := domain.ConfidenceScore(final.OverallConfidence)
	if domain.HasErrorIssue(artifacts.Issues) {
		artifacts.Reasons = append(artifacts.Reasons, ReasonVerificationErrors)
	}
	threshold := uc.deps.Settings.threshold(ctx, doc.OwnerID)
	if score < threshold {
		artifacts.Reasons = append(artifacts.Reasons, ReasonLowConfidence)
	}

	status := domain.StatusApproved
	if len(artifacts.Reasons) > 0 {
		status = domain.StatusNeedsReview
	}
	return domain.ProcessingOutcome{
		Status:          status,
		ExtractedData:   final.Data(),
		ConfidenceScore: score,
		Artifacts:       artifacts,
		Error:           stageErr,
	}
}

func (uc *ProcessDocumentUseCase) resolveSchema(doc *domain.Document) (domain.Schema, error) {
	schema, err := uc.deps.Schemas.Resolve(doc.Domain, doc.DocType)
	if err != nil {
		if domain.IsKind(err, domain.ErrValidation) {
			return domain.Schema{}, err
		}
		return domain.Schema{}, domain.WrapError(domain.ErrValidation, "resolve schema", err)
	}
	if err := schema.Validate(); err != nil {
		return domain.Schema{}, err
	}
	return schema, nil
}

// assess never fails the run. A failed or slow assessment falls back to the
// general route.
func (uc *ProcessDocumentUseCase) assess(ctx context.Context, src domain.SourceDocument) domain.QualityAssessment {
	var quality domain.QualityAssessment
	err := uc.stage(ctx, "assess", func(stageCtx context.Context) error {
		assessCtx, cancel := context.WithTimeout(stageCtx, uc.cfg.QualityTimeout)
		defer cancel()
		var assessErr error
		quality, assessErr = uc.deps.Assessor.Assess(assessCtx, src)
		return assessErr
	})
	if err != nil {
		slog.Warn("quality_assessment_fallback", "document_id", src.DocumentID, "error", err)
		return domain.QualityAssessment{
			Route:     domain.RouteGeneral,
			Fallback:  true,
			Rationale: "assessment failed: " + err.Error(),
		}
	}
	return quality
}

func (uc *ProcessDocumentUseCase) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := uc.tracer.Start(ctx, "pipeline."+name)
	defer span.End()
	started := time.Now()
	err := fn(ctx)
	uc.deps.Metrics.ObserveStage(name, time.Since(started), err != nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (uc *ProcessDocumentUseCase) failed(artifacts *domain.Artifacts, err error) domain.ProcessingOutcome {
	artifacts.Reasons = append(artifacts.Reasons, ReasonValidationFailed)
	return domain.ProcessingOutcome{
		Status:    domain.StatusFailed,
		Artifacts: artifacts,
		Error:     err.Error(),
	}
}

func (uc *ProcessDocumentUseCase) notify(ctx context.Context, doc *domain.Document) {
	if uc.deps.Notifier == nil {
		return
	}
	payload := map[string]any{
		"document_id":      doc.ID,
		"owner_id":         doc.OwnerID,
		"status":           doc.Status,
		"confidence_score": doc.ConfidenceScore,
	}
	if doc.Artifacts != nil {
		payload["reasons"] = doc.Artifacts.Reasons
	}
	if err := uc.deps.Notifier.Notify(ctx, "document."+string(doc.Status), payload); err != nil {
		slog.Warn("notify_failed", "document_id", doc.ID, "event", "document."+string(doc.Status), "error", err)
	}
}

type nopPipelineMetrics struct{}

func (nopPipelineMetrics) ObserveStage(string, time.Duration, bool)      {}
func (nopPipelineMetrics) ObserveOutcome(domain.DocumentStatus, float64) {}
func (nopPipelineMetrics) ObserveRollback(int, int)                      {}
