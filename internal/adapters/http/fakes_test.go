package httpadapter

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/docextract/internal/config"
	"github.com/kirillkom/docextract/internal/core/domain"
)

type ingestFake struct {
	err  error
	last domain.UploadRequest
}

func (f *ingestFake) Upload(_ context.Context, req domain.UploadRequest, body io.Reader) (*domain.Document, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrValidation, "upload", io.EOF)
	}
	now := time.Now().UTC()
	return &domain.Document{
		ID:        "doc-1",
		OwnerID:   req.OwnerID,
		Filename:  req.Filename,
		MimeType:  req.MimeType,
		DocType:   req.DocType,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

type docsFake struct {
	err error
}

func (f docsFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: id, OwnerID: "u1", Status: domain.StatusPending}, nil
}

func (f docsFake) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Document{{ID: "doc-1", OwnerID: ownerID}}, nil
}

type processorFake struct {
	err  error
	opts domain.ProcessOptions
}

func (f *processorFake) ProcessByID(_ context.Context, id string, opts domain.ProcessOptions) (*domain.Document, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: id, Status: domain.StatusApproved}, nil
}

type sessionsFake struct {
	startErr error
	stop     *domain.RollbackResult
	runs     chan string
}

func (f *sessionsFake) Start(_ context.Context, userID string, ids []string) (*domain.ProcessingSession, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &domain.ProcessingSession{ID: "s-1", UserID: userID, DocumentIDs: ids, Status: domain.SessionActive}, nil
}

func (f *sessionsFake) Run(_ context.Context, sessionID string) error {
	if f.runs != nil {
		f.runs <- sessionID
	}
	return nil
}

func (f *sessionsFake) Stop(context.Context, string) (*domain.RollbackResult, error) {
	return f.stop, nil
}

func (f *sessionsFake) CancelDocuments(_ context.Context, ids []string) (*domain.RollbackResult, error) {
	return &domain.RollbackResult{RolledBack: ids}, nil
}

func (f *sessionsFake) Get(_ context.Context, id string) (*domain.ProcessingSession, error) {
	return &domain.ProcessingSession{ID: id, Status: domain.SessionActive}, nil
}

type reviewsFake struct {
	err   error
	actor string
	next  domain.ReviewStatus
}

func (f *reviewsFake) Transition(_ context.Context, actorID, taskID string, next domain.ReviewStatus, _ domain.ReviewPayload) (*domain.ReviewTask, error) {
	f.actor, f.next = actorID, next
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ReviewTask{ID: taskID, OwnerID: actorID, Status: next}, nil
}

func (f *reviewsFake) Get(_ context.Context, id string) (*domain.ReviewTask, error) {
	return &domain.ReviewTask{ID: id}, nil
}

func (f *reviewsFake) History(context.Context, string) ([]domain.ReviewTransition, error) {
	return nil, nil
}

func (f *reviewsFake) ListOpen(context.Context, string) ([]domain.ReviewTask, error) {
	return nil, nil
}

func (f *reviewsFake) ExportOpenXLSX(_ context.Context, _ string, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := w.Write([]byte("PK"))
	return err
}

type slaFake struct{}

func (slaFake) Evaluate(context.Context, string) ([]domain.SlaEvaluation, error) { return nil, nil }
func (slaFake) UpsertRule(context.Context, domain.SlaRule) error                  { return nil }
func (slaFake) ListRules(context.Context, string) ([]domain.SlaRule, error)       { return nil, nil }

type settingsFake struct{}

func (settingsFake) Get(_ context.Context, userID string) (*domain.OwnerSettings, error) {
	return &domain.OwnerSettings{UserID: userID, AutoApproveThreshold: 95}, nil
}

func (settingsFake) Update(_ context.Context, s domain.OwnerSettings) (*domain.OwnerSettings, error) {
	s.AutoApproveThreshold = domain.ClampAutoApproveThreshold(s.AutoApproveThreshold)
	return &s, nil
}

func fakeServices() Services {
	return Services{
		Ingest:    &ingestFake{},
		Documents: docsFake{},
		Processor: &processorFake{},
		Sessions:  &sessionsFake{},
		Reviews:   &reviewsFake{},
		SLA:       slaFake{},
		Settings:  settingsFake{},
	}
}

func newTestHandler(cfg config.Config) http.Handler {
	return NewRouter(cfg, fakeServices()).Handler()
}
