package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/kirillkom/docextract/internal/core/domain"
)

var invoiceSchema = domain.Schema{
	Domain:  "finance",
	DocType: "invoice",
	Version: "test-1",
	Fields: []domain.FieldSpec{
		{Name: "invoice_number", Type: domain.FieldString, Required: true},
		{Name: "total", Type: domain.FieldCurrency, Required: true},
		{Name: "issue_date", Type: domain.FieldDate},
	},
	LineItems: []domain.FieldSpec{
		{Name: "description", Type: domain.FieldString},
		{Name: "quantity", Type: domain.FieldNumber},
		{Name: "unit_price", Type: domain.FieldCurrency},
		{Name: "amount", Type: domain.FieldCurrency},
	},
}

const invoiceText = "Invoice INV-7 issued 2024-03-01\nTotal 120.50 EUR\n"

type schemasFake struct {
	schema domain.Schema
	err    error
}

func (f *schemasFake) Resolve(string, string) (domain.Schema, error) {
	if f.err != nil {
		return domain.Schema{}, f.err
	}
	return f.schema, nil
}

func (f *schemasFake) List() []domain.Schema { return []domain.Schema{f.schema} }

type loaderFake struct {
	src domain.SourceDocument
	err error
}

func (f *loaderFake) Load(_ context.Context, doc *domain.Document) (domain.SourceDocument, error) {
	if f.err != nil {
		return domain.SourceDocument{}, f.err
	}
	src := f.src
	src.DocumentID = doc.ID
	return src, nil
}

type engineFake struct {
	route  domain.Route
	result func(req domain.ExtractionRequest) (*domain.ExtractionResult, error)

	mu       sync.Mutex
	requests []domain.ExtractionRequest
}

func (f *engineFake) Route() domain.Route { return f.route }

func (f *engineFake) Extract(_ context.Context, req domain.ExtractionRequest) (*domain.ExtractionResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.result == nil {
		return &domain.ExtractionResult{Fields: map[string]domain.FieldValue{}}, nil
	}
	return f.result(req)
}

func (f *engineFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func fixedResult(fields map[string]domain.FieldValue, items ...domain.LineItem) func(domain.ExtractionRequest) (*domain.ExtractionResult, error) {
	return func(domain.ExtractionRequest) (*domain.ExtractionResult, error) {
		r := &domain.ExtractionResult{Fields: fields, LineItems: items, EngineUsed: "fake"}
		return r.Clone(), nil
	}
}

type reextractorFake struct {
	resp *domain.ReconcileResponse
	err  error
	req  domain.ReconcileRequest
}

func (f *reextractorFake) ReExtract(_ context.Context, req domain.ReconcileRequest) (*domain.ReconcileResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type checkerFake struct {
	issues func(req domain.VerificationRequest) []domain.VerificationIssue
	err    error

	mu       sync.Mutex
	requests []domain.VerificationRequest
}

func (f *checkerFake) Check(_ context.Context, req domain.VerificationRequest) ([]domain.VerificationIssue, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.issues == nil {
		return nil, nil
	}
	return f.issues(req), nil
}

type reviewOpenerFake struct {
	mu     sync.Mutex
	opened []string
}

func (f *reviewOpenerFake) OpenForDocument(_ context.Context, doc *domain.Document) (*domain.ReviewTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, doc.ID)
	return &domain.ReviewTask{ID: "task-" + doc.ID, DocumentID: doc.ID}, nil
}

type notifierFake struct {
	mu     sync.Mutex
	events []string
}

func (f *notifierFake) Notify(_ context.Context, event string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *notifierFake) has(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

type storageFake struct {
	savedKey  string
	savedBody string
	err       error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.savedKey = key
	f.savedBody = string(raw)
	return nil
}

func (f *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

type queueFake struct {
	documentIDs []string
	sessionIDs  []string
	err         error
}

func (f *queueFake) PublishDocumentQueued(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.documentIDs = append(f.documentIDs, documentID)
	return nil
}

func (f *queueFake) SubscribeDocumentQueued(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

func (f *queueFake) PublishSessionStarted(_ context.Context, sessionID string) error {
	if f.err != nil {
		return f.err
	}
	f.sessionIDs = append(f.sessionIDs, sessionID)
	return nil
}

func (f *queueFake) SubscribeSessionStarted(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}
