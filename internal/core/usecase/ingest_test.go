package usecase

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/infrastructure/repository/memory"
)

func TestIngestUploadSuccess(t *testing.T) {
	db := memory.NewDB()
	storage := &storageFake{}
	queue := &queueFake{}
	uc := NewIngestDocumentUseCase(db.Documents(), storage, &schemasFake{schema: invoiceSchema}, queue)

	doc, err := uc.Upload(context.Background(), domain.UploadRequest{
		OwnerID:  "user-1",
		Filename: "invoice 1.txt",
		MimeType: "text/plain",
		DocType:  "invoice",
	}, bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if doc.ID == "" {
		t.Fatalf("expected document id")
	}
	if doc.Status != domain.StatusPending {
		t.Fatalf("expected status pending, got %s", doc.Status)
	}
	if _, err := db.Documents().GetByID(context.Background(), doc.ID); err != nil {
		t.Fatalf("expected stored document, got %v", err)
	}
	if len(queue.documentIDs) != 1 || queue.documentIDs[0] != doc.ID {
		t.Fatalf("expected queued doc id %s, got %v", doc.ID, queue.documentIDs)
	}
	if !strings.HasSuffix(storage.savedKey, "_invoice_1.txt") {
		t.Fatalf("expected sanitized key suffix, got %s", storage.savedKey)
	}
	if storage.savedBody != "hello" {
		t.Fatalf("expected saved body hello, got %s", storage.savedBody)
	}
}

func TestIngestUploadRequiresOwnerAndDocType(t *testing.T) {
	uc := NewIngestDocumentUseCase(memory.NewDB().Documents(), &storageFake{}, nil, nil)

	_, err := uc.Upload(context.Background(), domain.UploadRequest{DocType: "invoice"}, bytes.NewBufferString("x"))
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for owner, got %v", err)
	}
	_, err = uc.Upload(context.Background(), domain.UploadRequest{OwnerID: "user-1"}, bytes.NewBufferString("x"))
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for doc type, got %v", err)
	}
}

func TestIngestUploadUnknownSchema(t *testing.T) {
	storage := &storageFake{}
	schemas := &schemasFake{err: domain.WrapError(domain.ErrValidation, "resolve schema", errors.New("unknown doc type"))}
	uc := NewIngestDocumentUseCase(memory.NewDB().Documents(), storage, schemas, nil)

	_, err := uc.Upload(context.Background(), domain.UploadRequest{OwnerID: "user-1", DocType: "poem"}, bytes.NewBufferString("x"))
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if storage.savedKey != "" {
		t.Fatalf("nothing must be stored for an unknown schema")
	}
}

func TestIngestUploadQueueError(t *testing.T) {
	queue := &queueFake{err: errors.New("queue down")}
	uc := NewIngestDocumentUseCase(memory.NewDB().Documents(), &storageFake{}, nil, queue)

	_, err := uc.Upload(context.Background(), domain.UploadRequest{OwnerID: "user-1", DocType: "invoice", Filename: "a.txt"}, bytes.NewBufferString("hello"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "publish document queued") {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestIngestUploadDeferredIsNotQueued(t *testing.T) {
	db := memory.NewDB()
	queue := &queueFake{}
	uc := NewIngestDocumentUseCase(db.Documents(), &storageFake{}, nil, queue)

	doc, err := uc.Upload(context.Background(), domain.UploadRequest{
		OwnerID:  "user-1",
		DocType:  "invoice",
		Filename: "a.txt",
		Defer:    true,
	}, bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(queue.documentIDs) != 0 {
		t.Fatalf("deferred upload must not be queued, got %v", queue.documentIDs)
	}
	stored, err := db.Documents().GetByID(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Status != domain.StatusPending {
		t.Fatalf("expected pending document, got %s", stored.Status)
	}
}

func TestIngestListByOwnerNewestFirst(t *testing.T) {
	db := memory.NewDB()
	uc := NewIngestDocumentUseCase(db.Documents(), &storageFake{}, nil, nil)
	for _, name := range []string{"a.txt", "b.txt"} {
		if _, err := uc.Upload(context.Background(), domain.UploadRequest{OwnerID: "user-1", DocType: "invoice", Filename: name}, bytes.NewBufferString(name)); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
	}

	docs, err := uc.ListByOwner(context.Background(), "user-1", 0)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(docs) != 2 || docs[0].Filename != "b.txt" {
		t.Fatalf("expected newest first, got %+v", docs)
	}
}
