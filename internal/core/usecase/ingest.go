package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

type IngestDocumentUseCase struct {
	repo    ports.DocumentStore
	storage ports.ObjectStorage
	schemas ports.SchemaRegistry
	queue   ports.MessageQueue
}

// NewIngestDocumentUseCase wires upload. A nil queue leaves documents pending
// until a processing session picks them up.
func NewIngestDocumentUseCase(
	repo ports.DocumentStore,
	storage ports.ObjectStorage,
	schemas ports.SchemaRegistry,
	queue ports.MessageQueue,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		repo:    repo,
		storage: storage,
		schemas: schemas,
		queue:   queue,
	}
}

func (uc *IngestDocumentUseCase) Upload(
	ctx context.Context,
	req domain.UploadRequest,
	body io.Reader,
) (*domain.Document, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "upload document", errors.New("owner_id is required"))
	}
	if strings.TrimSpace(req.DocType) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "upload document", errors.New("doc_type is required"))
	}
	if uc.schemas != nil {
		if _, err := uc.schemas.Resolve(req.Domain, req.DocType); err != nil {
			return nil, fmt.Errorf("resolve schema: %w", err)
		}
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(req.Filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.Document{
		ID:          id,
		OwnerID:     req.OwnerID,
		Filename:    req.Filename,
		MimeType:    req.MimeType,
		StoragePath: storageKey,
		DocType:     req.DocType,
		Domain:      req.Domain,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	if uc.queue != nil && !req.Defer {
		if err := uc.queue.PublishDocumentQueued(ctx, doc.ID); err != nil {
			return nil, fmt.Errorf("publish document queued: %w", err)
		}
	}

	return doc, nil
}

func (uc *IngestDocumentUseCase) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	return uc.repo.GetByID(ctx, id)
}

func (uc *IngestDocumentUseCase) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "list documents", errors.New("owner_id is required"))
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return uc.repo.ListByOwner(ctx, ownerID, limit)
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
