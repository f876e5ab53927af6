package openai

import (
	"context"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/infrastructure/llm/structured"
)

// GeneralEngine extracts from clean text layers and spreadsheets.
type GeneralEngine struct {
	client *Client
	model  string
}

func NewGeneralEngine(client *Client, model string) *GeneralEngine {
	return &GeneralEngine{client: client, model: model}
}

func (e *GeneralEngine) Route() domain.Route {
	return domain.RouteGeneral
}

func (e *GeneralEngine) Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResult, error) {
	var result *domain.ExtractionResult
	err := e.client.chat(ctx, chatCall{
		role:       "extract",
		model:      e.model,
		documentID: req.DocumentID,
		prompt:     structured.ExtractionPrompt(req),
		images:     req.Images,
		accept: func(content []byte) error {
			if err := e.client.validator.ValidateExtraction(req.Schema, content); err != nil {
				return err
			}
			parsed, err := structured.ParseExtraction(content, "openai:"+e.model)
			if err != nil {
				return err
			}
			result = parsed
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReExtractor re-reads weak fields with a higher-capability model.
type ReExtractor struct {
	client *Client
	model  string
}

func NewReExtractor(client *Client, model string) *ReExtractor {
	return &ReExtractor{client: client, model: model}
}

func (r *ReExtractor) ReExtract(ctx context.Context, req domain.ReconcileRequest) (*domain.ReconcileResponse, error) {
	var resp *domain.ReconcileResponse
	err := r.client.chat(ctx, chatCall{
		role:       "reconcile",
		model:      r.model,
		documentID: req.DocumentID,
		prompt:     structured.ReconcilePrompt(req),
		images:     req.Source.Images,
		accept: func(content []byte) error {
			if err := r.client.validator.ValidateExtraction(req.Schema, content); err != nil {
				return err
			}
			parsed, err := structured.ParseReconcile(content, "openai:"+r.model)
			if err != nil {
				return err
			}
			resp = parsed
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Checker cross-checks extracted data against the source.
type Checker struct {
	client *Client
	model  string
}

func NewChecker(client *Client, model string) *Checker {
	return &Checker{client: client, model: model}
}

func (c *Checker) Check(ctx context.Context, req domain.VerificationRequest) ([]domain.VerificationIssue, error) {
	var issues []domain.VerificationIssue
	err := c.client.chat(ctx, chatCall{
		role:       "check",
		model:      c.model,
		documentID: req.DocumentID,
		prompt:     structured.CheckPrompt(req),
		accept: func(content []byte) error {
			if err := c.client.validator.ValidateIssues(content); err != nil {
				return err
			}
			parsed, err := structured.ParseIssues(content)
			if err != nil {
				return err
			}
			issues = parsed
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return issues, nil
}
