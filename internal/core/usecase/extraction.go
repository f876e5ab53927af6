package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

const defaultExtractionBatchSize = 25

// ExtractionRunner splits a source into bounded engine calls and stitches the
// results back together in source order.
type ExtractionRunner struct {
	engines   map[domain.Route]ports.ExtractionEngine
	batchSize int
}

func NewExtractionRunner(batchSize int, engines ...ports.ExtractionEngine) *ExtractionRunner {
	if batchSize <= 0 {
		batchSize = defaultExtractionBatchSize
	}
	byRoute := make(map[domain.Route]ports.ExtractionEngine, len(engines))
	for _, e := range engines {
		if e != nil {
			byRoute[e.Route()] = e
		}
	}
	return &ExtractionRunner{engines: byRoute, batchSize: batchSize}
}

func (r *ExtractionRunner) Run(
	ctx context.Context,
	schema domain.Schema,
	src domain.SourceDocument,
	route domain.Route,
) (*domain.ExtractionResult, error) {
	engine, ok := r.engines[route]
	if !ok {
		return nil, domain.WrapError(domain.ErrValidation, "run extraction", fmt.Errorf("no engine for route %q", route))
	}

	requests := r.plan(schema, src)
	merged := &domain.ExtractionResult{
		Fields:    map[string]domain.FieldValue{},
		LineItems: []domain.LineItem{},
	}
	for _, req := range requests {
		part, err := engine.Extract(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("extract batch %d/%d: %w", req.BatchIndex+1, req.BatchCount, err)
		}
		mergeBatch(merged, part)
		if merged.EngineUsed == "" {
			merged.EngineUsed = part.EngineUsed
		}
		slog.Debug("extraction_batch_done",
			"document_id", src.DocumentID,
			"batch", req.BatchIndex+1,
			"batches", req.BatchCount,
			"line_items", len(part.LineItems),
		)
	}
	if merged.EngineUsed == "" {
		merged.EngineUsed = string(route)
	}
	merged.Batches = len(requests)
	return merged, nil
}

// plan builds one request per batch of rows or table lines. Sources without
// a table are sent in a single call.
func (r *ExtractionRunner) plan(schema domain.Schema, src domain.SourceDocument) []domain.ExtractionRequest {
	base := domain.ExtractionRequest{
		DocumentID: src.DocumentID,
		Schema:     schema,
		Header:     src.Header,
		Images:     src.Images,
	}

	switch {
	case len(src.Rows) > 0:
		batches := chunkRows(src.Rows, r.batchSize)
		out := make([]domain.ExtractionRequest, 0, len(batches))
		for i, rows := range batches {
			req := base
			req.Rows = rows
			req.Text = src.Preamble
			req.BatchIndex = i
			req.BatchCount = len(batches)
			req.IncludeHeader = i == 0
			out = append(out, req)
		}
		return out
	case len(src.TableLines) > r.batchSize:
		batches := chunkLines(src.TableLines, r.batchSize)
		out := make([]domain.ExtractionRequest, 0, len(batches))
		for i, lines := range batches {
			req := base
			req.Text = strings.TrimSpace(src.Preamble + "\n" + strings.Join(lines, "\n"))
			req.BatchIndex = i
			req.BatchCount = len(batches)
			req.IncludeHeader = i == 0
			if i > 0 {
				req.Images = nil
			}
			out = append(out, req)
		}
		return out
	default:
		req := base
		req.Text = src.Text
		req.BatchCount = 1
		req.IncludeHeader = true
		return []domain.ExtractionRequest{req}
	}
}

// mergeBatch appends line items in order. Header fields from earlier batches
// win; later batches only add keys not seen yet.
func mergeBatch(dst, part *domain.ExtractionResult) {
	if part == nil {
		return
	}
	for k, v := range part.Fields {
		if _, seen := dst.Fields[k]; !seen {
			dst.Fields[k] = v
		}
	}
	for k, v := range part.Extensions {
		if dst.Extensions == nil {
			dst.Extensions = map[string]domain.FieldValue{}
		}
		if _, seen := dst.Extensions[k]; !seen {
			dst.Extensions[k] = v
		}
	}
	dst.LineItems = append(dst.LineItems, part.LineItems...)
}

func chunkRows(rows [][]string, size int) [][][]string {
	out := make([][][]string, 0, len(rows)/size+1)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}

func chunkLines(lines []string, size int) [][]string {
	out := make([][]string, 0, len(lines)/size+1)
	for start := 0; start < len(lines); start += size {
		end := start + size
		if end > len(lines) {
			end = len(lines)
		}
		out = append(out, lines[start:end])
	}
	return out
}

// splitUndeclared moves header keys the schema does not declare into the
// extension map. The returned result is a copy.
func splitUndeclared(schema domain.Schema, r *domain.ExtractionResult) *domain.ExtractionResult {
	out := r.Clone()
	for k, v := range out.Fields {
		if _, declared := schema.Field(k); declared {
			continue
		}
		if out.Extensions == nil {
			out.Extensions = map[string]domain.FieldValue{}
		}
		out.Extensions[k] = v
		delete(out.Fields, k)
	}
	return out
}
