package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

const defaultFieldConfidenceFloor = 0.80

// Reconciler re-reads weak fields and line items with a stronger model and
// merges the answers into a new result. Fields that were not re-examined are
// passed through untouched.
type Reconciler struct {
	reextractor ports.FieldReExtractor
	floor       float64
}

func NewReconciler(reextractor ports.FieldReExtractor, fieldConfidenceFloor float64) *Reconciler {
	if fieldConfidenceFloor <= 0 || fieldConfidenceFloor > 1 {
		fieldConfidenceFloor = defaultFieldConfidenceFloor
	}
	return &Reconciler{reextractor: reextractor, floor: fieldConfidenceFloor}
}

func (r *Reconciler) Reconcile(
	ctx context.Context,
	schema domain.Schema,
	src domain.SourceDocument,
	result *domain.ExtractionResult,
) (*domain.ReconciliationResult, error) {
	if result == nil {
		return nil, domain.WrapError(domain.ErrValidation, "reconcile", fmt.Errorf("nil extraction result"))
	}

	req := r.selectWeak(schema, src, result)
	out := &domain.ReconciliationResult{
		Merged:           result.Clone(),
		ChangedFieldKeys: []string{},
		ReexaminedFields: sortedKeys(req.Fields),
		ReexaminedItems:  sortedIndexes(req.LineItems),
		NewConfidence:    result.OverallConfidence,
	}
	if len(req.Fields) == 0 && len(req.LineItems) == 0 {
		return out, nil
	}

	resp, err := r.reextractor.ReExtract(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("re-extract weak fields: %w", err)
	}
	resp = normalizeReconcileResponse(resp)
	out.Model = resp.Model

	merged := out.Merged
	for _, key := range out.ReexaminedFields {
		next, ok := resp.Fields[key]
		if !ok {
			continue
		}
		prev, existed := merged.Fields[key]
		merged.Fields[key] = next
		if !existed || prev.Value != next.Value {
			out.ChangedFieldKeys = append(out.ChangedFieldKeys, key)
		}
	}
	for _, idx := range out.ReexaminedItems {
		next, ok := resp.LineItems[idx]
		if !ok || idx < 0 || idx >= len(merged.LineItems) {
			continue
		}
		prev := merged.LineItems[idx]
		// keys the model left out keep their original values
		values := make(map[string]string, len(prev.Values)+len(next.Values))
		for k, v := range prev.Values {
			values[k] = v
		}
		for k, v := range next.Values {
			values[k] = v
		}
		merged.LineItems[idx] = domain.LineItem{Values: values, Confidence: next.Confidence}
		for _, key := range changedItemKeys(prev.Values, values) {
			out.ChangedFieldKeys = append(out.ChangedFieldKeys, fmt.Sprintf("lineItems[%d].%s", idx, key))
		}
	}

	merged.OverallConfidence = domain.OverallConfidence(schema, merged)
	out.NewConfidence = merged.OverallConfidence
	return out, nil
}

// selectWeak picks header fields and whole line items under the floor plus
// required fields that are missing.
func (r *Reconciler) selectWeak(schema domain.Schema, src domain.SourceDocument, result *domain.ExtractionResult) domain.ReconcileRequest {
	req := domain.ReconcileRequest{
		DocumentID: src.DocumentID,
		Schema:     schema,
		Source:     src,
		Fields:     map[string]domain.FieldValue{},
		LineItems:  map[int]domain.LineItem{},
	}
	for key, fv := range result.Fields {
		if fv.Confidence < r.floor || fv.Value == "" {
			req.Fields[key] = fv
		}
	}
	for _, name := range schema.RequiredFields() {
		if fv, ok := result.Fields[name]; !ok || fv.Value == "" {
			req.Fields[name] = domain.FieldValue{}
		}
	}
	for i, item := range result.LineItems {
		if item.Confidence < r.floor {
			req.LineItems[i] = item
		}
	}
	return req
}

func normalizeReconcileResponse(resp *domain.ReconcileResponse) *domain.ReconcileResponse {
	if resp == nil {
		return &domain.ReconcileResponse{}
	}
	// Reuse the result normalizer so a percent-scaled answer is handled the
	// same way as an engine result.
	tmp := &domain.ExtractionResult{Fields: resp.Fields}
	indexes := sortedIndexes(resp.LineItems)
	for _, idx := range indexes {
		tmp.LineItems = append(tmp.LineItems, resp.LineItems[idx])
	}
	norm := domain.NormalizeConfidence(tmp)
	out := &domain.ReconcileResponse{
		Fields:    norm.Fields,
		LineItems: make(map[int]domain.LineItem, len(indexes)),
		Model:     resp.Model,
	}
	for i, idx := range indexes {
		out.LineItems[idx] = norm.LineItems[i]
	}
	return out
}

func changedItemKeys(prev, next map[string]string) []string {
	keys := map[string]struct{}{}
	for k := range prev {
		keys[k] = struct{}{}
	}
	for k := range next {
		keys[k] = struct{}{}
	}
	out := make([]string, 0, len(keys))
	for k := range keys {
		if prev[k] != next[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedIndexes[V any](m map[int]V) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
