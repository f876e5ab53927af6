package structured

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/docextract/internal/core/domain"
)

type fieldAnswer struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

type itemAnswer struct {
	Index      *int           `json:"index"`
	Values     map[string]any `json:"values"`
	Confidence float64        `json:"confidence"`
}

type extractionAnswer struct {
	Fields    map[string]fieldAnswer `json:"fields"`
	LineItems []itemAnswer           `json:"line_items"`
}

type issueAnswer struct {
	ItemIndex    int     `json:"item_index"`
	Field        string  `json:"field"`
	Description  string  `json:"description"`
	Severity     string  `json:"severity"`
	Suggestion   *string `json:"suggestion"`
	CurrentValue any     `json:"current_value"`
}

// ExtractJSONObject trims prose and code fences around the outermost object.
func ExtractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// ParseExtraction maps a validated extraction answer to a result. Confidences
// are kept as reported; the pipeline normalizes them.
func ParseExtraction(payload []byte, engine string) (*domain.ExtractionResult, error) {
	var answer extractionAnswer
	if err := decode(payload, &answer); err != nil {
		return nil, err
	}
	out := &domain.ExtractionResult{
		Fields:     make(map[string]domain.FieldValue, len(answer.Fields)),
		LineItems:  make([]domain.LineItem, 0, len(answer.LineItems)),
		EngineUsed: engine,
	}
	for name, f := range answer.Fields {
		out.Fields[name] = domain.FieldValue{Value: scalar(f.Value), Confidence: f.Confidence}
	}
	for _, item := range answer.LineItems {
		out.LineItems = append(out.LineItems, lineItem(item))
	}
	return out, nil
}

// ParseReconcile maps a re-extraction answer. Line items without an index
// cannot be attributed and are dropped from the response.
func ParseReconcile(payload []byte, model string) (*domain.ReconcileResponse, error) {
	var answer extractionAnswer
	if err := decode(payload, &answer); err != nil {
		return nil, err
	}
	out := &domain.ReconcileResponse{
		Fields:    make(map[string]domain.FieldValue, len(answer.Fields)),
		LineItems: make(map[int]domain.LineItem, len(answer.LineItems)),
		Model:     model,
	}
	for name, f := range answer.Fields {
		out.Fields[name] = domain.FieldValue{Value: scalar(f.Value), Confidence: f.Confidence}
	}
	for _, item := range answer.LineItems {
		if item.Index == nil {
			continue
		}
		out.LineItems[*item.Index] = lineItem(item)
	}
	return out, nil
}

func ParseIssues(payload []byte) ([]domain.VerificationIssue, error) {
	var answer struct {
		Issues []issueAnswer `json:"issues"`
	}
	if err := decode(payload, &answer); err != nil {
		return nil, err
	}
	out := make([]domain.VerificationIssue, 0, len(answer.Issues))
	for _, issue := range answer.Issues {
		v := domain.VerificationIssue{
			ItemIndex:    issue.ItemIndex,
			Field:        issue.Field,
			Description:  issue.Description,
			Severity:     domain.Severity(issue.Severity),
			CurrentValue: scalar(issue.CurrentValue),
		}
		if issue.Suggestion != nil {
			v.Suggestion = *issue.Suggestion
		}
		out = append(out, v)
	}
	return out, nil
}

func lineItem(item itemAnswer) domain.LineItem {
	values := make(map[string]string, len(item.Values))
	for k, v := range item.Values {
		values[k] = scalar(v)
	}
	return domain.LineItem{Values: values, Confidence: item.Confidence}
}

func decode(payload []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &OutputError{Err: fmt.Errorf("decode answer: %w", err)}
	}
	return nil
}

// scalar renders a JSON scalar as the string form stored in extracted data.
func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
