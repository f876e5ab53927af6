package structured

import (
	"github.com/kirillkom/docextract/internal/core/domain"
)

// ExtractionSchema is the JSON schema a model answer must satisfy for s.
// Declared fields are described but optional; the verifier reports missing
// required fields with a better message than a schema error would.
func ExtractionSchema(s domain.Schema) map[string]any {
	fieldProps := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		fieldProps[f.Name] = fieldValueSchema(f)
	}
	itemProps := make(map[string]any, len(s.LineItems))
	for _, f := range s.LineItems {
		itemProps[f.Name] = scalarSchema(f)
	}

	return map[string]any{
		"type":     "object",
		"required": []string{"fields"},
		"properties": map[string]any{
			"fields": map[string]any{
				"type":                 "object",
				"properties":           fieldProps,
				"additionalProperties": fieldValueSchema(domain.FieldSpec{Type: domain.FieldString}),
			},
			"line_items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"values"},
					"properties": map[string]any{
						"index": map[string]any{"type": "integer", "minimum": 0},
						"values": map[string]any{
							"type":                 "object",
							"properties":           itemProps,
							"additionalProperties": scalarSchema(domain.FieldSpec{Type: domain.FieldString}),
						},
						"confidence": confidenceSchema(),
					},
				},
			},
		},
	}
}

// IssuesSchema is the JSON schema of a consistency checker answer.
func IssuesSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"issues"},
		"properties": map[string]any{
			"issues": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"item_index", "field", "description", "severity"},
					"properties": map[string]any{
						"item_index":    map[string]any{"type": "integer", "minimum": domain.HeaderItemIndex},
						"field":         map[string]any{"type": "string"},
						"description":   map[string]any{"type": "string", "minLength": 1},
						"severity":      map[string]any{"enum": []string{string(domain.SeverityWarning), string(domain.SeverityError)}},
						"suggestion":    map[string]any{"type": []string{"string", "null"}},
						"current_value": map[string]any{"type": []string{"string", "number", "null"}},
					},
				},
			},
		},
	}
}

func fieldValueSchema(f domain.FieldSpec) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"value"},
		"properties": map[string]any{
			"value":      scalarSchema(f),
			"confidence": confidenceSchema(),
		},
	}
}

// scalarSchema accepts numbers for numeric types since models rarely quote them.
func scalarSchema(f domain.FieldSpec) map[string]any {
	out := map[string]any{"type": []string{"string", "null"}}
	if f.Type.Numeric() {
		out["type"] = []string{"string", "number", "null"}
	}
	if f.Description != "" {
		out["description"] = f.Description
	}
	return out
}

// confidenceSchema allows 0..100 because some models answer in percent.
func confidenceSchema() map[string]any {
	return map[string]any{"type": "number", "minimum": 0, "maximum": 100}
}
