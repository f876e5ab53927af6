package structured

import (
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/docextract/internal/core/domain"
)

var deliverySchema = domain.Schema{
	Domain:  "logistics",
	DocType: "delivery_note",
	Version: "1",
	Fields: []domain.FieldSpec{
		{Name: "note_number", Type: domain.FieldString, Required: true},
		{Name: "delivery_date", Type: domain.FieldDate},
	},
	LineItems: []domain.FieldSpec{
		{Name: "sku", Type: domain.FieldString},
		{Name: "quantity", Type: domain.FieldInteger},
	},
}

func TestValidatorAcceptsWellFormedExtraction(t *testing.T) {
	v := NewValidator()
	payload := []byte(`{"fields":{"note_number":{"value":"DN-42","confidence":0.9},"carrier":{"value":"DHL","confidence":0.7}},
		"line_items":[{"values":{"sku":"A-1","quantity":3},"confidence":0.8}]}`)
	if err := v.ValidateExtraction(deliverySchema, payload); err != nil {
		t.Fatalf("ValidateExtraction() error = %v", err)
	}
	// second call hits the compiled cache
	if err := v.ValidateExtraction(deliverySchema, payload); err != nil {
		t.Fatalf("ValidateExtraction() cached error = %v", err)
	}
}

func TestValidatorRejectsMalformedAnswers(t *testing.T) {
	v := NewValidator()
	cases := map[string]string{
		"not json":          `{"fields":`,
		"missing fields":    `{"line_items":[]}`,
		"value not scalar":  `{"fields":{"note_number":{"value":{"x":1}}}}`,
		"confidence range":  `{"fields":{"note_number":{"value":"DN-42","confidence":140}}}`,
		"item without vals": `{"fields":{},"line_items":[{"confidence":0.5}]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			err := v.ValidateExtraction(deliverySchema, []byte(payload))
			var outErr *OutputError
			if !errors.As(err, &outErr) {
				t.Fatalf("expected *OutputError, got %v", err)
			}
		})
	}
}

func TestValidateIssues(t *testing.T) {
	v := NewValidator()
	if err := v.ValidateIssues([]byte(`{"issues":[{"item_index":-1,"field":"total","description":"sum mismatch","severity":"error","suggestion":"10.00"}]}`)); err != nil {
		t.Fatalf("ValidateIssues() error = %v", err)
	}
	if err := v.ValidateIssues([]byte(`{"issues":[{"item_index":0,"field":"x","description":"d","severity":"fatal"}]}`)); err == nil {
		t.Fatalf("expected unknown severity to be rejected")
	}
}

func TestParseExtractionKeepsNumberFormatting(t *testing.T) {
	result, err := ParseExtraction([]byte(`{"fields":{"total":{"value":120.50,"confidence":93}},
		"line_items":[{"values":{"sku":"A-1","quantity":3},"confidence":0.8},{"values":{"sku":"A-2","quantity":null},"confidence":0.4}]}`), "gpt-test")
	if err != nil {
		t.Fatalf("ParseExtraction() error = %v", err)
	}
	if result.Fields["total"].Value != "120.50" || result.Fields["total"].Confidence != 93 {
		t.Fatalf("unexpected total %+v", result.Fields["total"])
	}
	if len(result.LineItems) != 2 || result.LineItems[0].Values["quantity"] != "3" || result.LineItems[1].Values["quantity"] != "" {
		t.Fatalf("unexpected line items %+v", result.LineItems)
	}
	if result.EngineUsed != "gpt-test" {
		t.Fatalf("unexpected engine %q", result.EngineUsed)
	}
}

func TestParseReconcileIndexesLineItems(t *testing.T) {
	resp, err := ParseReconcile([]byte(`{"fields":{"total":{"value":"99.00","confidence":0.95}},
		"line_items":[{"index":4,"values":{"sku":"B-9"},"confidence":0.9},{"values":{"sku":"lost"},"confidence":0.9}]}`), "strong")
	if err != nil {
		t.Fatalf("ParseReconcile() error = %v", err)
	}
	if len(resp.LineItems) != 1 || resp.LineItems[4].Values["sku"] != "B-9" {
		t.Fatalf("unexpected line items %+v", resp.LineItems)
	}
	if resp.Model != "strong" || resp.Fields["total"].Value != "99.00" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestParseIssues(t *testing.T) {
	issues, err := ParseIssues([]byte(`{"issues":[{"item_index":2,"field":"amount","description":"qty x price","severity":"warning","current_value":12.5}]}`))
	if err != nil {
		t.Fatalf("ParseIssues() error = %v", err)
	}
	if len(issues) != 1 || issues[0].ItemIndex != 2 || issues[0].CurrentValue != "12.5" || issues[0].Severity != domain.SeverityWarning {
		t.Fatalf("unexpected issues %+v", issues)
	}
}

func TestExtractJSONObjectStripsFences(t *testing.T) {
	got := ExtractJSONObject("```json\n{\"fields\":{}}\n```")
	if got != `{"fields":{}}` {
		t.Fatalf("unexpected object %q", got)
	}
}

func TestExtractionPromptMentionsBatchAndHeaderRule(t *testing.T) {
	p := ExtractionPrompt(domain.ExtractionRequest{
		Schema:     deliverySchema,
		Header:     []string{"sku", "qty"},
		Rows:       [][]string{{"A-1", "3"}},
		BatchIndex: 1,
		BatchCount: 3,
	})
	for _, want := range []string{"part 2 of 3", "earlier part", "sku | qty", "A-1 | 3"} {
		if !strings.Contains(p.User, want) {
			t.Fatalf("user prompt misses %q:\n%s", want, p.User)
		}
	}
	if !strings.Contains(p.System, "note_number (string, required)") {
		t.Fatalf("system prompt misses schema description:\n%s", p.System)
	}
}

func TestReconcilePromptListsOnlyWeakParts(t *testing.T) {
	p := ReconcilePrompt(domain.ReconcileRequest{
		Schema:    deliverySchema,
		Source:    domain.SourceDocument{Text: "Delivery note DN-42"},
		Fields:    map[string]domain.FieldValue{"note_number": {Value: "DN-4Z", Confidence: 0.4}},
		LineItems: map[int]domain.LineItem{7: {Values: map[string]string{"sku": "A-?"}}},
	})
	for _, want := range []string{`note_number: "DN-4Z" (0.40)`, `index 7: {"sku":"A-?"}`, "Delivery note DN-42"} {
		if !strings.Contains(p.User, want) {
			t.Fatalf("user prompt misses %q:\n%s", want, p.User)
		}
	}
}
