package structured

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const maxPromptText = 12000

// Prompt is a system/user message pair shared by the chat adapters.
type Prompt struct {
	System string
	User   string
}

func ExtractionPrompt(req domain.ExtractionRequest) Prompt {
	var user strings.Builder
	fmt.Fprintf(&user, "Document type: %s (%s)\n", req.Schema.DocType, req.Schema.Domain)
	if req.BatchCount > 1 {
		fmt.Fprintf(&user, "This is part %d of %d of one document.\n", req.BatchIndex+1, req.BatchCount)
	}
	if !req.IncludeHeader {
		user.WriteString("Header fields were read from an earlier part. Return \"fields\": {} unless a header field appears only here.\n")
	}
	if len(req.Rows) > 0 {
		user.WriteString("\nTable rows (one line item per row, keep the order):\n")
		if len(req.Header) > 0 {
			user.WriteString(strings.Join(req.Header, " | "))
			user.WriteString("\n")
		}
		for _, row := range req.Rows {
			user.WriteString(strings.Join(row, " | "))
			user.WriteString("\n")
		}
	}
	if text := strings.TrimSpace(req.Text); text != "" {
		user.WriteString("\nDocument text:\n")
		user.WriteString(truncate(text, maxPromptText))
		user.WriteString("\n")
	}
	if len(req.Images) > 0 {
		fmt.Fprintf(&user, "\n%d page image(s) are attached.\n", len(req.Images))
	}

	return Prompt{
		System: strings.Join([]string{
			"You extract structured data from business documents.",
			"Return ONLY a JSON object that matches the JSON Schema below.",
			"Every field carries a value and a confidence between 0 and 1.",
			"Copy values as printed; use ISO-8601 dates (YYYY-MM-DD) and plain decimals without currency symbols.",
			"Omit fields that are not present. Never invent line items.",
			describeSchema(req.Schema),
			"JSON Schema:\n" + mustJSON(ExtractionSchema(req.Schema)),
		}, "\n"),
		User: user.String(),
	}
}

func ReconcilePrompt(req domain.ReconcileRequest) Prompt {
	var user strings.Builder
	user.WriteString("A first pass produced low-confidence values. Re-read ONLY the parts listed below.\n")
	if len(req.Fields) > 0 {
		user.WriteString("\nHeader fields to re-read (current value, confidence):\n")
		for _, name := range sortedKeys(req.Fields) {
			f := req.Fields[name]
			fmt.Fprintf(&user, "- %s: %q (%.2f)\n", name, f.Value, f.Confidence)
		}
	}
	if len(req.LineItems) > 0 {
		user.WriteString("\nLine items to re-read, by index:\n")
		indexes := make([]int, 0, len(req.LineItems))
		for i := range req.LineItems {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			fmt.Fprintf(&user, "- index %d: %s\n", i, compactJSON(req.LineItems[i].Values))
		}
	}
	user.WriteString("\nSource:\n")
	user.WriteString(sourceText(req.Source))

	return Prompt{
		System: strings.Join([]string{
			"You verify and correct extracted document data.",
			"Return ONLY a JSON object that matches the JSON Schema below.",
			"Return only the header fields and line items you were asked about; line items must carry their index.",
			"Give each value a confidence between 0 and 1.",
			describeSchema(req.Schema),
			"JSON Schema:\n" + mustJSON(ExtractionSchema(req.Schema)),
		}, "\n"),
		User: user.String(),
	}
}

func CheckPrompt(req domain.VerificationRequest) Prompt {
	var user strings.Builder
	if req.BatchCount > 1 {
		fmt.Fprintf(&user, "Batch %d of %d.\n", req.BatchIndex+1, req.BatchCount)
	}
	if len(req.Fields) > 0 {
		user.WriteString("Header fields:\n")
		for _, name := range sortedKeys(req.Fields) {
			fmt.Fprintf(&user, "- %s: %q\n", name, req.Fields[name].Value)
		}
	}
	if len(req.LineItems) > 0 {
		user.WriteString("\nLine items (item_index is the position in this list):\n")
		for i, item := range req.LineItems {
			fmt.Fprintf(&user, "%d: %s\n", i, compactJSON(item.Values))
		}
	}
	if text := strings.TrimSpace(req.SourceText); text != "" {
		user.WriteString("\nSource text:\n")
		user.WriteString(truncate(text, maxPromptText))
	}

	return Prompt{
		System: strings.Join([]string{
			"You cross-check extracted document data against its source for consistency.",
			"Report wrong totals, impossible dates, values that contradict the source and mismatched line items.",
			"Use item_index -1 for header fields. Severity is \"error\" for wrong values and \"warning\" for doubts.",
			"Return {\"issues\": []} when everything is consistent.",
			"JSON Schema:\n" + mustJSON(IssuesSchema()),
		}, "\n"),
		User: user.String(),
	}
}

func describeSchema(s domain.Schema) string {
	var b strings.Builder
	b.WriteString("Header fields:")
	for _, f := range s.Fields {
		b.WriteString("\n- ")
		b.WriteString(describeField(f))
	}
	if s.HasTable() {
		b.WriteString("\nLine item columns:")
		for _, f := range s.LineItems {
			b.WriteString("\n- ")
			b.WriteString(describeField(f))
		}
	}
	return b.String()
}

func describeField(f domain.FieldSpec) string {
	out := fmt.Sprintf("%s (%s", f.Name, f.Type)
	if f.Required {
		out += ", required"
	}
	out += ")"
	if f.Description != "" {
		out += ": " + f.Description
	}
	return out
}

func sourceText(src domain.SourceDocument) string {
	if len(src.Rows) > 0 {
		var b strings.Builder
		b.WriteString(strings.Join(src.Header, " | "))
		for _, row := range src.Rows {
			b.WriteString("\n")
			b.WriteString(strings.Join(row, " | "))
		}
		return truncate(b.String(), maxPromptText)
	}
	return truncate(src.Text, maxPromptText)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func compactJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
