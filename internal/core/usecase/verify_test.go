package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/kirillkom/docextract/internal/core/domain"
)

func TestVerifierOrdersIssuesAndMapsBatchIndexes(t *testing.T) {
	items := make([]domain.LineItem, 30)
	for i := range items {
		items[i] = domain.LineItem{Values: map[string]string{"quantity": "2", "unit_price": "5.00", "amount": "10.00"}, Confidence: 0.9}
	}
	items[27].Values["amount"] = "11.00"
	result := &domain.ExtractionResult{
		Fields:    map[string]domain.FieldValue{"invoice_number": {Value: "INV-7", Confidence: 0.9}},
		LineItems: items,
	}
	checker := &checkerFake{issues: func(req domain.VerificationRequest) []domain.VerificationIssue {
		if req.BatchIndex == 0 {
			return []domain.VerificationIssue{
				{ItemIndex: 3, Field: "amount", Description: "looks off", Severity: domain.SeverityWarning},
				{ItemIndex: domain.HeaderItemIndex, Field: "invoice_number", Description: "check number", Severity: domain.SeverityWarning},
			}
		}
		return []domain.VerificationIssue{
			{ItemIndex: 1, Field: "description", Description: "empty", Severity: domain.SeverityWarning},
			{ItemIndex: domain.HeaderItemIndex, Field: "total", Description: "repeated header", Severity: domain.SeverityError},
			{ItemIndex: 10, Field: "amount", Description: "out of batch", Severity: domain.SeverityError},
		}
	}}

	issues, err := NewVerifier(checker, 25).Verify(context.Background(), invoiceSchema, domain.SourceDocument{DocumentID: "doc-1", Text: invoiceText}, result)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(checker.requests) != 2 {
		t.Fatalf("expected 2 checker batches, got %d", len(checker.requests))
	}
	if checker.requests[0].Fields == nil || checker.requests[1].Fields != nil {
		t.Fatalf("header fields belong to the first batch only")
	}
	if checker.requests[1].FirstItem != 25 || len(checker.requests[1].LineItems) != 5 {
		t.Fatalf("unexpected second batch %+v", checker.requests[1])
	}

	want := []struct {
		index int
		field string
	}{
		{domain.HeaderItemIndex, "total"},
		{domain.HeaderItemIndex, "invoice_number"},
		{3, "amount"},
		{26, "description"},
		{27, "amount"},
	}
	if len(issues) != len(want) {
		t.Fatalf("expected %d issues, got %+v", len(want), issues)
	}
	for i, w := range want {
		if issues[i].ItemIndex != w.index || issues[i].Field != w.field {
			t.Fatalf("issue %d: expected %d/%s, got %+v", i, w.index, w.field, issues[i])
		}
	}
	if issues[0].Severity != domain.SeverityError || issues[0].Description != "required field missing" {
		t.Fatalf("expected missing required total first, got %+v", issues[0])
	}
	if issues[4].Suggestion != "10.00" || issues[4].CurrentValue != "11.00" {
		t.Fatalf("expected arithmetic suggestion, got %+v", issues[4])
	}
}

func TestVerifierSplitsFiftyThreeItemsIntoThreeBatches(t *testing.T) {
	items := make([]domain.LineItem, 53)
	for i := range items {
		items[i] = domain.LineItem{Values: map[string]string{"description": fmt.Sprintf("item %d", i)}, Confidence: 0.9}
	}
	result := &domain.ExtractionResult{
		Fields:    map[string]domain.FieldValue{"invoice_number": {Value: "INV-7", Confidence: 0.9}},
		LineItems: items,
	}
	// Every batch flags its first and last item by batch-relative index.
	checker := &checkerFake{issues: func(req domain.VerificationRequest) []domain.VerificationIssue {
		out := []domain.VerificationIssue{
			{ItemIndex: 0, Field: "description", Description: "cross-check", Severity: domain.SeverityWarning},
			{ItemIndex: len(req.LineItems) - 1, Field: "description", Description: "cross-check", Severity: domain.SeverityWarning},
		}
		if req.BatchIndex == 0 {
			out = append(out, domain.VerificationIssue{ItemIndex: domain.HeaderItemIndex, Field: "invoice_number", Description: "cross-check", Severity: domain.SeverityWarning})
		}
		return out
	}}

	issues, err := NewVerifier(checker, 25).Verify(context.Background(), invoiceSchema, domain.SourceDocument{DocumentID: "doc-1", Text: invoiceText}, result)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if len(checker.requests) != 3 {
		t.Fatalf("expected 3 checker batches, got %d", len(checker.requests))
	}
	for i, want := range []struct{ size, first int }{{25, 0}, {25, 25}, {3, 50}} {
		req := checker.requests[i]
		if len(req.LineItems) != want.size || req.FirstItem != want.first || req.BatchIndex != i || req.BatchCount != 3 {
			t.Fatalf("batch %d: got size=%d first=%d index=%d count=%d, want size=%d first=%d",
				i, len(req.LineItems), req.FirstItem, req.BatchIndex, req.BatchCount, want.size, want.first)
		}
		if req.LineItems[0].Values["description"] != fmt.Sprintf("item %d", want.first) {
			t.Fatalf("batch %d starts at %q", i, req.LineItems[0].Values["description"])
		}
	}

	var got []int
	for _, issue := range issues {
		if issue.Description == "cross-check" {
			got = append(got, issue.ItemIndex)
		}
	}
	want := []int{domain.HeaderItemIndex, 0, 24, 25, 49, 50, 52}
	if !slices.Equal(got, want) {
		t.Fatalf("rebased issue indexes = %v, want %v", got, want)
	}
}

func TestVerifierLocalTypeChecks(t *testing.T) {
	schema := domain.Schema{
		DocType: "packing_list",
		Fields: []domain.FieldSpec{
			{Name: "packages", Type: domain.FieldInteger, Required: true},
			{Name: "shipped_on", Type: domain.FieldDate},
			{Name: "weight", Type: domain.FieldNumber},
		},
	}
	result := &domain.ExtractionResult{Fields: map[string]domain.FieldValue{
		"packages":   {Value: "2.5", Confidence: 0.9},
		"shipped_on": {Value: "next tuesday", Confidence: 0.9},
		"weight":     {Value: "1 234,5 kg", Confidence: 0.9},
	}}

	issues, err := NewVerifier(nil, 0).Verify(context.Background(), schema, domain.SourceDocument{Images: [][]byte{{1}}}, result)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	got := map[string]domain.Severity{}
	for _, issue := range issues {
		got[issue.Field] = issue.Severity
	}
	if got["packages"] != domain.SeverityError {
		t.Fatalf("non-integer packages must be an error, got %+v", issues)
	}
	if got["shipped_on"] != domain.SeverityWarning {
		t.Fatalf("unparseable date must be a warning, got %+v", issues)
	}
	if _, ok := got["weight"]; ok {
		t.Fatalf("weight parses and must not be flagged, got %+v", issues)
	}
	if !domain.HasErrorIssue(issues) {
		t.Fatalf("expected an error issue")
	}
}

func TestVerifierFlagsValuesMissingFromSource(t *testing.T) {
	result := &domain.ExtractionResult{Fields: map[string]domain.FieldValue{
		"invoice_number": {Value: "inv-7", Confidence: 0.9},
		"total":          {Value: "999.99", Confidence: 0.9},
	}}

	issues, _ := NewVerifier(nil, 0).Verify(context.Background(), invoiceSchema, domain.SourceDocument{Text: invoiceText}, result)
	if len(issues) != 1 || issues[0].Field != "total" || issues[0].Severity != domain.SeverityWarning {
		t.Fatalf("expected one warning for total, got %+v", issues)
	}
}

func TestVerifierReturnsLocalIssuesWhenCheckerFails(t *testing.T) {
	checker := &checkerFake{err: errors.New("model down")}
	result := &domain.ExtractionResult{Fields: map[string]domain.FieldValue{}}

	issues, err := NewVerifier(checker, 25).Verify(context.Background(), invoiceSchema, domain.SourceDocument{Text: invoiceText}, result)
	if err == nil {
		t.Fatalf("expected checker error")
	}
	if len(issues) != 2 {
		t.Fatalf("expected two missing-field issues, got %+v", issues)
	}
}

func TestParseDecimal(t *testing.T) {
	tests := map[string]float64{
		"1 234,56":  1234.56,
		"1,234.56":  1234.56,
		"1.234,56":  1234.56,
		"$12.00":    12,
		"-3":        -3,
		"1,234,567": 1234567,
		"12,5":      12.5,
	}
	for in, want := range tests {
		got, err := ParseDecimal(in)
		if err != nil {
			t.Fatalf("ParseDecimal(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseDecimal(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseDecimal("n/a"); err == nil {
		t.Fatalf("expected error for n/a")
	}
}

func TestParseDate(t *testing.T) {
	for _, in := range []string{"2024-03-01", "01.03.2024", "1 March 2024", "Mar 1, 2024"} {
		got, err := ParseDate(in)
		if err != nil {
			t.Fatalf("ParseDate(%q) error = %v", in, err)
		}
		if got.Year() != 2024 || got.Month() != 3 || got.Day() != 1 {
			t.Fatalf("ParseDate(%q) = %v", in, got)
		}
	}
	if _, err := ParseDate("soon"); err == nil {
		t.Fatalf("expected error for soon")
	}
}
