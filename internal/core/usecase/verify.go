package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

const defaultVerificationBatchSize = 25

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02.01.06",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
	"02-01-2006",
	"2 January 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	time.RFC3339,
}

// Verifier runs deterministic checks and the model cross-check. Issues are
// returned header first, then by line item index.
type Verifier struct {
	checker   ports.ConsistencyChecker
	batchSize int
}

func NewVerifier(checker ports.ConsistencyChecker, batchSize int) *Verifier {
	if batchSize <= 0 {
		batchSize = defaultVerificationBatchSize
	}
	return &Verifier{checker: checker, batchSize: batchSize}
}

// Verify always returns the issues it collected. A non-nil error means the
// model check did not complete.
func (v *Verifier) Verify(
	ctx context.Context,
	schema domain.Schema,
	src domain.SourceDocument,
	result *domain.ExtractionResult,
) ([]domain.VerificationIssue, error) {
	if result == nil {
		result = &domain.ExtractionResult{}
	}
	issues := localChecks(schema, src, result)

	var checkErr error
	if v.checker != nil {
		modelIssues, err := v.modelChecks(ctx, schema, src, result)
		issues = append(issues, modelIssues...)
		checkErr = err
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].ItemIndex < issues[j].ItemIndex
	})
	return issues, checkErr
}

func (v *Verifier) modelChecks(
	ctx context.Context,
	schema domain.Schema,
	src domain.SourceDocument,
	result *domain.ExtractionResult,
) ([]domain.VerificationIssue, error) {
	batches := [][]domain.LineItem{nil}
	if len(result.LineItems) > 0 {
		batches = batches[:0]
		for start := 0; start < len(result.LineItems); start += v.batchSize {
			end := start + v.batchSize
			if end > len(result.LineItems) {
				end = len(result.LineItems)
			}
			batches = append(batches, result.LineItems[start:end])
		}
	}

	var out []domain.VerificationIssue
	for i, items := range batches {
		req := domain.VerificationRequest{
			DocumentID: src.DocumentID,
			Schema:     schema,
			SourceText: sourceText(src),
			LineItems:  items,
			FirstItem:  i * v.batchSize,
			BatchIndex: i,
			BatchCount: len(batches),
		}
		if i == 0 {
			req.Fields = result.Fields
		}
		found, err := v.checker.Check(ctx, req)
		if err != nil {
			return out, fmt.Errorf("consistency check batch %d/%d: %w", i+1, len(batches), err)
		}
		for _, issue := range found {
			if issue.ItemIndex == domain.HeaderItemIndex {
				if i > 0 {
					continue
				}
				out = append(out, issue)
				continue
			}
			if issue.ItemIndex < 0 || issue.ItemIndex >= len(items) {
				slog.Debug("verification_issue_dropped", "document_id", src.DocumentID, "item_index", issue.ItemIndex, "batch", i)
				continue
			}
			issue.ItemIndex += req.FirstItem
			out = append(out, issue)
		}
	}
	return out, nil
}

func localChecks(schema domain.Schema, src domain.SourceDocument, result *domain.ExtractionResult) []domain.VerificationIssue {
	var issues []domain.VerificationIssue
	haystack := ""
	if src.HasTextLayer() {
		haystack = normalizeForMatch(sourceText(src))
	}

	for _, fs := range schema.Fields {
		fv, ok := result.Fields[fs.Name]
		value := strings.TrimSpace(fv.Value)
		if !ok || value == "" {
			if fs.Required {
				issues = append(issues, domain.VerificationIssue{
					ItemIndex:   domain.HeaderItemIndex,
					Field:       fs.Name,
					Description: "required field missing",
					Severity:    domain.SeverityError,
				})
			}
			continue
		}
		if haystack != "" && !strings.Contains(haystack, normalizeForMatch(value)) {
			issues = append(issues, domain.VerificationIssue{
				ItemIndex:    domain.HeaderItemIndex,
				Field:        fs.Name,
				Description:  "value not found in source",
				Severity:     domain.SeverityWarning,
				CurrentValue: value,
			})
		}
		if issue, bad := typeIssue(fs, value, domain.HeaderItemIndex); bad {
			issues = append(issues, issue)
		}
	}

	for i, item := range result.LineItems {
		for _, fs := range schema.LineItems {
			value := strings.TrimSpace(item.Values[fs.Name])
			if value == "" {
				continue
			}
			if issue, bad := typeIssue(fs, value, i); bad {
				issues = append(issues, issue)
			}
		}
		if issue, bad := arithmeticIssue(item, i); bad {
			issues = append(issues, issue)
		}
	}
	return issues
}

func typeIssue(fs domain.FieldSpec, value string, itemIndex int) (domain.VerificationIssue, bool) {
	switch {
	case fs.Type.Numeric():
		n, err := ParseDecimal(value)
		if err != nil || (fs.Type == domain.FieldInteger && n != math.Trunc(n)) {
			return domain.VerificationIssue{
				ItemIndex:    itemIndex,
				Field:        fs.Name,
				Description:  fmt.Sprintf("value is not a valid %s", fs.Type),
				Severity:     domain.SeverityError,
				CurrentValue: value,
			}, true
		}
	case fs.Type == domain.FieldDate:
		if _, err := ParseDate(value); err != nil {
			return domain.VerificationIssue{
				ItemIndex:    itemIndex,
				Field:        fs.Name,
				Description:  "date could not be parsed",
				Severity:     domain.SeverityWarning,
				CurrentValue: value,
			}, true
		}
	}
	return domain.VerificationIssue{}, false
}

func arithmeticIssue(item domain.LineItem, index int) (domain.VerificationIssue, bool) {
	rawQty, okQ := item.Values["quantity"]
	rawPrice, okP := item.Values["unit_price"]
	rawAmount, okA := item.Values["amount"]
	if !okQ || !okP || !okA {
		return domain.VerificationIssue{}, false
	}
	qty, err1 := ParseDecimal(rawQty)
	price, err2 := ParseDecimal(rawPrice)
	amount, err3 := ParseDecimal(rawAmount)
	if err1 != nil || err2 != nil || err3 != nil {
		return domain.VerificationIssue{}, false
	}
	expected := qty * price
	if math.Abs(expected-amount) <= 0.01+1e-9 {
		return domain.VerificationIssue{}, false
	}
	return domain.VerificationIssue{
		ItemIndex:    index,
		Field:        "amount",
		Description:  "quantity x unit_price does not match amount",
		Severity:     domain.SeverityWarning,
		Suggestion:   strconv.FormatFloat(math.Round(expected*100)/100, 'f', 2, 64),
		CurrentValue: rawAmount,
	}, true
}

// ParseDecimal accepts amounts like "1 234,56", "1,234.56" or "$12.00".
func ParseDecimal(raw string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',', r == '-':
			return r
		default:
			return -1
		}
	}, raw)
	if cleaned == "" || cleaned == "-" {
		return 0, fmt.Errorf("no digits in %q", raw)
	}
	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	}
	return strconv.ParseFloat(cleaned, 64)
}

func ParseDate(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func sourceText(src domain.SourceDocument) string {
	if len(src.Rows) == 0 {
		return src.Text
	}
	var b strings.Builder
	b.WriteString(src.Text)
	b.WriteString("\n")
	b.WriteString(strings.Join(src.Header, "\t"))
	for _, row := range src.Rows {
		b.WriteString("\n")
		b.WriteString(strings.Join(row, "\t"))
	}
	return b.String()
}

func normalizeForMatch(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}
