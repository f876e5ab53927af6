package usecase

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/kirillkom/docextract/internal/core/domain"
)

var (
	reDateArtifact     = regexp.MustCompile(`\b(\d{1,2}[./-]\d{1,2}[./-]\d{2,4}|20\d{2}-\d{2}-\d{2})\b`)
	reCurrencyArtifact = regexp.MustCompile(`\b(usd|eur|gbp|rub|chf|pln)\b|[$£€₽]`)
	reAmountArtifact   = regexp.MustCompile(`\b\d{1,3}([ ,]\d{3})*[.,]\d{2}\b`)
)

// QualityAssessor scores the readability of a source and picks a route.
// It never touches stores or models.
type QualityAssessor struct {
	ocrBelow float64
}

func NewQualityAssessor(ocrRouteQualityBelow float64) *QualityAssessor {
	if ocrRouteQualityBelow <= 0 || ocrRouteQualityBelow > 1 {
		ocrRouteQualityBelow = 0.55
	}
	return &QualityAssessor{ocrBelow: ocrRouteQualityBelow}
}

func (a *QualityAssessor) Assess(ctx context.Context, src domain.SourceDocument) (domain.QualityAssessment, error) {
	if err := ctx.Err(); err != nil {
		return domain.QualityAssessment{}, err
	}
	if src.Empty() {
		return domain.QualityAssessment{}, domain.WrapError(domain.ErrValidation, "assess quality", fmt.Errorf("source %s has no readable content", src.DocumentID))
	}

	if len(src.Rows) > 0 {
		complexity := math.Min(1, float64(len(src.Rows))/200+float64(len(src.Header))/40)
		return domain.QualityAssessment{
			ScanQuality:          1,
			StructuralComplexity: round2(complexity),
			Route:                domain.RouteGeneral,
			Rationale:            fmt.Sprintf("spreadsheet with %d rows", len(src.Rows)),
		}, nil
	}

	if strings.TrimSpace(src.Text) == "" {
		return domain.QualityAssessment{
			ScanQuality:          0,
			StructuralComplexity: round2(math.Min(1, float64(len(src.Images))/10)),
			Route:                domain.RouteOCR,
			Rationale:            fmt.Sprintf("image-only source with %d pages", len(src.Images)),
		}, nil
	}

	scan := scanQuality(src)
	if err := ctx.Err(); err != nil {
		return domain.QualityAssessment{}, err
	}
	complexity := structuralComplexity(src)

	route := domain.RouteGeneral
	rationale := fmt.Sprintf("text layer quality %.2f", scan)
	if scan < a.ocrBelow {
		route = domain.RouteOCR
		rationale = fmt.Sprintf("text layer quality %.2f below %.2f", scan, a.ocrBelow)
	}
	return domain.QualityAssessment{
		ScanQuality:          scan,
		StructuralComplexity: complexity,
		Route:                route,
		Rationale:            rationale,
	}, nil
}

// scanQuality weighs printable ratio, typical business artifacts and text
// density per page.
func scanQuality(src domain.SourceDocument) float64 {
	text := src.Text
	total, printable := 0, 0
	for _, r := range text {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	if total == 0 {
		return 0
	}
	score := 0.5 * float64(printable) / float64(total)

	lower := strings.ToLower(text)
	if reDateArtifact.MatchString(lower) {
		score += 0.15
	}
	if reCurrencyArtifact.MatchString(lower) {
		score += 0.1
	}
	if reAmountArtifact.MatchString(lower) {
		score += 0.1
	}

	pages := src.Pages
	if pages <= 0 {
		pages = 1
	}
	score += 0.15 * math.Min(1, float64(total)/float64(pages)/400)
	return round2(math.Min(1, score))
}

func structuralComplexity(src domain.SourceDocument) float64 {
	lines := strings.Split(src.Text, "\n")
	nonEmpty := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return 0
	}
	tableRatio := float64(len(src.TableLines)) / float64(nonEmpty)
	pages := math.Min(1, float64(src.Pages)/10)
	return round2(math.Min(1, 0.6*tableRatio+0.4*pages))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
