package source

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// loadPDF reads the text layer page by page. Scanned PDFs without a text
// layer are rejected; page images must be uploaded instead.
func loadPDF(raw []byte) (src domain.SourceDocument, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			src = domain.SourceDocument{}
			err = domain.WrapError(domain.ErrValidation, "load pdf source", fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return domain.SourceDocument{}, domain.WrapError(domain.ErrValidation, "load pdf source", err)
	}

	pages := reader.NumPage()
	parts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return domain.SourceDocument{}, domain.WrapError(domain.ErrValidation, "load pdf source",
				fmt.Errorf("page %d: %w", i, err))
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return domain.SourceDocument{}, domain.WrapError(domain.ErrValidation, "load pdf source",
			errors.New("pdf has no text layer"))
	}
	return domain.SourceDocument{Text: strings.Join(parts, "\n"), Pages: pages}, nil
}
