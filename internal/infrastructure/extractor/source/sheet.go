package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// loadSpreadsheet takes the first sheet that has data. Its first non-empty
// row is the header.
func loadSpreadsheet(raw []byte) (domain.SourceDocument, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return domain.SourceDocument{}, domain.WrapError(domain.ErrValidation, "load spreadsheet source", err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return domain.SourceDocument{}, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		src, ok := tableSource(rows)
		if ok {
			src.Preamble = sheet
			return src, nil
		}
	}
	return domain.SourceDocument{}, domain.WrapError(domain.ErrValidation, "load spreadsheet source",
		errors.New("workbook has no data rows"))
}

func loadCSV(raw []byte) (domain.SourceDocument, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if sep := sniffSeparator(raw); sep != ',' {
		r.Comma = sep
	}

	var rows [][]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.SourceDocument{}, domain.WrapError(domain.ErrValidation, "load csv source", err)
		}
		rows = append(rows, record)
	}
	src, ok := tableSource(rows)
	if !ok {
		return domain.SourceDocument{}, domain.WrapError(domain.ErrValidation, "load csv source",
			errors.New("csv has no data rows"))
	}
	return src, nil
}

// tableSource drops blank rows, then splits header from data.
func tableSource(rows [][]string) (domain.SourceDocument, bool) {
	kept := make([][]string, 0, len(rows))
	for _, row := range rows {
		if !blankRow(row) {
			kept = append(kept, trimCells(row))
		}
	}
	if len(kept) < 2 {
		return domain.SourceDocument{}, false
	}
	return domain.SourceDocument{Header: kept[0], Rows: kept[1:], Pages: 1}, true
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

// sniffSeparator picks ';' or tab when the first line uses it more than commas.
func sniffSeparator(raw []byte) rune {
	first := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		first = raw[:i]
	}
	best, count := ',', bytes.Count(first, []byte(","))
	for _, sep := range []rune{';', '\t'} {
		if n := bytes.Count(first, []byte(string(sep))); n > count {
			best, count = sep, n
		}
	}
	return best
}
