package chunking

import (
	"strings"
	"unicode"
)

// Splitter separates the table-like lines of a text from its prose so that
// long tables can be sent to an engine in batches while every batch keeps
// the surrounding context.
type Splitter struct {
	MinCells int
}

func NewSplitter(minCells int) *Splitter {
	if minCells < 2 {
		minCells = 3
	}
	return &Splitter{MinCells: minCells}
}

// Split returns the non-table lines joined as a preamble and the table lines
// in source order. Short texts without a table yield no table lines.
func (s *Splitter) Split(text string) (preamble string, tableLines []string) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	prose := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if s.isTableLine(line) {
			tableLines = append(tableLines, trimmed)
			continue
		}
		prose = append(prose, trimmed)
	}
	return strings.Join(prose, "\n"), tableLines
}

// isTableLine accepts pipe or tab separated rows and whitespace-aligned rows
// that carry at least one number.
func (s *Splitter) isTableLine(line string) bool {
	if strings.Count(line, "|") >= s.MinCells-1 || strings.Count(line, "\t") >= s.MinCells-1 {
		return true
	}
	cells := splitAligned(line)
	if len(cells) < s.MinCells {
		return false
	}
	for _, c := range cells {
		if hasDigit(c) {
			return true
		}
	}
	return false
}

// splitAligned splits on runs of two or more spaces.
func splitAligned(line string) []string {
	out := make([]string, 0, 8)
	var cell strings.Builder
	spaces := 0
	flush := func() {
		if v := strings.TrimSpace(cell.String()); v != "" {
			out = append(out, v)
		}
		cell.Reset()
	}
	for _, r := range strings.TrimSpace(line) {
		if r == ' ' {
			spaces++
			continue
		}
		if spaces >= 2 {
			flush()
		} else if spaces == 1 {
			cell.WriteRune(' ')
		}
		spaces = 0
		cell.WriteRune(r)
	}
	flush()
	return out
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
