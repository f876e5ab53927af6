package chunking

import (
	"strings"
	"testing"
)

func TestSplitSeparatesPreambleAndTable(t *testing.T) {
	text := strings.Join([]string{
		"ACME GmbH",
		"Delivery note DN-42 2024-03-01",
		"",
		"Item         Qty   Price",
		"Bolts M8     100   0.10",
		"Nuts M8      100   0.05",
		"Washer | 50 | 0.02",
		"Thank you for your order",
	}, "\n")

	preamble, lines := NewSplitter(3).Split(text)
	if len(lines) != 3 {
		t.Fatalf("expected 3 table lines, got %d: %q", len(lines), lines)
	}
	if lines[0] != "Bolts M8     100   0.10" || lines[2] != "Washer | 50 | 0.02" {
		t.Fatalf("unexpected table lines %q", lines)
	}
	for _, want := range []string{"ACME GmbH", "Item         Qty   Price", "Thank you for your order"} {
		if !strings.Contains(preamble, want) {
			t.Fatalf("preamble misses %q: %q", want, preamble)
		}
	}
}

func TestSplitProseOnly(t *testing.T) {
	preamble, lines := NewSplitter(0).Split("Invoice INV-7 issued 2024-03-01\r\nTotal 120.50 EUR\r\n")
	if len(lines) != 0 {
		t.Fatalf("expected no table lines, got %q", lines)
	}
	if preamble != "Invoice INV-7 issued 2024-03-01\nTotal 120.50 EUR" {
		t.Fatalf("unexpected preamble %q", preamble)
	}
}

func TestSplitAlignedKeepsSingleSpaces(t *testing.T) {
	cells := splitAligned("  Bolts M8     100   0.10 ")
	if len(cells) != 3 || cells[0] != "Bolts M8" || cells[2] != "0.10" {
		t.Fatalf("unexpected cells %q", cells)
	}
}
