package xlsx

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docextract/internal/core/domain"
)

func TestWriteReviewQueueProducesReadableWorkbook(t *testing.T) {
	reviewer := "rev-1"
	assigned := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tasks := []domain.ReviewTask{
		{ID: "t-1", DocumentID: "d-1", DocType: "invoice", Status: domain.ReviewAssigned, AssignedTo: &reviewer, AssignedAt: assigned, DueAt: assigned.Add(4 * time.Hour), Cycle: 1},
		{ID: "t-2", DocumentID: "d-2", DocType: "delivery_note", Status: domain.ReviewChangesRequested, AssignedAt: assigned, DueAt: assigned.Add(time.Hour), Cycle: 2, Notes: "fix totals"},
	}
	risk := map[string]domain.RiskLevel{"t-2": domain.RiskBreach}

	var buf bytes.Buffer
	if err := NewReviewExporter().WriteReviewQueue(&buf, tasks, risk); err != nil {
		t.Fatalf("WriteReviewQueue() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Task ID" || rows[1][4] != "rev-1" || rows[1][8] != string(domain.RiskOK) {
		t.Fatalf("unexpected first task row %v", rows[1])
	}
	if rows[2][8] != string(domain.RiskBreach) || rows[2][9] != "fix totals" || rows[2][7] != "2" {
		t.Fatalf("unexpected second task row %v", rows[2])
	}
}

func TestWriteReviewQueueEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewReviewExporter().WriteReviewQueue(&buf, nil, nil); err != nil {
		t.Fatalf("WriteReviewQueue() error = %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected workbook bytes")
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	if got := truncate("ääääää", 4); got != "äää…" {
		t.Fatalf("unexpected %q", got)
	}
}
