package xlsx

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const sheet = "Review queue"

var headers = []string{
	"Task ID",
	"Document ID",
	"Doc Type",
	"Status",
	"Assigned To",
	"Assigned At",
	"Due At",
	"Cycle",
	"SLA Risk",
	"Notes",
}

// ReviewExporter renders open review tasks as a single-sheet workbook.
type ReviewExporter struct{}

func NewReviewExporter() *ReviewExporter {
	return &ReviewExporter{}
}

func (e *ReviewExporter) WriteReviewQueue(w io.Writer, tasks []domain.ReviewTask, risk map[string]domain.RiskLevel) error {
	start := time.Now()

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(sheet, 1, 1, style)
	}

	for i, task := range tasks {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		assignee := ""
		if task.AssignedTo != nil {
			assignee = *task.AssignedTo
		}
		level, ok := risk[task.ID]
		if !ok {
			level = domain.RiskOK
		}

		write(1, task.ID)
		write(2, task.DocumentID)
		write(3, task.DocType)
		write(4, string(task.Status))
		write(5, assignee)
		write(6, task.AssignedAt.UTC().Format(time.RFC3339))
		write(7, task.DueAt.UTC().Format(time.RFC3339))
		write(8, task.Cycle)
		write(9, string(level))
		write(10, truncate(task.Notes, 140))
	}

	_ = f.SetColWidth(sheet, "A", "B", 38)
	_ = f.SetColWidth(sheet, "C", "E", 18)
	_ = f.SetColWidth(sheet, "F", "G", 22)
	_ = f.SetColWidth(sheet, "J", "J", 48)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	slog.Info("export_xlsx_ok", "rows", len(tasks), "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
