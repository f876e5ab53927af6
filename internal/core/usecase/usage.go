package usecase

import (
	"context"
	"sync"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

// UsageLedger forwards model usage to the next recorder and keeps records per
// document until the orchestrator drains them into the run artifacts.
type UsageLedger struct {
	next ports.UsageRecorder

	mu    sync.Mutex
	byDoc map[string][]domain.ModelUsage
}

func NewUsageLedger(next ports.UsageRecorder) *UsageLedger {
	return &UsageLedger{next: next, byDoc: map[string][]domain.ModelUsage{}}
}

func (l *UsageLedger) Record(ctx context.Context, usage domain.ModelUsage) {
	if l.next != nil {
		l.next.Record(ctx, usage)
	}
	if usage.DocumentID == "" {
		return
	}
	l.mu.Lock()
	l.byDoc[usage.DocumentID] = append(l.byDoc[usage.DocumentID], usage)
	l.mu.Unlock()
}

func (l *UsageLedger) Drain(documentID string) []domain.ModelUsage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.byDoc[documentID]
	delete(l.byDoc, documentID)
	return out
}
