package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/infrastructure/repository/memory"
)

func TestSettingsDefaultsAndClamp(t *testing.T) {
	uc := NewSettingsUseCase(memory.NewDB().Settings(), 0)
	ctx := context.Background()

	got, err := uc.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.AutoApproveThreshold != domain.DefaultAutoApproveThreshold {
		t.Fatalf("expected default threshold, got %v", got.AutoApproveThreshold)
	}

	for in, want := range map[float64]float64{120: 99, 10: 60, 75: 75} {
		saved, err := uc.Update(ctx, domain.OwnerSettings{UserID: "user-1", AutoApproveThreshold: in})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if saved.AutoApproveThreshold != want {
			t.Fatalf("Update(%v) stored %v, want %v", in, saved.AutoApproveThreshold, want)
		}
		if th := uc.threshold(ctx, "user-1"); th != want {
			t.Fatalf("threshold() = %v, want %v", th, want)
		}
	}

	if _, err := uc.Get(ctx, " "); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSettingsThresholdIsNilSafe(t *testing.T) {
	var uc *SettingsUseCase
	if th := uc.threshold(context.Background(), "user-1"); th != domain.DefaultAutoApproveThreshold {
		t.Fatalf("expected default threshold, got %v", th)
	}
}

type usageSinkFake struct {
	records []domain.ModelUsage
}

func (s *usageSinkFake) Record(_ context.Context, usage domain.ModelUsage) {
	s.records = append(s.records, usage)
}

func TestUsageLedgerForwardsAndDrains(t *testing.T) {
	sink := &usageSinkFake{}
	ledger := NewUsageLedger(sink)
	ctx := context.Background()

	ledger.Record(ctx, domain.ModelUsage{Role: "extract", DocumentID: "doc-1"})
	ledger.Record(ctx, domain.ModelUsage{Role: "verify", DocumentID: "doc-1"})
	ledger.Record(ctx, domain.ModelUsage{Role: "extract"})

	if len(sink.records) != 3 {
		t.Fatalf("expected every record forwarded, got %d", len(sink.records))
	}
	if got := ledger.Drain("doc-1"); len(got) != 2 || got[1].Role != "verify" {
		t.Fatalf("unexpected drained usage %+v", got)
	}
	if got := ledger.Drain("doc-1"); len(got) != 0 {
		t.Fatalf("second drain must be empty, got %+v", got)
	}
}
