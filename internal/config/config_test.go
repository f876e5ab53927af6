package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"STORE_DRIVER", "EXTRACTION_BATCH_SIZE", "AUTO_APPROVE_THRESHOLD", "SLA_MONITOR_INTERVAL", "CHECKER_PROVIDER"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.StoreDriver != "postgres" {
		t.Fatalf("expected postgres store by default, got %q", cfg.StoreDriver)
	}
	if cfg.ExtractionBatchSize != 25 {
		t.Fatalf("expected batch size 25, got %d", cfg.ExtractionBatchSize)
	}
	if cfg.AutoApproveThreshold != 90 {
		t.Fatalf("expected auto-approve threshold 90, got %v", cfg.AutoApproveThreshold)
	}
	if cfg.SLAMonitorInterval != time.Minute {
		t.Fatalf("expected monitor interval 1m, got %s", cfg.SLAMonitorInterval)
	}
	if cfg.CheckerProvider != "openai" {
		t.Fatalf("expected openai checker, got %q", cfg.CheckerProvider)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("RECONCILE_THRESHOLD", "70")
	t.Setenv("MODEL_CALL_TIMEOUT", "90")
	t.Setenv("SLA_MONITOR_INTERVAL", "30s")
	t.Setenv("BREAKER_ENABLED", "false")

	cfg := Load()
	if cfg.StoreDriver != "memory" {
		t.Fatalf("expected memory driver, got %q", cfg.StoreDriver)
	}
	if cfg.ReconcileThreshold != 70 {
		t.Fatalf("expected reconcile threshold 70, got %v", cfg.ReconcileThreshold)
	}
	if cfg.ModelCallTimeout != 90*time.Second {
		t.Fatalf("expected bare seconds to parse, got %s", cfg.ModelCallTimeout)
	}
	if cfg.SLAMonitorInterval != 30*time.Second {
		t.Fatalf("expected 30s interval, got %s", cfg.SLAMonitorInterval)
	}
	if cfg.BreakerEnabled {
		t.Fatal("expected breaker disabled")
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("VERIFY_BATCH_SIZE", "many")
	t.Setenv("OCR_ROUTE_QUALITY_BELOW", "high")
	t.Setenv("QUALITY_TIMEOUT", "soon")

	cfg := Load()
	if cfg.VerifyBatchSize != 25 || cfg.OCRQualityThreshold != 0.55 || cfg.QualityTimeout != 800*time.Millisecond {
		t.Fatalf("expected fallbacks, got %d %v %s", cfg.VerifyBatchSize, cfg.OCRQualityThreshold, cfg.QualityTimeout)
	}
}
