package resilience

import (
	"testing"
	"time"
)

func TestTuneOverridesOnlySetValues(t *testing.T) {
	cfg := QueueConfig().Tune(Tuning{MaxAttempts: 5, OpenTimeout: time.Minute})
	if cfg.RetryMaxAttempts != 5 || cfg.BreakerOpenTimeout != time.Minute {
		t.Fatalf("expected overrides applied, got %+v", cfg)
	}
	if cfg.RetryInitialBackoff != QueueConfig().RetryInitialBackoff || !cfg.BreakerEnabled {
		t.Fatalf("expected profile values kept, got %+v", cfg)
	}
	if ModelCallConfig().Tune(Tuning{DisableBreaker: true}).BreakerEnabled {
		t.Fatalf("expected breaker disabled")
	}
}

func TestNormalizeRepairsInvalidValues(t *testing.T) {
	cfg := Config{RetryInitialBackoff: time.Second, RetryMaxBackoff: time.Millisecond, BreakerFailureRatio: 3}.normalize()
	if cfg.RetryMaxAttempts != 2 {
		t.Fatalf("RetryMaxAttempts = %d, want 2", cfg.RetryMaxAttempts)
	}
	if cfg.RetryMaxBackoff != time.Second {
		t.Fatalf("RetryMaxBackoff = %s, want capped to initial backoff", cfg.RetryMaxBackoff)
	}
	if cfg.BreakerFailureRatio != 0.5 || cfg.BreakerHalfOpenMaxCalls != 2 {
		t.Fatalf("unexpected breaker defaults %+v", cfg)
	}
}
