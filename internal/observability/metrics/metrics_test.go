package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kirillkom/docextract/internal/core/domain"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/v1/documents/abc":          "/v1/documents/{document_id}",
		"/v1/sessions/s-1/stop":      "/v1/sessions/{session_id}/stop",
		"/v1/reviews/t-9/transition": "/v1/reviews/{task_id}/transition",
		"/healthz":                   "/healthz",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTTPMiddlewareCountsRequests(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/sessions/s-1/stop", nil))

	got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", http.MethodPost, "/v1/sessions/{session_id}/stop", "409"))
	if got != 1 {
		t.Fatalf("expected one counted request, got %v", got)
	}
}

func TestWorkerMetricsRecordsUsageAndRisk(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.Record(context.Background(), domain.ModelUsage{Role: "extract", Model: "openai:gpt-4o", PromptTokens: 100, CompletionTokens: 20, CostUSD: 0.5, Duration: time.Second})
	m.SetOpenRisk(map[domain.RiskLevel]int{domain.RiskBreach: 2})
	m.ObserveRollback(3, 1)
	m.ObserveOutcome(domain.StatusApproved, 97)
	m.ObserveRetry("openai.extract", 1, nil)

	if got := testutil.ToFloat64(m.modelTokens.WithLabelValues("extract", "openai:gpt-4o", "in")); got != 100 {
		t.Fatalf("unexpected prompt tokens %v", got)
	}
	if got := testutil.ToFloat64(m.slaOpenRisk.WithLabelValues(string(domain.RiskBreach))); got != 2 {
		t.Fatalf("unexpected breach gauge %v", got)
	}
	if got := testutil.ToFloat64(m.slaOpenRisk.WithLabelValues(string(domain.RiskWarning))); got != 0 {
		t.Fatalf("expected warning gauge reset, got %v", got)
	}
	if got := testutil.ToFloat64(m.rollbackTotal.WithLabelValues("rolled_back")); got != 3 {
		t.Fatalf("unexpected rollback count %v", got)
	}

	m.Record(context.Background(), domain.ModelUsage{Role: "check", Model: "ollama:qwen", Duration: 2 * time.Second, Failed: true})
	if got := testutil.ToFloat64(m.modelFailures.WithLabelValues("check", "ollama:qwen")); got != 1 {
		t.Fatalf("unexpected failure count %v", got)
	}
	if got := testutil.ToFloat64(m.modelFailures.WithLabelValues("extract", "openai:gpt-4o")); got != 0 {
		t.Fatalf("successful usage must not count as failure, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "docextract_resilience_retry_total") {
		t.Fatal("expected retry counter in exposition")
	}
}
