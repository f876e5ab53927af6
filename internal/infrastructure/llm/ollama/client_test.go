package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
)

var noteSchema = domain.Schema{
	Domain:  "logistics",
	DocType: "delivery_note",
	Version: "1",
	Fields:  []domain.FieldSpec{{Name: "note_number", Type: domain.FieldString, Required: true}},
	LineItems: []domain.FieldSpec{
		{Name: "sku", Type: domain.FieldString},
		{Name: "quantity", Type: domain.FieldInteger},
	},
}

type usageFake struct {
	mu      sync.Mutex
	records []domain.ModelUsage
}

func (u *usageFake) Record(_ context.Context, usage domain.ModelUsage) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, usage)
}

func chatReply(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"model":             "llava",
		"message":           map[string]any{"role": "assistant", "content": content},
		"prompt_eval_count": 120,
		"eval_count":        40,
	})
	return string(raw)
}

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		BreakerEnabled:      false,
	})
}

func TestOCREngineSendsImagesAndParsesAnswer(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(chatReply("```json\n" + `{"fields":{"note_number":{"value":"DN-42","confidence":0.88}},"line_items":[{"values":{"sku":"A-1","quantity":3},"confidence":0.7}]}` + "\n```")))
	}))
	defer server.Close()

	usage := &usageFake{}
	client := New(server.URL, WithUsageRecorder(usage))
	engine := NewOCREngine(client, "llava")
	if engine.Route() != domain.RouteOCR {
		t.Fatalf("unexpected route %s", engine.Route())
	}

	result, err := engine.Extract(context.Background(), domain.ExtractionRequest{
		DocumentID:    "d-1",
		Schema:        noteSchema,
		Images:        [][]byte{[]byte("page-1")},
		BatchCount:    1,
		IncludeHeader: true,
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Fields["note_number"].Value != "DN-42" || len(result.LineItems) != 1 || result.LineItems[0].Values["quantity"] != "3" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.EngineUsed != "ollama:llava" {
		t.Fatalf("unexpected engine %q", result.EngineUsed)
	}

	messages, _ := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %v", captured["messages"])
	}
	user, _ := messages[1].(map[string]any)
	images, _ := user["images"].([]any)
	if len(images) != 1 || images[0] != base64.StdEncoding.EncodeToString([]byte("page-1")) {
		t.Fatalf("expected base64 page image, got %v", user["images"])
	}
	if _, ok := captured["format"].(map[string]any); !ok {
		t.Fatalf("expected json schema format, got %v", captured["format"])
	}

	if len(usage.records) != 1 || usage.records[0].PromptTokens != 120 || usage.records[0].DocumentID != "d-1" || usage.records[0].Role != "extract" {
		t.Fatalf("unexpected usage %+v", usage.records)
	}
}

func TestOCREngineRetriesMalformedAnswer(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			_, _ = w.Write([]byte(chatReply(`{"line_items":"nope"}`)))
			return
		}
		_, _ = w.Write([]byte(chatReply(`{"fields":{"note_number":{"value":"DN-42","confidence":0.9}}}`)))
	}))
	defer server.Close()

	engine := NewOCREngine(New(server.URL, WithExecutor(fastExecutor())), "llava")
	result, err := engine.Extract(context.Background(), domain.ExtractionRequest{Schema: noteSchema, Text: "DN-42"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if calls.Load() != 2 || result.Fields["note_number"].Value != "DN-42" {
		t.Fatalf("expected second attempt to succeed, calls=%d result=%+v", calls.Load(), result)
	}
}

func TestCheckerReturnsTemporaryAfterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	checker := NewChecker(New(server.URL, WithExecutor(fastExecutor())), "qwen")
	_, err := checker.Check(context.Background(), domain.VerificationRequest{Schema: noteSchema})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
}

func TestFailedAttemptsAreRecordedWithoutTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	usage := &usageFake{}
	checker := NewChecker(New(server.URL, WithExecutor(fastExecutor()), WithUsageRecorder(usage)), "qwen")
	if _, err := checker.Check(context.Background(), domain.VerificationRequest{DocumentID: "d-2", Schema: noteSchema}); err == nil {
		t.Fatalf("expected error")
	}

	if len(usage.records) != 2 {
		t.Fatalf("expected one usage record per attempt, got %d", len(usage.records))
	}
	for i, rec := range usage.records {
		if !rec.Failed || rec.PromptTokens != 0 || rec.CompletionTokens != 0 {
			t.Fatalf("record %d: unexpected usage %+v", i, rec)
		}
		if rec.Duration <= 0 || rec.DocumentID != "d-2" || rec.Model != "ollama:qwen" {
			t.Fatalf("record %d: expected duration, document and model, got %+v", i, rec)
		}
	}
}

func TestCheckerDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown model", http.StatusNotFound)
	}))
	defer server.Close()

	checker := NewChecker(New(server.URL, WithExecutor(fastExecutor())), "missing")
	_, err := checker.Check(context.Background(), domain.VerificationRequest{Schema: noteSchema})
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected a permanent error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestCheckerParsesIssues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatReply(`{"issues":[{"item_index":0,"field":"quantity","description":"quantity differs from source","severity":"error","suggestion":"30"}]}`)))
	}))
	defer server.Close()

	checker := NewChecker(New(server.URL), "qwen")
	issues, err := checker.Check(context.Background(), domain.VerificationRequest{
		Schema:    noteSchema,
		LineItems: []domain.LineItem{{Values: map[string]string{"sku": "A-1", "quantity": "3"}}},
	})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(issues) != 1 || issues[0].Severity != domain.SeverityError || issues[0].Suggestion != "30" {
		t.Fatalf("unexpected issues %+v", issues)
	}
}
