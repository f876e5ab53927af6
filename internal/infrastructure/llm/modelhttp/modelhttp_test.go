package modelhttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/infrastructure/llm/structured"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name          string
		err           error
		retryable     bool
		recordFailure bool
	}{
		{"canceled", context.Canceled, false, false},
		{"throttled", &StatusError{StatusCode: http.StatusTooManyRequests}, true, true},
		{"bad gateway", fmt.Errorf("wrapped: %w", &StatusError{StatusCode: http.StatusBadGateway}), true, true},
		{"unauthorized", &StatusError{StatusCode: http.StatusUnauthorized}, false, false},
		{"malformed answer", &structured.OutputError{Err: errors.New("not json")}, true, false},
		{"unknown", errors.New("boom"), false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.recordFailure {
				t.Fatalf("Classify() = %+v, want retryable=%v record=%v", got, tc.retryable, tc.recordFailure)
			}
		})
	}
}

func TestWrapTemporary(t *testing.T) {
	if err := WrapTemporary("op", &StatusError{StatusCode: http.StatusServiceUnavailable}); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	plain := &StatusError{StatusCode: http.StatusBadRequest}
	if err := WrapTemporary("op", plain); domain.IsKind(err, domain.ErrTemporary) || !errors.Is(err, plain) {
		t.Fatalf("expected error unchanged, got %v", err)
	}
}

func TestPostJSONSendsHeadersAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ep := Endpoint{Provider: "openai", BaseURL: srv.URL, Header: http.Header{"Authorization": {"Bearer k"}}}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := ep.PostJSON(context.Background(), "/x", map[string]any{}, &out, "extract"); err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if !out.OK {
		t.Fatalf("expected decoded response")
	}
}

func TestPostJSONReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := Endpoint{Provider: "ollama", BaseURL: srv.URL}.PostJSON(context.Background(), "/api/chat", map[string]any{}, &struct{}{}, "ocr")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable || statusErr.Provider != "ollama" {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
}
