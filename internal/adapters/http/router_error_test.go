package httpadapter

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/docextract/internal/config"
	"github.com/kirillkom/docextract/internal/core/domain"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.WrapError(domain.ErrValidation, "op", errors.New("x")), http.StatusBadRequest},
		{"forbidden", domain.WrapError(domain.ErrForbidden, "op", errors.New("x")), http.StatusForbidden},
		{"not found", domain.WrapError(domain.ErrNotFound, "op", errors.New("x")), http.StatusNotFound},
		{"conflict", domain.WrapError(domain.ErrConflict, "op", errors.New("x")), http.StatusConflict},
		{"transition", domain.WrapError(domain.ErrInvalidTransition, "op", errors.New("x")), http.StatusConflict},
		{"temporary", domain.WrapError(domain.ErrTemporary, "op", errors.New("x")), http.StatusServiceUnavailable},
		{"partial", &domain.PartialRollbackError{Failed: []domain.RollbackFailure{{DocumentID: "d"}}}, http.StatusMultiStatus},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestGetDocumentByIDReturns404ForNotFound(t *testing.T) {
	svc := fakeServices()
	svc.Documents = docsFake{err: domain.WrapError(domain.ErrNotFound, "get", errors.New("id=missing"))}
	handler := NewRouter(config.Config{}, svc).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	svc := fakeServices()
	svc.Documents = docsFake{err: errors.New("pq: password authentication failed")}
	handler := NewRouter(config.Config{}, svc).Handler()

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil))

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "password") {
		t.Fatalf("internal error detail leaked: %s", res.Body.String())
	}
}

func TestTransitionReviewUsesHeaderActor(t *testing.T) {
	reviews := &reviewsFake{}
	svc := fakeServices()
	svc.Reviews = reviews
	handler := NewRouter(config.Config{}, svc).Handler()

	body := bytes.NewBufferString(`{"actor_id":"spoofed","status":"approved"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/reviews/t-1/transition", body)
	req.Header.Set(userIDHeader, "u1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if reviews.actor != "u1" || reviews.next != domain.ReviewApproved {
		t.Fatalf("unexpected transition call actor=%q next=%q", reviews.actor, reviews.next)
	}
}

func TestTransitionReviewForbiddenMapsTo403(t *testing.T) {
	svc := fakeServices()
	svc.Reviews = &reviewsFake{err: domain.WrapError(domain.ErrForbidden, "transition review", errors.New("not owner"))}
	handler := NewRouter(config.Config{}, svc).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/reviews/t-1/transition", bytes.NewBufferString(`{"actor_id":"u2","status":"approved"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
}

func TestStopSessionPartialRollbackReturns207(t *testing.T) {
	svc := fakeServices()
	svc.Sessions = &sessionsFake{stop: &domain.RollbackResult{
		RolledBack: []string{"d1"},
		Failed:     []domain.RollbackFailure{{DocumentID: "d2", Reason: "conflict"}},
	}}
	handler := NewRouter(config.Config{}, svc).Handler()

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/sessions/s-1/stop", nil))

	if res.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"d2"`) {
		t.Fatalf("expected failed document in body: %s", res.Body.String())
	}
}

func TestProcessDocumentRejectsUnknownRoute(t *testing.T) {
	handler := newTestHandler(config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/documents/doc-1/process", bytes.NewBufferString(`{"route":"telepathy"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}
