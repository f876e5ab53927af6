package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/docextract/internal/config"
	"github.com/kirillkom/docextract/internal/core/ports"
)

// Services are the inbound ports the API exposes.
type Services struct {
	Ingest    ports.DocumentIngestor
	Documents ports.DocumentReader
	Processor ports.DocumentProcessor
	Sessions  ports.SessionManager
	Reviews   ports.ReviewWorkflow
	SLA       ports.SLAEvaluator
	Settings  ports.SettingsManager
}

const userIDHeader = "X-User-Id"

type Router struct {
	cfg config.Config
	svc Services

	// runSessions is set when no worker consumes session events, so the API
	// runs started sessions itself under this context.
	runSessions context.Context
	onUpload    func(sizeBytes int64)
}

type Option func(*Router)

func WithInlineSessionRuns(ctx context.Context) Option {
	return func(rt *Router) { rt.runSessions = ctx }
}

func WithUploadObserver(fn func(sizeBytes int64)) Option {
	return func(rt *Router) { rt.onUpload = fn }
}

func NewRouter(cfg config.Config, svc Services, opts ...Option) *Router {
	rt := &Router{cfg: cfg, svc: svc}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", rt.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", rt.uploadDocument)
			r.Get("/", rt.listDocuments)
			r.Post("/cancel", rt.cancelDocuments)
			r.Get("/{documentID}", rt.getDocument)
			r.Post("/{documentID}/process", rt.processDocument)
		})
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", rt.startSession)
			r.Get("/{sessionID}", rt.getSession)
			r.Post("/{sessionID}/stop", rt.stopSession)
		})
		r.Route("/reviews", func(r chi.Router) {
			r.Get("/", rt.listOpenReviews)
			r.Get("/export", rt.exportReviews)
			r.Get("/{taskID}", rt.getReview)
			r.Get("/{taskID}/history", rt.reviewHistory)
			r.Post("/{taskID}/transition", rt.transitionReview)
		})
		r.Route("/sla", func(r chi.Router) {
			r.Get("/", rt.evaluateSLA)
			r.Get("/rules", rt.listSLARules)
			r.Put("/rules", rt.upsertSLARule)
		})
		r.Get("/settings/{userID}", rt.getSettings)
		r.Put("/settings/{userID}", rt.updateSettings)
	})

	handler := backpressureMiddleware(r, rt.cfg.APIMaxInFlight, rt.cfg.APIInFlightWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}
