package httpadapter

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (rt *Router) startSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string   `json:"user_id"`
		DocumentIDs []string `json:"document_ids"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := rt.svc.Sessions.Start(r.Context(), ownerFrom(r, req.UserID), req.DocumentIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.runSessions != nil {
		go rt.runInline(rt.runSessions, session.ID)
	}
	writeJSON(w, http.StatusAccepted, session)
}

func (rt *Router) runInline(ctx context.Context, sessionID string) {
	if err := rt.svc.Sessions.Run(ctx, sessionID); err != nil && ctx.Err() == nil {
		slog.Error("session_run_failed", "session_id", sessionID, "error", err)
	}
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := rt.svc.Sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (rt *Router) stopSession(w http.ResponseWriter, r *http.Request) {
	result, err := rt.svc.Sessions.Stop(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRollback(w, result)
}
