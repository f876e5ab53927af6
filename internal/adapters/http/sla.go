package httpadapter

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/docextract/internal/core/domain"
)

func (rt *Router) evaluateSLA(w http.ResponseWriter, r *http.Request) {
	evals, err := rt.svc.SLA.Evaluate(r.Context(), ownerFrom(r, r.URL.Query().Get("user_id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluations": evals})
}

func (rt *Router) listSLARules(w http.ResponseWriter, r *http.Request) {
	rules, err := rt.svc.SLA.ListRules(r.Context(), ownerFrom(r, r.URL.Query().Get("user_id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (rt *Router) upsertSLARule(w http.ResponseWriter, r *http.Request) {
	var rule domain.SlaRule
	if !decodeJSON(w, r, &rule) {
		return
	}
	rule.UserID = ownerFrom(r, rule.UserID)
	if err := rt.svc.SLA.UpsertRule(r.Context(), rule); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (rt *Router) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := rt.svc.Settings.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (rt *Router) updateSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.OwnerSettings
	if !decodeJSON(w, r, &settings) {
		return
	}
	settings.UserID = chi.URLParam(r, "userID")
	updated, err := rt.svc.Settings.Update(r.Context(), settings)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
