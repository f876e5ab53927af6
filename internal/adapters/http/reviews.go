package httpadapter

import (
	"bytes"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (rt *Router) listOpenReviews(w http.ResponseWriter, r *http.Request) {
	user := ownerFrom(r, r.URL.Query().Get("user_id"))
	tasks, err := rt.svc.Reviews.ListOpen(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// exportReviews buffers the workbook so a failure can still produce a JSON error.
func (rt *Router) exportReviews(w http.ResponseWriter, r *http.Request) {
	user := ownerFrom(r, r.URL.Query().Get("user_id"))
	var buf bytes.Buffer
	if err := rt.svc.Reviews.ExportOpenXLSX(r.Context(), user, &buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="review-queue.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (rt *Router) getReview(w http.ResponseWriter, r *http.Request) {
	task, err := rt.svc.Reviews.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (rt *Router) reviewHistory(w http.ResponseWriter, r *http.Request) {
	history, err := rt.svc.Reviews.History(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": history})
}

func (rt *Router) transitionReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID string               `json:"actor_id"`
		Status  domain.ReviewStatus  `json:"status"`
		Payload domain.ReviewPayload `json:"payload"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := rt.svc.Reviews.Transition(r.Context(), ownerFrom(r, req.ActorID), chi.URLParam(r, "taskID"), req.Status, req.Payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
