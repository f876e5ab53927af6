package httpadapter

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const multipartMemory = 8 << 20

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(rt.cfg.MaxUploadBytes)+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form is required"})
		return
	}
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.svc.Ingest.Upload(r.Context(), domain.UploadRequest{
		OwnerID:  ownerFrom(r, r.FormValue("owner_id")),
		Filename: fileHeader.Filename,
		MimeType: fileHeader.Header.Get("Content-Type"),
		DocType:  r.FormValue("doc_type"),
		Domain:   r.FormValue("domain"),
		Defer:    r.FormValue("process") == "deferred",
	}, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.onUpload != nil {
		rt.onUpload(fileHeader.Size)
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r, r.URL.Query().Get("owner_id"))
	if owner == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id is required"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	docs, err := rt.svc.Documents.ListByOwner(r.Context(), owner, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.svc.Documents.GetByID(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// processDocument runs the pipeline synchronously, optionally forcing a route.
func (rt *Router) processDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Route string `json:"route"`
	}
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	opts := domain.ProcessOptions{Route: domain.Route(strings.TrimSpace(req.Route))}
	if opts.Route != "" && !opts.Route.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown route " + req.Route})
		return
	}
	doc, err := rt.svc.Processor.ProcessByID(r.Context(), chi.URLParam(r, "documentID"), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) cancelDocuments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentIDs []string `json:"document_ids"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := rt.svc.Sessions.CancelDocuments(r.Context(), req.DocumentIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRollback(w, result)
}

func writeRollback(w http.ResponseWriter, result *domain.RollbackResult) {
	status := http.StatusOK
	if result.Partial() {
		status = mapErrorToHTTPStatus(result.Err())
	}
	writeJSON(w, status, result)
}

// ownerFrom prefers the caller identity header over a body or query value.
func ownerFrom(r *http.Request, fallback string) string {
	if v := strings.TrimSpace(r.Header.Get(userIDHeader)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}
