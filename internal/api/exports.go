package api

import (
	"net/http"
	"strconv"

	"github.com/feetfirst/historyhub/internal/checksum"
	"github.com/feetfirst/historyhub/internal/noteservice"
)

// ExportHandler creates, serves and removes Markdown timeline exports.
type ExportHandler struct {
	svc *noteservice.Service
}

// NewExportHandler creates a handler backed by the note service.
func NewExportHandler(svc *noteservice.Service) *ExportHandler {
	return &ExportHandler{svc: svc}
}

// Create handles POST /api/customers/{customerID}/export.
//
//	@Summary		Export a customer's timeline to Markdown
//	@Tags			exports
//	@Produce		json
//	@Param			customerID	path		string	true	"Customer ID"
//	@Success		201			{object}	models.ExportMetadata
//	@Security		BearerAuth
//	@Router			/customers/{customerID}/export [post]
func (h *ExportHandler) Create(w http.ResponseWriter, r *http.Request) {
	meta, err := h.svc.Export(r.Context(), customerID(r))
	if err != nil {
		writeError(w, "export", err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

// Download handles GET /api/customers/{customerID}/export.
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.ExportDocument(r.Context(), customerID(r))
	if err != nil {
		writeError(w, "download export", err)
		return
	}
	etag := checksum.ETag(data)
	w.Header().Set("ETag", etag)
	if checksum.MatchesETag(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", `attachment; filename="timeline-`+customerID(r)+`.md"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Delete handles DELETE /api/customers/{customerID}/export.
func (h *ExportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteExport(r.Context(), customerID(r)); err != nil {
		writeError(w, "delete export", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /api/exports.
//
//	@Summary		List stored timeline exports
//	@Tags			exports
//	@Produce		json
//	@Success		200	{object}	ExportListResponse
//	@Security		BearerAuth
//	@Router			/exports [get]
func (h *ExportHandler) List(w http.ResponseWriter, r *http.Request) {
	exports, err := h.svc.Exports(r.Context())
	if err != nil {
		writeError(w, "list exports", err)
		return
	}
	writeJSON(w, http.StatusOK, ExportListResponse{Exports: exports})
}
