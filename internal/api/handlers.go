package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/feetfirst/historyhub/internal/apperr"
	"github.com/feetfirst/historyhub/internal/checksum"
	"github.com/feetfirst/historyhub/internal/history"
	"github.com/feetfirst/historyhub/internal/noteservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

func customerID(r *http.Request) string {
	return chi.URLParam(r, "customerID")
}

// dateParam returns the {date} URL parameter once it is a valid YYYY-MM-DD key.
func dateParam(r *http.Request) (string, error) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return "", fmt.Errorf("%w: date must be YYYY-MM-DD", apperr.ErrInvalidInput)
	}
	return date, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", apperr.ErrInvalidInput, key)
	}
	return n, nil
}

// AddNote handles POST /api/customers/{customerID}/notes.
//
//	@Summary		Add a note to a customer's history
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			customerID	path		string			true	"Customer ID"
//	@Param			body		body		AddNoteRequest	true	"Note to add"
//	@Success		201			{object}	RawHistoryRecord
//	@Failure		400			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/customers/{customerID}/notes [post]
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	var req AddNoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	date, err := h.parseDate(req.Date)
	if err != nil {
		writeError(w, "add note", err)
		return
	}

	rec, err := h.svc.AddNote(r.Context(), customerID(r), noteservice.AddNoteInput{
		Text:     strings.TrimSpace(req.Note),
		Category: req.Category,
		Date:     date,
	})
	if err != nil {
		writeError(w, "add note", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, raw, h.svc.Location()); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: date must be RFC 3339 or YYYY-MM-DD", apperr.ErrInvalidInput)
}

// Refresh handles POST /api/customers/{customerID}/refresh.
//
//	@Summary		Fetch one page of history from upstream
//	@Tags			notes
//	@Produce		json
//	@Param			customerID	path		string	true	"Customer ID"
//	@Param			page		query		int		false	"Page (default 1)"
//	@Param			limit		query		int		false	"Page size"
//	@Param			category	query		string	false	"UI category"
//	@Success		200			{object}	RefreshResponse
//	@Failure		409			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/customers/{customerID}/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, "refresh", err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, "refresh", err)
		return
	}

	records, err := h.svc.Refresh(r.Context(), customerID(r), page, limit, r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Records: records, Count: len(records)})
}

// Dates handles GET /api/customers/{customerID}/dates.
//
//	@Summary		List date keys, optionally filtered by tab
//	@Tags			timeline
//	@Produce		json
//	@Param			customerID	path		string	true	"Customer ID"
//	@Param			tab			query		string	false	"Active tab"
//	@Success		200			{object}	DatesResponse
//	@Security		BearerAuth
//	@Router			/customers/{customerID}/dates [get]
func (h *Handler) Dates(w http.ResponseWriter, r *http.Request) {
	tab := r.URL.Query().Get("tab")
	dates, err := h.svc.Dates(customerID(r), tab)
	if err != nil {
		writeError(w, "list dates", err)
		return
	}
	writeJSON(w, http.StatusOK, DatesResponse{Tab: tab, Dates: dates})
}

// Notes handles GET /api/customers/{customerID}/dates/{date}/notes.
//
//	@Summary		List the notes of one date
//	@Tags			timeline
//	@Produce		json
//	@Param			customerID	path		string	true	"Customer ID"
//	@Param			date		path		string	true	"Date key (YYYY-MM-DD)"
//	@Param			category	query		string	false	"UI category"
//	@Success		200			{object}	NotesResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/customers/{customerID}/dates/{date}/notes [get]
func (h *Handler) Notes(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r)
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	notes, err := h.svc.Notes(customerID(r), date, r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NotesResponse{
		Date:        date,
		DisplayDate: history.FormatDisplayDate(date),
		IsToday:     h.svc.IsToday(date),
		Notes:       notes,
	})
}

// Timeline handles GET /api/customers/{customerID}/timeline.
//
//	@Summary		Get the rendered timeline for a tab
//	@Tags			timeline
//	@Produce		json
//	@Param			customerID		path		string	true	"Customer ID"
//	@Param			tab				query		string	false	"Active tab (default Diagramm)"
//	@Param			If-None-Match	header		string	false	"ETag of a cached timeline"
//	@Success		200				{object}	Timeline
//	@Success		304				"Not modified"
//	@Security		BearerAuth
//	@Router			/customers/{customerID}/timeline [get]
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	tl, err := h.svc.Timeline(customerID(r), r.URL.Query().Get("tab"))
	if err != nil {
		writeError(w, "timeline", err)
		return
	}
	data, err := sonic.Marshal(tl)
	if err != nil {
		writeError(w, "timeline", err)
		return
	}

	etag := checksum.ETag(data)
	w.Header().Set("ETag", etag)
	if checksum.MatchesETag(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// DeleteNote handles DELETE /api/customers/{customerID}/dates/{date}/notes/{noteID}.
// A numeric noteID addresses the display id, anything else the record id.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			customerID	path	string	true	"Customer ID"
//	@Param			date		path	string	true	"Date key (YYYY-MM-DD)"
//	@Param			noteID		path	string	true	"Numeric note id or record id"
//	@Success		204			"Note deleted"
//	@Failure		404			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/customers/{customerID}/dates/{date}/notes/{noteID} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r)
	if err != nil {
		writeError(w, "delete note", err)
		return
	}
	noteID := chi.URLParam(r, "noteID")

	var id int64
	var recordID string
	if n, err := strconv.ParseInt(noteID, 10, 64); err == nil {
		id = n
	} else {
		recordID = noteID
	}

	if err := h.svc.DeleteNote(r.Context(), customerID(r), date, id, recordID); err != nil {
		writeError(w, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// State handles GET /api/customers/{customerID}/state.
//
//	@Summary		Get loading flags and the last error
//	@Tags			notes
//	@Produce		json
//	@Param			customerID	path		string	true	"Customer ID"
//	@Success		200			{object}	State
//	@Security		BearerAuth
//	@Router			/customers/{customerID}/state [get]
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.State(customerID(r))
	if err != nil {
		writeError(w, "state", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Search handles GET /api/customers/{customerID}/search.
//
//	@Summary		Search the cached note text of a customer
//	@Tags			search
//	@Produce		json
//	@Param			customerID	path		string	true	"Customer ID"
//	@Param			q			query		string	true	"Search query"
//	@Param			limit		query		int		false	"Max results"
//	@Success		200			{object}	SearchResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/customers/{customerID}/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, "search", err)
		return
	}
	results, err := h.svc.Search(r.Context(), customerID(r), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Categories handles GET /api/categories.
func (h *Handler) Categories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, CategoriesResponse{
		Categories: history.UICategories,
		ChartTab:   history.TabChart,
		Default:    history.DefaultCategory,
	})
}
