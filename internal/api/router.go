package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/feetfirst/historyhub/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	eh := NewExportHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/customers/{customerID}", func(r chi.Router) {
		r.Post("/notes", h.AddNote)
		r.Post("/refresh", h.Refresh)
		r.Get("/dates", h.Dates)
		r.Get("/dates/{date}/notes", h.Notes)
		r.Delete("/dates/{date}/notes/{noteID}", h.DeleteNote)
		r.Get("/timeline", h.Timeline)
		r.Get("/state", h.State)
		r.Get("/search", h.Search)

		r.Post("/export", eh.Create)
		r.Get("/export", eh.Download)
		r.Delete("/export", eh.Delete)
	})

	r.Get("/exports", eh.List)
	r.Get("/categories", h.Categories)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
