package api

import (
	"github.com/feetfirst/historyhub/internal/cache"
	"github.com/feetfirst/historyhub/internal/history"
	"github.com/feetfirst/historyhub/internal/models"
	"github.com/feetfirst/historyhub/internal/noteservice"
)

// AddNoteRequest is the request body for adding a note. Date accepts
// RFC 3339 or YYYY-MM-DD and defaults to now.
type AddNoteRequest struct {
	Note     string `json:"note" example:"Einlagen angepasst" validate:"required"`
	Category string `json:"category" example:"Notizen"`
	Date     string `json:"date" example:"2025-03-05T10:00:00Z"`
}

// RawHistoryRecord is a record as received from the upstream API.
type RawHistoryRecord = models.RawHistoryRecord

// DisplayNote is a note as shown on the timeline.
type DisplayNote = models.DisplayNote

// Timeline is the rendered timeline of a customer.
type Timeline = noteservice.Timeline

// State mirrors the progress flags of an aggregator.
type State = history.State

// RefreshResponse wraps the records of one fetched page.
type RefreshResponse struct {
	Records []RawHistoryRecord `json:"records" validate:"required"`
	Count   int                `json:"count" example:"12" validate:"required"`
}

// DatesResponse lists date keys in ascending order.
type DatesResponse struct {
	Tab   string   `json:"tab,omitempty" example:"Termin"`
	Dates []string `json:"dates" example:"2025-03-04,2025-03-05" validate:"required"`
}

// NotesResponse lists the notes of one date.
type NotesResponse struct {
	Date        string        `json:"date" example:"2025-03-05" validate:"required"`
	DisplayDate string        `json:"displayDate" example:"05.03.2025" validate:"required"`
	IsToday     bool          `json:"isToday"`
	Notes       []DisplayNote `json:"notes" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []cache.SearchResult `json:"results" validate:"required"`
}

// ExportListResponse wraps stored exports.
type ExportListResponse struct {
	Exports []models.ExportMetadata `json:"exports" validate:"required"`
}

// CategoriesResponse lists the UI tabs.
type CategoriesResponse struct {
	Categories []string `json:"categories" validate:"required"`
	ChartTab   string   `json:"chartTab" example:"Diagramm" validate:"required"`
	Default    string   `json:"default" example:"Notizen" validate:"required"`
}
