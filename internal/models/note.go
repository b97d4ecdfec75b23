// Package models defines the domain types for the customer history service.
package models

import "time"

// RawHistoryRecord is one customer history event as delivered by the
// FeetFirst REST API. Field names follow the API payload, including the
// misspelled "methord".
type RawHistoryRecord struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customerId"`
	Category   string     `json:"category"`
	Date       *time.Time `json:"date"`
	CreatedAt  time.Time  `json:"createdAt"`
	Note       *string    `json:"note"`
	URL        *string    `json:"url"`
	Methord    *string    `json:"methord"`
	PaymentIs  *string    `json:"paymentIs"`
	EventID    *string    `json:"eventId"`
}

// HasContent reports whether the record carries anything renderable.
func (r RawHistoryRecord) HasContent() bool {
	return nonEmpty(r.Note) || nonEmpty(r.URL) || nonEmpty(r.EventID)
}

// DisplayNote is the UI-facing shape of a history record.
type DisplayNote struct {
	ID        int64     `json:"id"`
	RecordID  string    `json:"recordId"`
	Text      string    `json:"text"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	HasLink   bool      `json:"hasLink"`
	URL       string    `json:"url,omitempty"`
}

// ExportMetadata describes a timeline snapshot written to disk.
type ExportMetadata struct {
	CustomerID string    `json:"customerId"`
	Path       string    `json:"path"`
	Checksum   string    `json:"checksum"`
	Dates      int       `json:"dates"`
	Notes      int       `json:"notes"`
	ExportedAt time.Time `json:"exportedAt"`
}

// StrPtr returns a pointer to s. Used when building records by hand.
func StrPtr(s string) *string {
	return &s
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}
