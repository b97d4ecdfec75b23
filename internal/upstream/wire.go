package upstream

import (
	"log/slog"
	"strings"
	"time"

	"github.com/feetfirst/historyhub/internal/models"
)

// Layouts accepted for "date" and "createdAt". Layouts without a zone are
// read in the client's location.
var (
	zonedLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999Z0700"}
	localLayouts = []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999", time.DateOnly}
)

// wireRecord is RawHistoryRecord as it arrives on the wire. Timestamps
// stay strings so that one odd value does not fail the whole page.
type wireRecord struct {
	ID         string  `json:"id"`
	CustomerID string  `json:"customerId"`
	Category   string  `json:"category"`
	Date       *string `json:"date"`
	CreatedAt  *string `json:"createdAt"`
	Note       *string `json:"note"`
	URL        *string `json:"url"`
	Methord    *string `json:"methord"`
	PaymentIs  *string `json:"paymentIs"`
	EventID    *string `json:"eventId"`
}

type listResponse struct {
	Data []wireRecord `json:"data"`
}

// parseTimestamp reads s leniently. Empty and null values are absent.
func parseTimestamp(s *string, loc *time.Location) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// toRecord converts w. A record whose date cannot be read falls back to
// createdAt; one with neither timestamp is dropped.
func (c *Client) toRecord(w wireRecord) (models.RawHistoryRecord, bool) {
	rec := models.RawHistoryRecord{
		ID:         w.ID,
		CustomerID: w.CustomerID,
		Category:   w.Category,
		Note:       w.Note,
		URL:        w.URL,
		Methord:    w.Methord,
		PaymentIs:  w.PaymentIs,
		EventID:    w.EventID,
	}

	date, hasDate := parseTimestamp(w.Date, c.loc)
	if hasDate {
		rec.Date = &date
	} else if w.Date != nil && strings.TrimSpace(*w.Date) != "" {
		c.logger.Warn("unreadable record date, using createdAt",
			slog.String("record_id", w.ID), slog.String("date", *w.Date))
	}

	created, ok := parseTimestamp(w.CreatedAt, c.loc)
	switch {
	case ok:
		rec.CreatedAt = created
	case hasDate:
		rec.CreatedAt = date
	default:
		c.logger.Warn("dropping record without timestamp", slog.String("record_id", w.ID))
		return rec, false
	}
	return rec, true
}

func (c *Client) toRecords(ws []wireRecord) []models.RawHistoryRecord {
	out := make([]models.RawHistoryRecord, 0, len(ws))
	for _, w := range ws {
		if rec, ok := c.toRecord(w); ok {
			out = append(out, rec)
		}
	}
	return out
}
