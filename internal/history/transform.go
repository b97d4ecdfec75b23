package history

import (
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/feetfirst/historyhub/internal/models"
)

const (
	dateKeyLayout     = "2006-01-02"
	displayDateLayout = "02.01.2006"

	// numericIDDigits is how many hex digits of the record id form the numeric id.
	numericIDDigits = 8

	emailViewerPath = "/dashboard/email/sent/"
)

var inboxMarkers = []string{
	"/message/system-inbox/",
	"/messages/system-inbox/",
	"/messages/inbox/",
}

// Buckets maps a YYYY-MM-DD date key to the notes of that day in API order.
// A key may map to an empty slice when only content-less records fell on it.
type Buckets map[string][]models.DisplayNote

// BuildBuckets groups records by local calendar day in loc. It is a pure
// function of its input: the result never depends on previous calls.
func BuildBuckets(records []models.RawHistoryRecord, loc *time.Location) Buckets {
	if loc == nil {
		loc = time.Local
	}
	out := make(Buckets)
	for _, rec := range records {
		key := DateKey(rec, loc)
		if _, ok := out[key]; !ok {
			out[key] = []models.DisplayNote{}
		}
		if !rec.HasContent() {
			continue
		}
		out[key] = append(out[key], ToDisplayNote(rec))
	}
	return out
}

// DateKey returns the calendar day of the record's event date, falling back
// to its creation time.
func DateKey(rec models.RawHistoryRecord, loc *time.Location) string {
	t := rec.CreatedAt
	if rec.Date != nil && !rec.Date.IsZero() {
		t = *rec.Date
	}
	return t.In(loc).Format(dateKeyLayout)
}

// ToDisplayNote derives the UI shape of a record.
// Text precedence is note, then url ("Link"), then eventId.
func ToDisplayNote(rec models.RawHistoryRecord) models.DisplayNote {
	dn := models.DisplayNote{
		ID:        NumericID(rec.ID),
		RecordID:  rec.ID,
		Category:  ToUICategory(rec.Category),
		Timestamp: rec.CreatedAt,
	}

	var link string
	if rec.URL != nil && *rec.URL != "" {
		link = RewriteURL(*rec.URL)
	}

	switch {
	case rec.Note != nil && *rec.Note != "":
		dn.Text = *rec.Note
	case link != "":
		dn.Text = "Link"
		dn.HasLink = true
	case rec.EventID != nil && *rec.EventID != "":
		dn.Text = "Event: " + *rec.EventID
	}
	dn.URL = link
	return dn
}

// RewriteURL points links into the external mail inbox at the dashboard's
// own email viewer. Other URLs are returned unchanged.
func RewriteURL(raw string) string {
	matched := false
	for _, m := range inboxMarkers {
		if strings.Contains(raw, m) {
			matched = true
			break
		}
	}
	if !matched {
		return raw
	}
	id := raw
	if i := strings.IndexAny(id, "?#"); i >= 0 {
		id = id[:i]
	}
	id = strings.TrimRight(id, "/")
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	if id == "" {
		return raw
	}
	return emailViewerPath + id
}

// NumericID derives a display id from a record id by parsing the first
// hex digits. Collisions are possible; the record id stays the real key.
// Ids without any hex digit fall back to an FNV-1a hash.
func NumericID(recordID string) int64 {
	var b strings.Builder
	for _, r := range recordID {
		if isHex(r) {
			b.WriteRune(r)
			if b.Len() == numericIDDigits {
				break
			}
		}
	}
	if b.Len() == 0 {
		h := fnv.New32a()
		_, _ = h.Write([]byte(recordID))
		return int64(h.Sum32())
	}
	n, err := strconv.ParseInt(b.String(), 16, 64)
	if err != nil {
		return 0
	}
	return n
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// FormatDisplayDate renders a date key as DD.MM.YYYY. Keys that do not
// parse are returned unchanged.
func FormatDisplayDate(dateKey string) string {
	t, err := time.Parse(dateKeyLayout, dateKey)
	if err != nil {
		return dateKey
	}
	return t.Format(displayDateLayout)
}

// IsSameDay reports whether dateKey names the calendar day of now in loc.
func IsSameDay(dateKey string, now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).Format(dateKeyLayout) == dateKey
}
