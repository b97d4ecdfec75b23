// Package history turns a customer's raw history records into date- and
// category-indexed notes for the dashboard, and creates new notes through
// the same category vocabulary.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/feetfirst/historyhub/internal/apperr"
	"github.com/feetfirst/historyhub/internal/models"
)

// Defaults for GetNotes.
const (
	DefaultPage  = 1
	DefaultLimit = 50
)

// HistoryAPI is the slice of the external REST API the aggregator needs.
type HistoryAPI interface {
	CreateNote(ctx context.Context, customerID string, in NewNote) (*models.RawHistoryRecord, error)
	ListHistory(ctx context.Context, q Query) ([]models.RawHistoryRecord, error)
}

// NewNote is the body of a note creation request, already in API vocabulary.
type NewNote struct {
	Note     string `json:"note"`
	Category string `json:"category"`
	Date     string `json:"date"`
}

// Query selects one page of a customer's history. An empty Category means all.
type Query struct {
	CustomerID string
	Page       int
	Limit      int
	Category   string
}

// State is a snapshot of the aggregator's progress flags.
type State struct {
	Adding    bool   `json:"isAdding"`
	Loading   bool   `json:"isLoadingNotes"`
	LastError string `json:"error,omitempty"`
}

// Aggregator holds one customer's fetched history and its date buckets.
// It is safe for concurrent use.
type Aggregator struct {
	customerID string
	api        HistoryAPI
	policy     DeletePolicy
	loc        *time.Location
	now        func() time.Time
	logger     *slog.Logger
	onApplied  func([]models.RawHistoryRecord)
	onDeleted  func(recordID, mode string)

	mu      sync.RWMutex
	issued  uint64 // sequence of the latest GetNotes call
	raw     []models.RawHistoryRecord
	buckets Buckets
	adding  int
	loading int
	lastErr string
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithLocation sets the zone used for date keys and IsToday. Default time.Local.
func WithLocation(loc *time.Location) AggregatorOption {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// WithDeletePolicy sets the policy applied by DeleteNote. Default LocalOnly.
func WithDeletePolicy(p DeletePolicy) AggregatorOption {
	return func(a *Aggregator) {
		if p != nil {
			a.policy = p
		}
	}
}

// WithClock overrides the time source used by IsToday.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAppliedHook registers fn to run with every fetch result that replaces
// local state. fn runs under the aggregator's lock, so calls happen in the
// order results were applied and never for a superseded fetch.
func WithAppliedHook(fn func(records []models.RawHistoryRecord)) AggregatorOption {
	return func(a *Aggregator) {
		a.onApplied = fn
	}
}

// WithDeletedHook registers fn to run after a note left local state. mode
// is that of the policy which ran for this delete.
func WithDeletedHook(fn func(recordID, mode string)) AggregatorOption {
	return func(a *Aggregator) {
		a.onDeleted = fn
	}
}

// NewAggregator creates an empty aggregator for customerID.
func NewAggregator(customerID string, api HistoryAPI, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		customerID: customerID,
		api:        api,
		policy:     LocalOnly{},
		loc:        time.Local,
		now:        time.Now,
		logger:     slog.Default(),
		buckets:    Buckets{},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(slog.String("customer_id", customerID))
	return a
}

// CustomerID returns the customer this aggregator belongs to.
func (a *Aggregator) CustomerID() string { return a.customerID }

// Location returns the zone used for date keys.
func (a *Aggregator) Location() *time.Location { return a.loc }

// AddNote creates a note on the external API. Local state is not touched;
// callers re-fetch to see it. An empty category defaults to "Notizen".
func (a *Aggregator) AddNote(ctx context.Context, text, category string, date time.Time) (*models.RawHistoryRecord, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: note text is required", apperr.ErrInvalidInput)
	}
	if category == "" {
		category = DefaultCategory
	}

	a.mu.Lock()
	a.adding++
	a.lastErr = ""
	a.mu.Unlock()

	rec, err := a.api.CreateNote(ctx, a.customerID, NewNote{
		Note:     text,
		Category: ToAPICategory(category),
		Date:     FormatISO(date),
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	a.adding--
	if err != nil {
		a.lastErr = "failed to add note"
		a.logger.Error("add note failed", slog.String("category", category), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", apperr.ErrCreateFailed, err)
	}
	return rec, nil
}

// GetNotes fetches one page of history and, on success, replaces the
// retained records and rebuilds the buckets. A response that completes
// after a newer GetNotes was issued is discarded with ErrSuperseded. On
// failure the previous state is kept.
func (a *Aggregator) GetNotes(ctx context.Context, page, limit int, category string) ([]models.RawHistoryRecord, error) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}

	a.mu.Lock()
	a.issued++
	seq := a.issued
	a.loading++
	a.lastErr = ""
	a.mu.Unlock()

	records, err := a.api.ListHistory(ctx, Query{
		CustomerID: a.customerID,
		Page:       page,
		Limit:      limit,
		Category:   ToAPICategory(category),
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	a.loading--

	if seq < a.issued {
		a.logger.Debug("discarding stale history response",
			slog.Uint64("seq", seq), slog.Uint64("latest", a.issued))
		return nil, apperr.ErrSuperseded
	}
	if err != nil {
		a.lastErr = "failed to load notes"
		a.logger.Error("fetch notes failed", slog.Int("page", page), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", apperr.ErrFetchFailed, err)
	}

	a.raw = records
	a.buckets = BuildBuckets(records, a.loc)
	if a.onApplied != nil {
		a.onApplied(records)
	}
	return records, nil
}

// UpdateLocalNotes rebuilds the buckets from records, replacing all
// previous local state.
func (a *Aggregator) UpdateLocalNotes(records []models.RawHistoryRecord) {
	b := BuildBuckets(records, a.loc)
	a.mu.Lock()
	a.raw = records
	a.buckets = b
	a.mu.Unlock()
}

// Records returns the retained raw records of the last applied fetch.
func (a *Aggregator) Records() []models.RawHistoryRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.RawHistoryRecord, len(a.raw))
	copy(out, a.raw)
	return out
}

// AllDates returns the keys of non-empty buckets in ascending order.
func (a *Aggregator) AllDates() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.datesWhere(func([]models.DisplayNote) bool { return true })
}

// FilteredDates returns the dates holding at least one note of the tab's
// category. The "Diagramm" tab shows every date.
func (a *Aggregator) FilteredDates(activeTab string) []string {
	if activeTab == TabChart {
		return a.AllDates()
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.datesWhere(func(notes []models.DisplayNote) bool {
		for _, n := range notes {
			if n.Category == activeTab {
				return true
			}
		}
		return false
	})
}

// NotesForCategory returns the notes of dateKey in uiCategory. Unknown
// dates yield an empty slice.
func (a *Aggregator) NotesForCategory(dateKey, uiCategory string) []models.DisplayNote {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := []models.DisplayNote{}
	for _, n := range a.buckets[dateKey] {
		if n.Category == uiCategory {
			out = append(out, n)
		}
	}
	return out
}

// NotesForDate returns every note of dateKey.
func (a *Aggregator) NotesForDate(dateKey string) []models.DisplayNote {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.DisplayNote, len(a.buckets[dateKey]))
	copy(out, a.buckets[dateKey])
	return out
}

// IsToday reports whether dateKey is the current day in the aggregator's zone.
func (a *Aggregator) IsToday(dateKey string) bool {
	return IsSameDay(dateKey, a.now(), a.loc)
}

// DeleteNote removes the first note with numeric id from the bucket at
// dateKey. The delete policy runs first; an emptied bucket disappears.
func (a *Aggregator) DeleteNote(ctx context.Context, dateKey string, id int64) error {
	return a.deleteWhere(ctx, dateKey, func(n models.DisplayNote) bool { return n.ID == id })
}

// DeleteRecord is DeleteNote keyed by the collision-free record id.
func (a *Aggregator) DeleteRecord(ctx context.Context, dateKey, recordID string) error {
	return a.deleteWhere(ctx, dateKey, func(n models.DisplayNote) bool { return n.RecordID == recordID })
}

// State returns the current progress flags.
func (a *Aggregator) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return State{Adding: a.adding > 0, Loading: a.loading > 0, LastError: a.lastErr}
}

// SetDeletePolicy swaps the delete policy, e.g. after a config reload.
func (a *Aggregator) SetDeletePolicy(p DeletePolicy) {
	if p == nil {
		return
	}
	a.mu.Lock()
	a.policy = p
	a.mu.Unlock()
}

func (a *Aggregator) deleteWhere(ctx context.Context, dateKey string, match func(models.DisplayNote) bool) error {
	a.mu.RLock()
	target, found := models.DisplayNote{}, false
	for _, n := range a.buckets[dateKey] {
		if match(n) {
			target, found = n, true
			break
		}
	}
	policy := a.policy
	a.mu.RUnlock()

	if !found {
		return apperr.ErrNotFound
	}
	if err := policy.BeforeLocalDelete(ctx, target.RecordID); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	notes := a.buckets[dateKey]
	for i, n := range notes {
		if n.RecordID != target.RecordID || n.ID != target.ID {
			continue
		}
		notes = append(notes[:i:i], notes[i+1:]...)
		if len(notes) == 0 {
			delete(a.buckets, dateKey)
		} else {
			a.buckets[dateKey] = notes
		}
		a.logger.Debug("note removed locally",
			slog.String("date", dateKey), slog.String("record_id", target.RecordID),
			slog.String("delete_mode", policy.Mode()))
		if a.onDeleted != nil {
			a.onDeleted(target.RecordID, policy.Mode())
		}
		return nil
	}
	// Buckets were rebuilt while the policy ran.
	return apperr.ErrNotFound
}

// datesWhere must be called with a.mu held.
func (a *Aggregator) datesWhere(keep func([]models.DisplayNote) bool) []string {
	out := []string{}
	for k, notes := range a.buckets {
		if len(notes) > 0 && keep(notes) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// FormatISO renders t like a JavaScript Date#toISOString.
func FormatISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
