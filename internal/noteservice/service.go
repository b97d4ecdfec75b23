// Package noteservice owns one history aggregator per customer and
// coordinates the upstream API, the SQLite cache, change events and exports.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/feetfirst/historyhub/internal/apperr"
	"github.com/feetfirst/historyhub/internal/cache"
	"github.com/feetfirst/historyhub/internal/checksum"
	"github.com/feetfirst/historyhub/internal/export"
	"github.com/feetfirst/historyhub/internal/history"
	"github.com/feetfirst/historyhub/internal/models"
	"github.com/feetfirst/historyhub/internal/sse"
	"github.com/feetfirst/historyhub/internal/storage"
)

var customerIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Publisher receives note change notifications.
type Publisher interface {
	PublishNoteEvent(kind, customerID, date string)
}

// Upstream is the external API as seen by the service.
type Upstream interface {
	history.HistoryAPI
	history.Remover
}

// Day is one date of a timeline.
type Day struct {
	Date        string               `json:"date"`
	DisplayDate string               `json:"displayDate"`
	IsToday     bool                 `json:"isToday"`
	Notes       []models.DisplayNote `json:"notes"`
}

// Timeline is the rendered view of one customer for a tab.
type Timeline struct {
	CustomerID string `json:"customerId"`
	Tab        string `json:"tab"`
	Days       []Day  `json:"days"`
}

// AddNoteInput is a request to create a note.
type AddNoteInput struct {
	Text     string
	Category string
	Date     time.Time
}

// Service coordinates aggregators and their collaborators.
type Service struct {
	api       Upstream
	cache     cache.HistoryCache
	store     storage.Provider
	publisher Publisher
	logger    *slog.Logger
	loc       *time.Location
	pageLimit int
	now       func() time.Time

	mu          sync.Mutex
	deleteMode  string
	aggregators map[string]*history.Aggregator
}

// Config holds the service settings that come from configuration.
type Config struct {
	Location   *time.Location
	PageLimit  int
	DeleteMode string
}

// NewService creates a note service. cache, store and publisher may be nil.
func NewService(api Upstream, c cache.HistoryCache, store storage.Provider, publisher Publisher, cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = history.DefaultLimit
	}
	if _, err := history.NewDeletePolicy(cfg.DeleteMode, api); err != nil {
		return nil, err
	}
	return &Service{
		api:         api,
		cache:       c,
		store:       store,
		publisher:   publisher,
		logger:      logger,
		loc:         cfg.Location,
		pageLimit:   cfg.PageLimit,
		now:         time.Now,
		deleteMode:  cfg.DeleteMode,
		aggregators: make(map[string]*history.Aggregator),
	}, nil
}

// Location returns the time zone used for date keys.
func (s *Service) Location() *time.Location { return s.loc }

// SetDeleteMode switches every aggregator to the policy for mode.
func (s *Service) SetDeleteMode(mode string) error {
	policy, err := history.NewDeletePolicy(mode, s.api)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteMode == mode {
		return nil
	}
	s.deleteMode = mode
	for _, agg := range s.aggregators {
		agg.SetDeletePolicy(policy)
	}
	s.logger.Info("delete mode changed", slog.String("mode", policy.Mode()))
	return nil
}

// DeleteMode returns the active delete mode.
func (s *Service) DeleteMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteMode == "" {
		return history.DeleteModeLocal
	}
	return s.deleteMode
}

// Aggregator returns the aggregator of customerID, creating it and
// hydrating it from the cache on first use.
func (s *Service) Aggregator(customerID string) (*history.Aggregator, error) {
	return s.aggregator(customerID, true)
}

// lookup is Aggregator for read paths: it only creates an aggregator when
// the cache holds records for the customer, and returns nil otherwise.
func (s *Service) lookup(customerID string) (*history.Aggregator, error) {
	return s.aggregator(customerID, false)
}

func (s *Service) aggregator(customerID string, create bool) (*history.Aggregator, error) {
	if err := ValidateCustomerID(customerID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if agg, ok := s.aggregators[customerID]; ok {
		return agg, nil
	}

	var cached []models.RawHistoryRecord
	if s.cache != nil {
		recs, err := s.cache.Records(customerID)
		if err != nil {
			s.logger.Warn("cache hydrate failed",
				slog.String("customer_id", customerID), slog.String("error", err.Error()))
		}
		cached = recs
	}
	if !create && len(cached) == 0 {
		return nil, nil
	}

	policy, err := history.NewDeletePolicy(s.deleteMode, s.api)
	if err != nil {
		return nil, err
	}
	agg := history.NewAggregator(customerID, s.api,
		history.WithLocation(s.loc),
		history.WithDeletePolicy(policy),
		history.WithClock(s.now),
		history.WithLogger(s.logger),
		history.WithAppliedHook(func(records []models.RawHistoryRecord) {
			s.writeCache(customerID, records)
		}),
		history.WithDeletedHook(func(recordID, mode string) {
			s.mirrorDelete(recordID, mode)
		}),
	)
	if len(cached) > 0 {
		agg.UpdateLocalNotes(cached)
		s.logger.Debug("hydrated from cache",
			slog.String("customer_id", customerID), slog.Int("records", len(cached)))
	}
	s.aggregators[customerID] = agg
	return agg, nil
}

// writeCache runs under the aggregator's lock, once per applied fetch.
func (s *Service) writeCache(customerID string, records []models.RawHistoryRecord) {
	if s.cache == nil {
		return
	}
	if err := s.cache.ReplaceCustomer(customerID, records); err != nil {
		s.logger.Warn("cache write failed",
			slog.String("customer_id", customerID), slog.String("error", err.Error()))
	}
}

// mirrorDelete drops a record from the cache after a server-side delete.
// A local-only delete comes back with the next fetch, so the cache keeps it.
func (s *Service) mirrorDelete(recordID, mode string) {
	if s.cache == nil || mode != history.DeleteModeRemote {
		return
	}
	if err := s.cache.DeleteRecord(recordID); err != nil {
		s.logger.Warn("cache delete failed", slog.String("record_id", recordID), slog.String("error", err.Error()))
	}
}

// Refresh fetches one page of a customer's history. The "Diagramm" tab
// and an empty category both fetch every category.
func (s *Service) Refresh(ctx context.Context, customerID string, page, limit int, category string) ([]models.RawHistoryRecord, error) {
	agg, err := s.Aggregator(customerID)
	if err != nil {
		return nil, err
	}
	if category == history.TabChart {
		category = ""
	}
	if limit <= 0 {
		limit = s.pageLimit
	}

	records, err := agg.GetNotes(ctx, page, limit, category)
	if err != nil {
		return nil, err
	}
	if s.publisher != nil {
		s.publisher.PublishNoteEvent(sse.KindRefreshed, customerID, "")
	}
	return records, nil
}

// AddNote validates and creates a note, then refreshes the timeline so the
// new note is visible. A failed refresh does not undo the create.
func (s *Service) AddNote(ctx context.Context, customerID string, in AddNoteInput) (*models.RawHistoryRecord, error) {
	if in.Category == "" {
		in.Category = history.DefaultCategory
	}
	if err := validation.ValidateStruct(&in,
		validation.Field(&in.Text, validation.Required, validation.Length(1, 5000)),
		validation.Field(&in.Category, validation.In(toAny(history.UICategories)...)),
		validation.Field(&in.Date, validation.Required),
	); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}

	agg, err := s.Aggregator(customerID)
	if err != nil {
		return nil, err
	}
	rec, err := agg.AddNote(ctx, in.Text, in.Category, in.Date)
	if err != nil {
		return nil, err
	}

	dateKey := ""
	if rec != nil {
		dateKey = history.DateKey(*rec, s.loc)
	}
	if s.publisher != nil {
		s.publisher.PublishNoteEvent(sse.KindCreated, customerID, dateKey)
	}

	if _, err := s.Refresh(ctx, customerID, history.DefaultPage, s.pageLimit, ""); err != nil && !errors.Is(err, apperr.ErrSuperseded) {
		s.logger.Warn("refresh after add failed",
			slog.String("customer_id", customerID), slog.String("error", err.Error()))
	}
	return rec, nil
}

// DeleteNote removes a note by numeric id, or by record id when recordID
// is set.
func (s *Service) DeleteNote(ctx context.Context, customerID, dateKey string, id int64, recordID string) error {
	agg, err := s.lookup(customerID)
	if err != nil {
		return err
	}
	if agg == nil {
		return apperr.ErrNotFound
	}

	if recordID != "" {
		err = agg.DeleteRecord(ctx, dateKey, recordID)
	} else {
		err = agg.DeleteNote(ctx, dateKey, id)
	}
	if err != nil {
		return err
	}
	if s.publisher != nil {
		s.publisher.PublishNoteEvent(sse.KindDeleted, customerID, dateKey)
	}
	return nil
}

// Dates returns FilteredDates for tab, or every date when tab is empty.
func (s *Service) Dates(customerID, tab string) ([]string, error) {
	agg, err := s.lookup(customerID)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		return []string{}, nil
	}
	if tab == "" {
		return agg.AllDates(), nil
	}
	return agg.FilteredDates(tab), nil
}

// Notes returns the notes of a date, narrowed to category when set.
func (s *Service) Notes(customerID, dateKey, category string) ([]models.DisplayNote, error) {
	agg, err := s.lookup(customerID)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		return []models.DisplayNote{}, nil
	}
	if category == "" || category == history.TabChart {
		return agg.NotesForDate(dateKey), nil
	}
	return agg.NotesForCategory(dateKey, category), nil
}

// Timeline assembles the dates of tab with their notes.
func (s *Service) Timeline(customerID, tab string) (*Timeline, error) {
	agg, err := s.lookup(customerID)
	if err != nil {
		return nil, err
	}
	if tab == "" {
		tab = history.TabChart
	}

	tl := &Timeline{CustomerID: customerID, Tab: tab, Days: []Day{}}
	if agg == nil {
		return tl, nil
	}
	for _, date := range agg.FilteredDates(tab) {
		var notes []models.DisplayNote
		if tab == history.TabChart {
			notes = agg.NotesForDate(date)
		} else {
			notes = agg.NotesForCategory(date, tab)
		}
		tl.Days = append(tl.Days, Day{
			Date:        date,
			DisplayDate: history.FormatDisplayDate(date),
			IsToday:     agg.IsToday(date),
			Notes:       notes,
		})
	}
	return tl, nil
}

// State returns the progress flags of a customer's aggregator.
func (s *Service) State(customerID string) (history.State, error) {
	agg, err := s.lookup(customerID)
	if err != nil || agg == nil {
		return history.State{}, err
	}
	return agg.State(), nil
}

// IsToday reports whether dateKey is the current day in the service's zone.
func (s *Service) IsToday(dateKey string) bool {
	return history.IsSameDay(dateKey, s.now(), s.loc)
}

// Search looks up note text in the cached history of a customer.
func (s *Service) Search(_ context.Context, customerID, query string, limit int) ([]cache.SearchResult, error) {
	if err := ValidateCustomerID(customerID); err != nil {
		return nil, err
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", apperr.ErrInvalidInput)
	}
	if s.cache == nil {
		return []cache.SearchResult{}, nil
	}
	results, err := s.cache.Search(customerID, query, limit)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Category = history.ToUICategory(results[i].Category)
	}
	return results, nil
}

// Export writes the full timeline of a customer to the export store.
func (s *Service) Export(_ context.Context, customerID string) (*models.ExportMetadata, error) {
	if s.store == nil {
		return nil, fmt.Errorf("noteservice: export store not configured")
	}
	tl, err := s.Timeline(customerID, history.TabChart)
	if err != nil {
		return nil, err
	}

	days := make([]export.Day, len(tl.Days))
	notes := 0
	for i, d := range tl.Days {
		days[i] = export.Day{Date: d.Date, Notes: d.Notes}
		notes += len(d.Notes)
	}
	at := s.now()
	doc, err := export.Render(customerID, days, at, s.loc)
	if err != nil {
		return nil, err
	}
	path := export.Path(customerID)
	if err := s.store.Write(path, doc); err != nil {
		return nil, fmt.Errorf("noteservice: write export: %w", err)
	}
	s.logger.Info("timeline exported", slog.String("customer_id", customerID), slog.String("path", path))

	return &models.ExportMetadata{
		CustomerID: customerID,
		Path:       path,
		Checksum:   checksum.Sum(doc),
		Dates:      len(days),
		Notes:      notes,
		ExportedAt: at,
	}, nil
}

// Exports lists every stored timeline export.
func (s *Service) Exports(_ context.Context) ([]models.ExportMetadata, error) {
	if s.store == nil {
		return []models.ExportMetadata{}, nil
	}
	files, err := s.store.List("customers")
	if err != nil {
		return nil, err
	}
	out := make([]models.ExportMetadata, 0, len(files))
	for _, f := range files {
		data, err := s.store.Read(f.Path)
		if err != nil {
			return nil, err
		}
		fm, err := export.ReadFrontmatter(data)
		if err != nil {
			s.logger.Warn("skipping unreadable export", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		out = append(out, models.ExportMetadata{
			CustomerID: fm.CustomerID,
			Path:       f.Path,
			Checksum:   f.Checksum,
			Dates:      fm.Dates,
			Notes:      fm.Notes,
			ExportedAt: fm.ExportedAt,
		})
	}
	return out, nil
}

// ExportDocument returns the stored Markdown export of a customer.
func (s *Service) ExportDocument(_ context.Context, customerID string) ([]byte, error) {
	if err := ValidateCustomerID(customerID); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, apperr.ErrNotFound
	}
	data, err := s.store.Read(export.Path(customerID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// DeleteExport removes the stored export of a customer.
func (s *Service) DeleteExport(_ context.Context, customerID string) error {
	if err := ValidateCustomerID(customerID); err != nil {
		return err
	}
	if s.store == nil {
		return apperr.ErrNotFound
	}
	if err := s.store.Delete(export.Path(customerID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	s.logger.Info("export deleted", slog.String("customer_id", customerID))
	return nil
}

// ValidateCustomerID rejects ids that are empty or unsafe as path segments.
func ValidateCustomerID(id string) error {
	if err := validation.Validate(id, validation.Required, validation.Match(customerIDRe)); err != nil {
		return fmt.Errorf("%w: customer id: %w", apperr.ErrInvalidInput, err)
	}
	return nil
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
