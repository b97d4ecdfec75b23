package noteservice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feetfirst/historyhub/internal/apperr"
	"github.com/feetfirst/historyhub/internal/cache"
	"github.com/feetfirst/historyhub/internal/history"
	"github.com/feetfirst/historyhub/internal/models"
	"github.com/feetfirst/historyhub/internal/storage"
	"github.com/feetfirst/historyhub/internal/testutil"
	"github.com/feetfirst/historyhub/internal/upstream"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) PublishNoteEvent(kind, customerID, date string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+customerID+":"+date)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = strings.SplitN(e, ":", 2)[0]
	}
	return out
}

func seed() []models.RawHistoryRecord {
	day1 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	return []models.RawHistoryRecord{
		{ID: "aaaa0001", CustomerID: "c1", Category: "Notizen", CreatedAt: day1, Note: models.StrPtr("NoteA")},
		{ID: "bbbb0002", CustomerID: "c1", Category: "Termin", CreatedAt: day2, EventID: models.StrPtr("appt")},
		{ID: "cccc0003", CustomerID: "c1", Category: "Emails", CreatedAt: day2, URL: models.StrPtr("https://x/messages/inbox/m1")},
	}
}

type env struct {
	svc   *Service
	up    *testutil.Upstream
	rec   *recorder
	store *storage.FS
}

func newEnv(t *testing.T, deleteMode string) env {
	t.Helper()
	up := testutil.NewUpstream(t, seed()...)
	client := upstream.New(up.URL, "", 5*time.Second, testutil.DiscardLogger())
	store, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	rec := &recorder{}

	svc, err := NewService(client, testutil.TestCache(t), store, rec, Config{
		Location:   time.UTC,
		PageLimit:  50,
		DeleteMode: deleteMode,
	}, testutil.DiscardLogger())
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC) }
	return env{svc: svc, up: up, rec: rec, store: store}
}

func TestRefreshAndTimeline(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()

	recs, err := e.svc.Refresh(ctx, "c1", 1, 0, history.TabChart)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	assert.Equal(t, []string{"refreshed"}, e.rec.kinds())

	reqs := e.up.Requests()
	assert.False(t, reqs[len(reqs)-1].URL.Query().Has("category"), "Diagramm fetches all categories")

	tl, err := e.svc.Timeline("c1", "")
	require.NoError(t, err)
	require.Len(t, tl.Days, 2)
	assert.Equal(t, "02.01.2025", tl.Days[1].DisplayDate)
	assert.True(t, tl.Days[1].IsToday)
	assert.False(t, tl.Days[0].IsToday)
	assert.Len(t, tl.Days[1].Notes, 2)

	emails, err := e.svc.Timeline("c1", "E-mails")
	require.NoError(t, err)
	require.Len(t, emails.Days, 1)
	assert.Equal(t, "/dashboard/email/sent/m1", emails.Days[0].Notes[0].URL)
}

func TestDatesAndNotes(t *testing.T) {
	e := newEnv(t, "")
	_, err := e.svc.Refresh(context.Background(), "c1", 1, 50, "")
	require.NoError(t, err)

	all, err := e.svc.Dates("c1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-01", "2025-01-02"}, all)

	termin, err := e.svc.Dates("c1", "Termin")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-02"}, termin)

	notes, err := e.svc.Notes("c1", "2025-01-02", "Termin")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Event: appt", notes[0].Text)

	everything, err := e.svc.Notes("c1", "2025-01-02", "")
	require.NoError(t, err)
	assert.Len(t, everything, 2)
}

func TestHydrateFromCache(t *testing.T) {
	up := testutil.NewUpstream(t, seed()...)
	client := upstream.New(up.URL, "", time.Second, testutil.DiscardLogger())
	db := testutil.TestCache(t)

	first, err := NewService(client, db, nil, nil, Config{Location: time.UTC}, testutil.DiscardLogger())
	require.NoError(t, err)
	_, err = first.Refresh(context.Background(), "c1", 1, 50, "")
	require.NoError(t, err)

	up.FailAll(true)
	second, err := NewService(client, db, nil, nil, Config{Location: time.UTC}, testutil.DiscardLogger())
	require.NoError(t, err)
	dates, err := second.Dates("c1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-01", "2025-01-02"}, dates, "timeline served from cache while upstream is down")

	_, err = second.Refresh(context.Background(), "c1", 1, 50, "")
	assert.ErrorIs(t, err, apperr.ErrFetchFailed)
	st, _ := second.State("c1")
	assert.NotEmpty(t, st.LastError)
}

func TestAddNote(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()

	rec, err := e.svc.AddNote(ctx, "c1", AddNoteInput{
		Text:     "Schuhe abgeholt",
		Category: "E-mails",
		Date:     time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "Emails", rec.Category)

	dates, _ := e.svc.Dates("c1", "E-mails")
	assert.Contains(t, dates, "2025-01-03", "timeline refreshed after add")
	assert.Equal(t, []string{"created", "refreshed"}, e.rec.kinds())
}

func TestAddNote_Validation(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	date := time.Now()

	cases := []struct {
		name     string
		customer string
		in       AddNoteInput
	}{
		{"empty text", "c1", AddNoteInput{Text: "", Date: date}},
		{"unknown category", "c1", AddNoteInput{Text: "x", Category: "Diagramm", Date: date}},
		{"zero date", "c1", AddNoteInput{Text: "x"}},
		{"bad customer", "../etc", AddNoteInput{Text: "x", Date: date}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := e.svc.AddNote(ctx, c.customer, c.in)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
	assert.Empty(t, e.up.Records()[3:], "nothing created")
}

func TestAddNote_UpstreamFailure(t *testing.T) {
	e := newEnv(t, "")
	e.up.FailNext(1)
	_, err := e.svc.AddNote(context.Background(), "c1", AddNoteInput{Text: "x", Date: time.Now()})
	assert.ErrorIs(t, err, apperr.ErrCreateFailed)
	assert.Empty(t, e.rec.kinds())
}

func TestDeleteNote_LocalOnly(t *testing.T) {
	e := newEnv(t, history.DeleteModeLocal)
	ctx := context.Background()
	_, err := e.svc.Refresh(ctx, "c1", 1, 50, "")
	require.NoError(t, err)

	require.NoError(t, e.svc.DeleteNote(ctx, "c1", "2025-01-01", history.NumericID("aaaa0001"), ""))
	dates, _ := e.svc.Dates("c1", "")
	assert.Equal(t, []string{"2025-01-02"}, dates)
	assert.Len(t, e.up.Records(), 3, "server keeps the record")

	_, err = e.svc.Refresh(ctx, "c1", 1, 50, "")
	require.NoError(t, err)
	dates, _ = e.svc.Dates("c1", "")
	assert.Equal(t, []string{"2025-01-01", "2025-01-02"}, dates, "next fetch restores it")
}

func TestDeleteNote_Remote(t *testing.T) {
	e := newEnv(t, history.DeleteModeRemote)
	ctx := context.Background()
	_, err := e.svc.Refresh(ctx, "c1", 1, 50, "")
	require.NoError(t, err)

	require.NoError(t, e.svc.DeleteNote(ctx, "c1", "2025-01-02", 0, "bbbb0002"))
	assert.Len(t, e.up.Records(), 2)

	_, err = e.svc.Refresh(ctx, "c1", 1, 50, "")
	require.NoError(t, err)
	notes, _ := e.svc.Notes("c1", "2025-01-02", "Termin")
	assert.Empty(t, notes)

	err = e.svc.DeleteNote(ctx, "c1", "2025-01-02", 12345, "")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestSetDeleteMode(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	_, err := e.svc.Refresh(ctx, "c1", 1, 50, "")
	require.NoError(t, err)

	require.NoError(t, e.svc.SetDeleteMode(history.DeleteModeRemote))
	assert.Equal(t, history.DeleteModeRemote, e.svc.DeleteMode())
	require.NoError(t, e.svc.DeleteNote(ctx, "c1", "2025-01-01", history.NumericID("aaaa0001"), ""))
	assert.Len(t, e.up.Records(), 2, "existing aggregator picked up the remote policy")

	assert.Error(t, e.svc.SetDeleteMode("never"))
}

func TestSearch(t *testing.T) {
	e := newEnv(t, "")
	_, err := e.svc.Refresh(context.Background(), "c1", 1, 50, "")
	require.NoError(t, err)

	res, err := e.svc.Search(context.Background(), "c1", "NoteA", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "aaaa0001", res[0].RecordID)

	_, err = e.svc.Search(context.Background(), "c1", "", 10)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestExport(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	_, err := e.svc.Refresh(ctx, "c1", 1, 50, "")
	require.NoError(t, err)

	meta, err := e.svc.Export(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "customers/c1/timeline.md", meta.Path)
	assert.Equal(t, 2, meta.Dates)
	assert.Equal(t, 3, meta.Notes)

	data, err := e.store.Read(meta.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## 02.01.2025")

	list, err := e.svc.Exports(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c1", list[0].CustomerID)
	assert.Equal(t, meta.Checksum, list[0].Checksum)
}

func TestExportDocumentAndDelete(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()

	_, err := e.svc.ExportDocument(ctx, "c1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = e.svc.Refresh(ctx, "c1", 1, 50, "")
	require.NoError(t, err)
	_, err = e.svc.Export(ctx, "c1")
	require.NoError(t, err)

	doc, err := e.svc.ExportDocument(ctx, "c1")
	require.NoError(t, err)
	assert.Contains(t, string(doc), "customer_id: c1")

	require.NoError(t, e.svc.DeleteExport(ctx, "c1"))
	assert.ErrorIs(t, e.svc.DeleteExport(ctx, "c1"), apperr.ErrNotFound)
}

func page(note string) []models.RawHistoryRecord {
	return []models.RawHistoryRecord{{
		ID: "dddd0004", CustomerID: "c1", Category: "Notizen",
		CreatedAt: time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC), Note: models.StrPtr(note),
	}}
}

// scriptedAPI answers ListHistory with pages in call order. When gate is
// set the first call waits for it.
type scriptedAPI struct {
	mu       sync.Mutex
	calls    int
	pages    [][]models.RawHistoryRecord
	gate     chan struct{}
	entered  chan struct{}
	onDelete func()
}

func (a *scriptedAPI) ListHistory(_ context.Context, _ history.Query) ([]models.RawHistoryRecord, error) {
	a.mu.Lock()
	n := a.calls
	a.calls++
	a.mu.Unlock()
	if n == 0 && a.gate != nil {
		close(a.entered)
		<-a.gate
	}
	return a.pages[n], nil
}

func (a *scriptedAPI) CreateNote(context.Context, string, history.NewNote) (*models.RawHistoryRecord, error) {
	return nil, errors.New("not supported")
}

func (a *scriptedAPI) DeleteNote(context.Context, string) error {
	if a.onDelete != nil {
		a.onDelete()
	}
	return nil
}

// memCache keeps the text of every ReplaceCustomer call. When gate is set
// the first write waits for it.
type memCache struct {
	mu      sync.Mutex
	writes  []string
	deleted []string
	gate    chan struct{}
	entered chan struct{}
	results []cache.SearchResult
}

func (c *memCache) ReplaceCustomer(_ string, records []models.RawHistoryRecord) error {
	c.mu.Lock()
	first := len(c.writes) == 0
	c.mu.Unlock()
	if first && c.gate != nil {
		close(c.entered)
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	text := ""
	if len(records) > 0 && records[0].Note != nil {
		text = *records[0].Note
	}
	c.writes = append(c.writes, text)
	return nil
}

func (c *memCache) Records(string) ([]models.RawHistoryRecord, error) { return nil, nil }

func (c *memCache) DeleteRecord(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *memCache) Search(string, string, int) ([]cache.SearchResult, error) {
	out := make([]cache.SearchResult, len(c.results))
	copy(out, c.results)
	return out, nil
}

func (c *memCache) Close() error { return nil }

func (c *memCache) snapshot() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...), append([]string(nil), c.deleted...)
}

func newScriptedService(t *testing.T, api *scriptedAPI, c *memCache, mode string) *Service {
	t.Helper()
	svc, err := NewService(api, c, nil, nil, Config{Location: time.UTC, DeleteMode: mode}, testutil.DiscardLogger())
	require.NoError(t, err)
	return svc
}

func currentNote(t *testing.T, svc *Service) string {
	t.Helper()
	notes, err := svc.Notes("c1", "2025-01-02", "")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	return notes[0].Text
}

func TestRefresh_StaleFetchDoesNotReachCache(t *testing.T) {
	api := &scriptedAPI{
		pages:   [][]models.RawHistoryRecord{page("old"), page("new")},
		gate:    make(chan struct{}),
		entered: make(chan struct{}),
	}
	c := &memCache{}
	svc := newScriptedService(t, api, c, "")
	ctx := context.Background()

	stale := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(ctx, "c1", 1, 50, "")
		stale <- err
	}()
	<-api.entered

	_, err := svc.Refresh(ctx, "c1", 1, 50, "")
	require.NoError(t, err)
	close(api.gate)
	assert.ErrorIs(t, <-stale, apperr.ErrSuperseded)

	writes, _ := c.snapshot()
	assert.Equal(t, []string{"new"}, writes)
	assert.Equal(t, "new", currentNote(t, svc))
}

func TestRefresh_CacheWritesFollowApplyOrder(t *testing.T) {
	api := &scriptedAPI{pages: [][]models.RawHistoryRecord{page("old"), page("new")}}
	c := &memCache{gate: make(chan struct{}), entered: make(chan struct{})}
	svc := newScriptedService(t, api, c, "")
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = svc.Refresh(ctx, "c1", 1, 50, "")
	}()
	<-c.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = svc.Refresh(ctx, "c1", 1, 50, "")
	}()
	close(c.gate)
	wg.Wait()

	writes, _ := c.snapshot()
	assert.Equal(t, []string{"old", "new"}, writes)
	assert.Equal(t, "new", currentNote(t, svc))
}

func TestDeleteNote_MirrorFollowsPolicyThatRan(t *testing.T) {
	api := &scriptedAPI{pages: [][]models.RawHistoryRecord{page("x")}}
	c := &memCache{}
	svc := newScriptedService(t, api, c, history.DeleteModeRemote)
	ctx := context.Background()
	_, err := svc.Refresh(ctx, "c1", 1, 50, "")
	require.NoError(t, err)

	// A config reload lands while the server-side delete is in flight.
	api.onDelete = func() { require.NoError(t, svc.SetDeleteMode(history.DeleteModeLocal)) }
	require.NoError(t, svc.DeleteNote(ctx, "c1", "2025-01-02", 0, "dddd0004"))

	_, deleted := c.snapshot()
	assert.Equal(t, []string{"dddd0004"}, deleted)
	assert.Equal(t, history.DeleteModeLocal, svc.DeleteMode())
}

func TestReadsDoNotRegisterUnknownCustomers(t *testing.T) {
	svc := newScriptedService(t, &scriptedAPI{}, &memCache{}, "")

	dates, err := svc.Dates("ghost", "")
	require.NoError(t, err)
	assert.Empty(t, dates)
	notes, err := svc.Notes("ghost", "2025-01-02", "")
	require.NoError(t, err)
	assert.Empty(t, notes)
	tl, err := svc.Timeline("ghost", "")
	require.NoError(t, err)
	assert.Empty(t, tl.Days)
	st, err := svc.State("ghost")
	require.NoError(t, err)
	assert.Equal(t, history.State{}, st)
	assert.ErrorIs(t, svc.DeleteNote(context.Background(), "ghost", "2025-01-02", 1, ""), apperr.ErrNotFound)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Empty(t, svc.aggregators)
}

func TestSearch_UICategories(t *testing.T) {
	c := &memCache{results: []cache.SearchResult{
		{RecordID: "a", Category: "Emails", Snippet: "Rechnung"},
		{RecordID: "b", Category: "Notizen", Snippet: "Rechnung"},
	}}
	svc := newScriptedService(t, &scriptedAPI{}, c, "")

	res, err := svc.Search(context.Background(), "c1", "Rechnung", 10)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "E-mails", res[0].Category)
	assert.Equal(t, "Notizen", res[1].Category)
}
