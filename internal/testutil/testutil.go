// Package testutil provides shared test helpers: a fake FeetFirst REST API
// and temporary SQLite caches.
package testutil

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/feetfirst/historyhub/internal/cache"
	"github.com/feetfirst/historyhub/internal/models"
)

// TestCache creates a temporary SQLite cache that is automatically cleaned up.
func TestCache(t *testing.T) *cache.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "historyhub-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := cache.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Upstream is an in-memory stand-in for the customer history endpoints.
type Upstream struct {
	*httptest.Server

	mu        sync.Mutex
	records   []models.RawHistoryRecord
	requests  []*http.Request
	failNext  int
	failAll   bool
	lastToken string
}

// NewUpstream starts a fake API seeded with records.
func NewUpstream(t *testing.T, records ...models.RawHistoryRecord) *Upstream {
	t.Helper()
	u := &Upstream{records: append([]models.RawHistoryRecord(nil), records...)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /customers-history", u.list)
	mux.HandleFunc("POST /customers-history/notizen/{customerId}", u.create)
	mux.HandleFunc("DELETE /customers-history/{id}", u.delete)
	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Close)
	return u
}

// FailNext makes the next n requests answer 500.
func (u *Upstream) FailNext(n int) {
	u.mu.Lock()
	u.failNext = n
	u.mu.Unlock()
}

// FailAll makes every request answer 500 until reset with FailAll(false).
func (u *Upstream) FailAll(on bool) {
	u.mu.Lock()
	u.failAll = on
	u.mu.Unlock()
}

// Records returns the records currently stored.
func (u *Upstream) Records() []models.RawHistoryRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]models.RawHistoryRecord(nil), u.records...)
}

// Requests returns every request received so far.
func (u *Upstream) Requests() []*http.Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*http.Request(nil), u.requests...)
}

// LastToken returns the bearer token of the latest request.
func (u *Upstream) LastToken() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastToken
}

func (u *Upstream) track(w http.ResponseWriter, r *http.Request) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, r.Clone(r.Context()))
	u.lastToken = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if u.failAll || u.failNext > 0 {
		if u.failNext > 0 {
			u.failNext--
		}
		http.Error(w, `{"message":"internal error"}`, http.StatusInternalServerError)
		return false
	}
	return true
}

func (u *Upstream) list(w http.ResponseWriter, r *http.Request) {
	if !u.track(w, r) {
		return
	}
	q := r.URL.Query()
	customerID := q.Get("customerId")
	category := q.Get("category")
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	u.mu.Lock()
	var matched []models.RawHistoryRecord
	for _, rec := range u.records {
		if rec.CustomerID != customerID {
			continue
		}
		if category != "" && rec.Category != category {
			continue
		}
		matched = append(matched, rec)
	}
	u.mu.Unlock()

	start := (page - 1) * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := min(start+limit, len(matched))
	writeJSON(w, http.StatusOK, map[string]any{"data": matched[start:end]})
}

func (u *Upstream) create(w http.ResponseWriter, r *http.Request) {
	if !u.track(w, r) {
		return
	}
	var body struct {
		Note     string `json:"note"`
		Category string `json:"category"`
		Date     string `json:"date"`
	}
	data, _ := io.ReadAll(r.Body)
	if err := sonic.Unmarshal(data, &body); err != nil || body.Note == "" {
		http.Error(w, `{"message":"invalid body"}`, http.StatusBadRequest)
		return
	}
	now := time.Now().UTC()
	rec := models.RawHistoryRecord{
		ID:         uuid.NewString(),
		CustomerID: r.PathValue("customerId"),
		Category:   body.Category,
		CreatedAt:  now,
		Note:       models.StrPtr(body.Note),
	}
	if d, err := time.Parse(time.RFC3339, body.Date); err == nil {
		rec.Date = &d
	}

	u.mu.Lock()
	u.records = append(u.records, rec)
	u.mu.Unlock()
	writeJSON(w, http.StatusCreated, rec)
}

func (u *Upstream) delete(w http.ResponseWriter, r *http.Request) {
	if !u.track(w, r) {
		return
	}
	id := r.PathValue("id")
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, rec := range u.records {
		if rec.ID == id {
			u.records = append(u.records[:i], u.records[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
