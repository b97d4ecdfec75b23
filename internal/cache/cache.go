package cache

import "github.com/feetfirst/historyhub/internal/models"

// HistoryCache is what the note service needs from the cache.
type HistoryCache interface {
	ReplaceCustomer(customerID string, records []models.RawHistoryRecord) error
	Records(customerID string) ([]models.RawHistoryRecord, error)
	DeleteRecord(id string) error
	Search(customerID, query string, limit int) ([]SearchResult, error)
	Close() error
}

// Verify *DB satisfies HistoryCache at compile time.
var _ HistoryCache = (*DB)(nil)

// SearchResult is one note matching a search.
type SearchResult struct {
	RecordID string `json:"recordId"`
	Category string `json:"category"`
	Snippet  string `json:"snippet"`
}
