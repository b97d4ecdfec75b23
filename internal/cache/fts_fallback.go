//go:build !sqlite_fts5

package cache

import (
	"database/sql"
	"fmt"
	"strings"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE on history_records.note.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _, _, _ string) error { return nil }

func ftsDelete(_ *sql.Tx, _ string) {}

func ftsDeleteCustomer(_ *sql.Tx, _ string) error { return nil }

// Search performs a LIKE-based search over a customer's note text
// (fallback when FTS5 is not compiled in).
func (db *DB) Search(customerID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + likeEscaper.Replace(query) + "%"
	rows, err := db.conn.Query(`
		SELECT id, category, substr(note, 1, 200)
		FROM history_records
		WHERE customer_id = ? AND note LIKE ? ESCAPE '\'
		ORDER BY position
		LIMIT ?
	`, customerID, like, limit)
	if err != nil {
		return nil, fmt.Errorf("cache: search: %w", err)
	}
	defer rows.Close()

	out := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.RecordID, &r.Category, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
