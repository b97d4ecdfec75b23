//go:build sqlite_fts5

package cache

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			record_id UNINDEXED,
			customer_id UNINDEXED,
			category UNINDEXED,
			note,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, id, customerID, category, note string) error {
	_, _ = tx.Exec(`DELETE FROM notes_fts WHERE record_id = ?`, id)
	if note == "" {
		return nil
	}
	_, err := tx.Exec(`INSERT INTO notes_fts (record_id, customer_id, category, note) VALUES (?, ?, ?, ?)`,
		id, customerID, category, note)
	if err != nil {
		return fmt.Errorf("cache: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, id string) {
	_, _ = tx.Exec(`DELETE FROM notes_fts WHERE record_id = ?`, id)
}

func ftsDeleteCustomer(tx *sql.Tx, customerID string) error {
	if _, err := tx.Exec(`DELETE FROM notes_fts WHERE customer_id = ?`, customerID); err != nil {
		return fmt.Errorf("cache: clear fts: %w", err)
	}
	return nil
}

// Search performs an FTS5 search over a customer's note text.
func (db *DB) Search(customerID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT record_id,
		       category,
		       snippet(notes_fts, 3, '<b>', '</b>', '...', 32)
		FROM notes_fts
		WHERE notes_fts MATCH ? AND customer_id = ?
		ORDER BY rank
		LIMIT ?
	`, query, customerID, limit)
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
