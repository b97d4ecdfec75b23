package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/feetfirst/historyhub/internal/models"
)

// ReplaceCustomer swaps every cached record of customerID for records,
// keeping their order, within a transaction.
func (db *DB) ReplaceCustomer(customerID string, records []models.RawHistoryRecord) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("cache: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := ftsDeleteCustomer(tx, customerID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM history_records WHERE customer_id = ?`, customerID); err != nil {
		return fmt.Errorf("cache: clear customer: %w", err)
	}

	if len(records) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO history_records
				(id, customer_id, position, category, date, created_at, note, url, methord, payment_is, event_id, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				customer_id = excluded.customer_id,
				position    = excluded.position,
				category    = excluded.category,
				date        = excluded.date,
				created_at  = excluded.created_at,
				note        = excluded.note,
				url         = excluded.url,
				methord     = excluded.methord,
				payment_is  = excluded.payment_is,
				event_id    = excluded.event_id,
				fetched_at  = excluded.fetched_at
		`)
		if err != nil {
			return fmt.Errorf("cache: prepare insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for i, r := range records {
			var date sql.NullTime
			if r.Date != nil {
				date = sql.NullTime{Time: r.Date.UTC(), Valid: true}
			}
			if _, err := stmt.Exec(r.ID, customerID, i, r.Category, date, r.CreatedAt.UTC(),
				nullString(r.Note), nullString(r.URL), nullString(r.Methord),
				nullString(r.PaymentIs), nullString(r.EventID), now); err != nil {
				return fmt.Errorf("cache: insert record %s: %w", r.ID, err)
			}
			if err := ftsUpsert(tx, r.ID, customerID, r.Category, deref(r.Note)); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// Records returns the cached records of customerID in fetch order.
func (db *DB) Records(customerID string) ([]models.RawHistoryRecord, error) {
	rows, err := db.conn.Query(`
		SELECT id, customer_id, category, date, created_at, note, url, methord, payment_is, event_id
		FROM history_records
		WHERE customer_id = ?
		ORDER BY position
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("cache: records: %w", err)
	}
	defer rows.Close()

	out := []models.RawHistoryRecord{}
	for rows.Next() {
		var (
			r                                       models.RawHistoryRecord
			date                                    sql.NullTime
			note, link, methord, paymentIs, eventID sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.CustomerID, &r.Category, &date, &r.CreatedAt,
			&note, &link, &methord, &paymentIs, &eventID); err != nil {
			return nil, fmt.Errorf("cache: scan record: %w", err)
		}
		if date.Valid {
			d := date.Time
			r.Date = &d
		}
		r.Note = ptr(note)
		r.URL = ptr(link)
		r.Methord = ptr(methord)
		r.PaymentIs = ptr(paymentIs)
		r.EventID = ptr(eventID)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRecord removes a single record, e.g. after a remote delete.
func (db *DB) DeleteRecord(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("cache: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	if _, err := tx.Exec(`DELETE FROM history_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("cache: delete record: %w", err)
	}
	return tx.Commit()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
