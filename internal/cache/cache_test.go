package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/feetfirst/historyhub/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "historyhub-cache-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sample() []models.RawHistoryRecord {
	created := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	event := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	return []models.RawHistoryRecord{
		{ID: "r2", CustomerID: "c1", Category: "Termin", CreatedAt: created, Date: &event, EventID: models.StrPtr("ev-9")},
		{ID: "r1", CustomerID: "c1", Category: "Notizen", CreatedAt: created, Note: models.StrPtr("Leisten angepasst")},
		{ID: "r3", CustomerID: "c1", Category: "Zahlungen", CreatedAt: created, PaymentIs: models.StrPtr("bar"), Methord: models.StrPtr("cash")},
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM history_records`).Scan(&count); err != nil {
		t.Fatalf("history_records table missing: %v", err)
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestReplaceAndRecords(t *testing.T) {
	db := testDB(t)
	if err := db.ReplaceCustomer("c1", sample()); err != nil {
		t.Fatalf("ReplaceCustomer: %v", err)
	}
	got, err := db.Records("c1")
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "r2" || got[1].ID != "r1" {
		t.Errorf("order not kept: %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Date == nil || !got[0].Date.Equal(time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v", got[0].Date)
	}
	if got[1].Date != nil {
		t.Errorf("nil date came back as %v", got[1].Date)
	}
	if got[1].Note == nil || *got[1].Note != "Leisten angepasst" {
		t.Errorf("note = %v", got[1].Note)
	}
	if got[2].Methord == nil || *got[2].Methord != "cash" || got[2].Note != nil {
		t.Errorf("optional fields = %+v", got[2])
	}
}

func TestReplaceIsFullReplace(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceCustomer("c1", sample())
	_ = db.ReplaceCustomer("c2", sample()[:0])
	if err := db.ReplaceCustomer("c1", sample()[1:2]); err != nil {
		t.Fatalf("ReplaceCustomer: %v", err)
	}
	got, _ := db.Records("c1")
	if len(got) != 1 || got[0].ID != "r1" {
		t.Errorf("records = %+v", got)
	}
}

func TestRecords_UnknownCustomer(t *testing.T) {
	db := testDB(t)
	got, err := db.Records("nobody")
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty slice, got %#v", got)
	}
}

func TestDeleteRecord(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceCustomer("c1", sample())
	if err := db.DeleteRecord("r1"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	got, _ := db.Records("c1")
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
	results, _ := db.Search("c1", "Leisten", 10)
	if len(results) != 0 {
		t.Errorf("deleted record still searchable: %+v", results)
	}
}

func TestSearch_ScopedToCustomer(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceCustomer("c1", sample())
	other := sample()[1]
	other.ID = "x1"
	other.CustomerID = "c2"
	_ = db.ReplaceCustomer("c2", []models.RawHistoryRecord{other})

	results, err := db.Search("c1", "Leisten", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].RecordID != "r1" {
		t.Errorf("results = %+v, want r1 only", results)
	}
	if results[0].Category != "Notizen" || results[0].Snippet == "" {
		t.Errorf("result = %+v", results[0])
	}
}
