package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/habit_ledger/internal/domain"
	"github.com/R3E-Network/habit_ledger/internal/projection"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestApplyExecutesAllMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS projection_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS projection_records_kind_idx").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := Apply(context.Background(), db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveUpsertsWithMarkerGuard(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO projection_records .* ON CONFLICT \(kind, entity_key\) DO UPDATE .* WHERE \(projection_records.height, projection_records.stamp\) <=`).
		WithArgs("user", "NUser", int64(12), int64(99), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Save(context.Background(), projection.Record{
		Kind:    domain.KindUser,
		Key:     "NUser",
		Marker:  projection.Marker{Height: 12, Stamp: 99},
		Payload: json.RawMessage(`{"address":"NUser"}`),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadAll(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"kind", "entity_key", "height", "stamp", "payload"}).
		AddRow("therapist", "NT", int64(5), int64(7), []byte(`{"address":"NT"}`)).
		AddRow("user", "NU", int64(6), int64(8), []byte(`{"address":"NU"}`))
	mock.ExpectQuery("SELECT kind, entity_key, height, stamp, payload FROM projection_records").WillReturnRows(rows)

	records, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Kind != domain.KindTherapist || records[0].Marker.Height != 5 {
		t.Errorf("unexpected first record %+v", records[0])
	}
	if records[1].Marker.Stamp != 8 {
		t.Errorf("unexpected stamp %d", records[1].Marker.Stamp)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := Apply(ctx, db); err != nil {
		t.Fatalf("apply: %v", err)
	}
	store := New(db)

	key := "NIntegration"
	newer := projection.Record{Kind: domain.KindUser, Key: key, Marker: projection.Marker{Height: 10, Stamp: 2}, Payload: json.RawMessage(`{"v":2}`)}
	older := projection.Record{Kind: domain.KindUser, Key: key, Marker: projection.Marker{Height: 10, Stamp: 1}, Payload: json.RawMessage(`{"v":1}`)}
	if err := store.Save(ctx, newer); err != nil {
		t.Fatalf("save newer: %v", err)
	}
	if err := store.Save(ctx, older); err != nil {
		t.Fatalf("save older: %v", err)
	}

	records, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, r := range records {
		if r.Key == key && r.Marker.Stamp != 2 {
			t.Fatalf("older save overwrote newer record: %+v", r.Marker)
		}
	}
}
