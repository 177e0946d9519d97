package eventstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loanOpened struct {
	LoanID int64  `json:"loan_id"`
	Title  string `json:"title"`
}

func Test_Sequence_AssignsVersionsAfterHead(t *testing.T) {
	// arrange
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	events := []Event{MustEvent("LoanRenewed", loanOpened{LoanID: 1}), MustEvent("LoanClosed", loanOpened{LoanID: 1})}

	// act
	out, err := Sequence(2, 2, "loan-1", "loan", now, events)

	// assert
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 3, out[0].Version)
	assert.Equal(t, 4, out[1].Version)
	assert.Equal(t, "loan-1", out[1].StreamID)
	assert.Equal(t, "loan", out[1].StreamType)
	assert.Equal(t, now, out[0].OccurredAt)
	assert.Zero(t, events[0].Version, "input must not be mutated")
}

func Test_Sequence_RejectsStaleExpectation(t *testing.T) {
	_, err := Sequence(3, 2, "loan-1", "loan", time.Now(), []Event{MustEvent("LoanClosed", nil)})

	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func Test_Sequence_AnyVersionAppendsAtHead(t *testing.T) {
	out, err := Sequence(7, AnyVersion, "title-1", "title", time.Now(), []Event{MustEvent("CopiesPurchased", nil)})

	require.NoError(t, err)
	assert.Equal(t, 8, out[0].Version)
}

func Test_Sequence_RejectsInvalidVersion(t *testing.T) {
	_, err := Sequence(0, -5, "loan-1", "loan", time.Now(), nil)

	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func Test_Event_DecodeRoundTrip(t *testing.T) {
	e, err := NewEvent("LoanOpened", loanOpened{LoanID: 4, Title: "三体"})
	require.NoError(t, err)

	var got loanOpened
	require.NoError(t, e.Decode(&got))

	assert.Equal(t, loanOpened{LoanID: 4, Title: "三体"}, got)
}

func Test_Event_MarshalJSONEmbedsPayload(t *testing.T) {
	e := MustEvent("LoanOpened", loanOpened{LoanID: 4})
	e.ID = 10

	b, err := e.MarshalJSON()

	require.NoError(t, err)
	assert.Contains(t, string(b), `"payload":{"loan_id":4,"title":""}`)
	assert.Contains(t, string(b), `"id":10`)
}

func Test_Store_InsertQueryIsPrepared(t *testing.T) {
	s := New(WithTableName("audit_events"))
	e := MustEvent("LoanOpened", loanOpened{LoanID: 1})
	e.StreamID, e.StreamType, e.Version = "loan-1", "loan", 1

	query, args, err := s.insertQuery(e)

	require.NoError(t, err)
	assert.Contains(t, query, `INSERT INTO "audit_events"`)
	assert.Contains(t, query, `RETURNING "id"`)
	assert.NotContains(t, query, "loan-1")
	assert.Contains(t, args, "loan-1")
}

// setupTestDB connects to the database named by the PG* variables and skips
// the test when none is reachable.
func setupTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"), envOr("PGPORT", "5432"), envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"), envOr("PGDATABASE", "testdb"))

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			stream_id TEXT NOT NULL,
			stream_type TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			version INT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (stream_id, version)
		);
	`)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func Test_Store_AppendAndLoad(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := New()
	ctx := context.Background()
	stream := "loan-" + uuid.NewString()

	// act
	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	appended, err := store.Append(ctx, tx, stream, "loan", 0, []Event{
		MustEvent("LoanOpened", loanOpened{LoanID: 1}),
		MustEvent("LoanRenewed", loanOpened{LoanID: 1}),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	loaded, err := store.Load(ctx, db, stream)

	// assert
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, appended[0].ID, loaded[0].ID)
	assert.Equal(t, 2, loaded[1].Version)
	assert.Equal(t, "LoanRenewed", loaded[1].EventType)
}

func Test_Store_AppendDetectsConflict(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := New()
	ctx := context.Background()
	stream := "loan-" + uuid.NewString()

	_, err := store.Append(ctx, db, stream, "loan", 0, []Event{MustEvent("LoanOpened", nil)})
	require.NoError(t, err)

	_, err = store.Append(ctx, db, stream, "loan", 0, []Event{MustEvent("LoanOpened", nil)})

	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func BenchmarkAppend(b *testing.B) {
	db := setupTestDB(b)
	defer db.Close()
	store := New()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		stream := "bench-" + uuid.NewString()
		events := []Event{MustEvent("LoanOpened", loanOpened{LoanID: int64(i)})}
		b.StartTimer()

		if _, err := store.Append(context.Background(), db, stream, "loan", 0, events); err != nil {
			b.Fatalf("Append failed: %v", err)
		}
	}
}
