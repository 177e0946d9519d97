// Package eventstore records an append-only log of domain events per stream,
// written inside the caller's transaction with optimistic version checks.
package eventstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AnyVersion skips the expected-version check. Use it only when the caller
// already holds a lock that serialises writers of the stream.
const AnyVersion = -1

const (
	defaultTableName = "events"
	dialectPostgres  = "postgres"
	colID            = "id"
	colStreamID      = "stream_id"
	colStreamType    = "stream_type"
	colEventType     = "event_type"
	colPayload       = "payload"
	colMetadata      = "metadata"
	colVersion       = "version"
	colOccurredAt    = "occurred_at"
	aliasMaxVersion  = "max_version"
	uniqueViolation  = "23505"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Metadata is free-form context stored next to a payload.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	return json.Unmarshal(raw, m)
}

// Event is one entry of a stream.
type Event struct {
	ID         int64     `json:"id"`
	StreamID   string    `json:"stream_id"`
	StreamType string    `json:"stream_type"`
	EventType  string    `json:"event_type"`
	Payload    []byte    `json:"payload"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	Version    int       `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
}

// MarshalJSON renders the payload as embedded JSON rather than base64.
func (e Event) MarshalJSON() ([]byte, error) {
	payload := jsoniter.RawMessage(e.Payload)
	if len(payload) == 0 {
		payload = jsoniter.RawMessage("null")
	}
	return json.Marshal(struct {
		ID         int64               `json:"id"`
		StreamID   string              `json:"stream_id"`
		StreamType string              `json:"stream_type"`
		EventType  string              `json:"event_type"`
		Payload    jsoniter.RawMessage `json:"payload"`
		Metadata   Metadata            `json:"metadata,omitempty"`
		Version    int                 `json:"version"`
		OccurredAt time.Time           `json:"occurred_at"`
	}{e.ID, e.StreamID, e.StreamType, e.EventType, payload, e.Metadata, e.Version, e.OccurredAt})
}

// NewEvent encodes payload into an unsaved event.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{EventType: eventType, Payload: data}, nil
}

// MustEvent is NewEvent for payloads that are known to encode.
func MustEvent(eventType string, payload any) Event {
	e, err := NewEvent(eventType, payload)
	if err != nil {
		panic(err)
	}
	return e
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if !json.Valid(e.Payload) {
		return fmt.Errorf("event %d has an invalid payload", e.ID)
	}
	return json.Unmarshal(e.Payload, v)
}

// Sequence stamps events for appending to a stream whose head is at
// currentVersion. It fails with ErrConcurrencyConflict when expectedVersion is
// neither AnyVersion nor the current head.
func Sequence(currentVersion, expectedVersion int, streamID, streamType string, occurredAt time.Time, events []Event) ([]Event, error) {
	if expectedVersion < AnyVersion {
		return nil, ErrInvalidVersion
	}
	if expectedVersion != AnyVersion && expectedVersion != currentVersion {
		return nil, ErrConcurrencyConflict
	}
	out := make([]Event, len(events))
	for i, e := range events {
		e.StreamID = streamID
		e.StreamType = streamType
		e.Version = currentVersion + i + 1
		if e.OccurredAt.IsZero() {
			e.OccurredAt = occurredAt
		}
		out[i] = e
	}
	return out, nil
}

type Option func(*Store)

func WithTableName(name string) Option {
	return func(s *Store) { s.table = name }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store reads and writes the postgres events table through whatever
// connection or transaction the caller passes in.
type Store struct {
	table   string
	dialect goqu.DialectWrapper
	tracer  trace.Tracer
	logger  *slog.Logger
}

func New(opts ...Option) *Store {
	s := &Store{
		table:   defaultTableName,
		dialect: goqu.Dialect(dialectPostgres),
		tracer:  otel.Tracer("bookmanager/eventstore"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append writes events to the end of streamID and returns them with ids and
// versions filled in.
func (s *Store) Append(ctx context.Context, db sqlx.ExtContext, streamID, streamType string, expectedVersion int, events []Event) ([]Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("stream.id", streamID),
			attribute.String("stream.type", streamType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	current, err := s.Version(ctx, db, streamID)
	if err != nil {
		return nil, err
	}

	stamped, err := Sequence(current, expectedVersion, streamID, streamType, time.Now().UTC(), events)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			span.SetAttributes(
				attribute.Int("actual.version", current),
				attribute.Bool("conflict.detected", true),
			)
			s.logger.WarnContext(ctx, "concurrency conflict detected", "stream_id", streamID,
				"expected_version", expectedVersion, "actual_version", current)
		}
		return nil, err
	}

	for i := range stamped {
		query, args, err := s.insertQuery(stamped[i])
		if err != nil {
			return nil, err
		}
		if err := db.QueryRowxContext(ctx, query, args...).Scan(&stamped[i].ID); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return nil, ErrConcurrencyConflict
			}
			return nil, fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", stamped[i].ID),
			attribute.Int("event.version", stamped[i].Version),
			attribute.String("event.type", stamped[i].EventType),
		))
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return stamped, nil
}

// Load returns the events of a stream in version order.
func (s *Store) Load(ctx context.Context, db sqlx.QueryerContext, streamID string) ([]Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(attribute.String("stream.id", streamID)),
	)
	defer span.End()

	query, args, err := s.selectQuery().
		Where(goqu.C(colStreamID).Eq(streamID)).
		Order(goqu.C(colVersion).Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build load query: %w", err)
	}

	events, err := s.query(ctx, db, query, args)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// Stream pages through all events by id, for projections and exports.
func (s *Store) Stream(ctx context.Context, db sqlx.QueryerContext, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	query, args, err := s.selectQuery().
		Where(goqu.C(colID).Gt(fromID)).
		Order(goqu.C(colID).Asc()).
		Limit(uint(batchSize)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build stream query: %w", err)
	}

	events, err := s.query(ctx, db, query, args)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

// Version returns the head version of a stream, 0 when it is empty.
func (s *Store) Version(ctx context.Context, db sqlx.QueryerContext, streamID string) (int, error) {
	query, args, err := s.dialect.From(s.table).
		Prepared(true).
		Select(goqu.COALESCE(goqu.MAX(colVersion), 0).As(aliasMaxVersion)).
		Where(goqu.C(colStreamID).Eq(streamID)).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build version query: %w", err)
	}

	var version int
	if err := db.QueryRowxContext(ctx, query, args...).Scan(&version); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query current version: %w", err)
	}
	return version, nil
}

func (s *Store) selectQuery() *goqu.SelectDataset {
	return s.dialect.From(s.table).
		Prepared(true).
		Select(colID, colStreamID, colStreamType, colEventType, colPayload, colMetadata, colVersion, colOccurredAt)
}

func (s *Store) insertQuery(e Event) (string, []any, error) {
	query, args, err := s.dialect.Insert(s.table).
		Prepared(true).
		Rows(goqu.Record{
			colStreamID:   e.StreamID,
			colStreamType: e.StreamType,
			colEventType:  e.EventType,
			colPayload:    goqu.L("?::jsonb", string(e.Payload)),
			colMetadata:   goqu.L("?::jsonb", metadataJSON(e.Metadata)),
			colVersion:    e.Version,
			colOccurredAt: e.OccurredAt,
		}).
		Returning(colID).
		ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build insert query: %w", err)
	}
	return query, args, nil
}

func metadataJSON(m Metadata) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

type eventRow struct {
	ID         int64     `db:"id"`
	StreamID   string    `db:"stream_id"`
	StreamType string    `db:"stream_type"`
	EventType  string    `db:"event_type"`
	Payload    []byte    `db:"payload"`
	Metadata   Metadata  `db:"metadata"`
	Version    int       `db:"version"`
	OccurredAt time.Time `db:"occurred_at"`
}

func (s *Store) query(ctx context.Context, db sqlx.QueryerContext, query string, args []any) ([]Event, error) {
	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var r eventRow
		if err := rows.StructScan(&r); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, Event(r))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
