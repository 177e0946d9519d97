// Package postgres persists the library in PostgreSQL through sqlx, with
// queries built by goqu.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"bookmanager/internal/apperr"
	"bookmanager/internal/catalog"
	"bookmanager/internal/circulation"
	"bookmanager/internal/eventstore"
	"bookmanager/internal/membership"
)

//go:embed schema.sql
var schema string

var dialect = goqu.Dialect("postgres")

// builder is any goqu dataset.
type builder interface {
	ToSQL() (string, []any, error)
}

// Open connects and pings the database.
func Open(ctx context.Context, url string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate creates any missing tables and indexes.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

type Store struct {
	db     *sqlx.DB
	events *eventstore.Store
	logger *slog.Logger
}

func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		events: eventstore.New(eventstore.WithLogger(logger)),
		logger: logger,
	}
}

func (s *Store) Catalog() catalog.Store         { return catalogView{s} }
func (s *Store) Membership() membership.Store   { return membershipView{s} }
func (s *Store) Circulation() circulation.Store { return circulationView{s} }

// tx implements the Tx interfaces of every service package.
type tx struct {
	tx     *sqlx.Tx
	events *eventstore.Store
}

func (s *Store) inTx(ctx context.Context, fn func(*tx) error) (err error) {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.ErrorContext(ctx, "rollback failed", "error", rbErr)
			}
			return
		}
		if err = sqlTx.Commit(); err != nil {
			err = fmt.Errorf("failed to commit transaction: %w", err)
		}
	}()
	return fn(&tx{tx: sqlTx, events: s.events})
}

func (t *tx) AppendEvents(ctx context.Context, streamID, streamType string, expectedVersion int, events []eventstore.Event) error {
	_, err := t.events.Append(ctx, t.tx, streamID, streamType, expectedVersion, events)
	return err
}

// Postgres error codes mapped to caller errors.
const (
	codeUniqueViolation = "23505"
	codeStringTooLong   = "22001"
)

// Advisory lock classes. The second lock key is hashtext of the value, so
// transactions checking the same code or username queue behind each other.
const (
	lockCategoryCode = 1
	lockUsername     = 2
)

var errValueTooLong = apperr.Validation("value too long")

// lockKey takes a transaction-scoped advisory lock on (class, key).
func (t *tx) lockKey(ctx context.Context, class int, key string) error {
	ds := dialect.Select(goqu.Func("pg_advisory_xact_lock", class, goqu.Func("hashtext", key))).Prepared(true)
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to lock %q: %w", key, err)
	}
	return nil
}

// classify turns constraint violations into classified errors. A unique
// violation becomes conflict; other errors pass through.
func classify(err error, conflict *apperr.Error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeUniqueViolation:
		if conflict != nil {
			return apperr.Wrap(err, conflict.Kind, conflict.Message)
		}
	case codeStringTooLong:
		return apperr.Wrap(err, errValueTooLong.Kind, errValueTooLong.Message)
	}
	return err
}

// get scans the single row of b into dest, returning notFound when empty.
func get(ctx context.Context, q sqlx.QueryerContext, dest any, b builder, notFound error) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if err := sqlx.GetContext(ctx, q, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) && notFound != nil {
			return notFound
		}
		return err
	}
	return nil
}

func list(ctx context.Context, q sqlx.QueryerContext, dest any, b builder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

// exec runs b and reports the number of affected rows.
func exec(ctx context.Context, e sqlx.ExecerContext, b builder) (int64, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// insertID runs an INSERT ... RETURNING id.
func insertID(ctx context.Context, q sqlx.QueryerContext, b builder) (int64, error) {
	var id int64
	if err := get(ctx, q, &id, b, nil); err != nil {
		return 0, err
	}
	return id, nil
}

func loadEvents(ctx context.Context, s *Store, streamID string) ([]eventstore.Event, error) {
	events, err := s.events.Load(ctx, s.db, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	return events, nil
}
