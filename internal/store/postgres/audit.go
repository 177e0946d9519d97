package postgres

import (
	"context"
	"fmt"

	"bookmanager/internal/eventstore"
)

// Consistency queries behind audit.Probe. Each counts offending rows.
const (
	queryOrphanedBorrowed = `
		SELECT COUNT(*) FROM copies c
		WHERE c.status = 'borrowed' AND NOT c.deleted
		  AND NOT EXISTS (SELECT 1 FROM loans l WHERE l.copy_id = c.id AND l.status = 'OUT')`

	queryOpenLoansOnIdle = `
		SELECT COUNT(*) FROM loans l
		JOIN copies c ON c.id = l.copy_id
		WHERE l.status = 'OUT' AND c.status <> 'borrowed'`

	queryReaderDrift = `
		SELECT COUNT(*) FROM readers r
		WHERE r.borrowed_count <> (
			SELECT COUNT(*) FROM loans l WHERE l.reader_id = r.id AND l.status = 'OUT'
		)`

	queryReadersOverLimit = `
		SELECT COUNT(*) FROM readers WHERE NOT deleted AND borrowed_count > borrow_limit`

	queryCopiesManyLoans = `
		SELECT COUNT(*) FROM (
			SELECT copy_id FROM loans WHERE status = 'OUT' GROUP BY copy_id HAVING COUNT(*) > 1
		) dup`
)

func (s *Store) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("failed to run audit query: %w", err)
	}
	return n, nil
}

func (s *Store) OrphanedBorrowedCopies(ctx context.Context) (int64, error) {
	return s.count(ctx, queryOrphanedBorrowed)
}

func (s *Store) OpenLoansOnIdleCopies(ctx context.Context) (int64, error) {
	return s.count(ctx, queryOpenLoansOnIdle)
}

func (s *Store) ReaderCountDrift(ctx context.Context) (int64, error) {
	return s.count(ctx, queryReaderDrift)
}

func (s *Store) ReadersOverLimit(ctx context.Context) (int64, error) {
	return s.count(ctx, queryReadersOverLimit)
}

func (s *Store) CopiesWithManyOpenLoans(ctx context.Context) (int64, error) {
	return s.count(ctx, queryCopiesManyLoans)
}

// Events implements audit.EventFeed.
func (s *Store) Events(ctx context.Context, afterID int64, limit int) ([]eventstore.Event, error) {
	events, err := s.events.Stream(ctx, s.db, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to stream events: %w", err)
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	return events, nil
}
