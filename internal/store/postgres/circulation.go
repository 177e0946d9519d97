package postgres

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"bookmanager/internal/apperr"
	"bookmanager/internal/circulation"
	"bookmanager/internal/eventstore"
)

const tableLoans = "loans"

var errLoanNotFound = apperr.NotFound("loan not found")

func selectLoans() *goqu.SelectDataset {
	return dialect.From(tableLoans).Prepared(true).
		Select("id", "title_id", "reader_id", "copy_id", "barcode", "status", "borrow_date", "due_date",
			"return_date", "overdue_fine", "renew_count", "version", "title", "author", "isbn",
			"publisher", "category", "cover_url")
}

func loanRecord(l *circulation.Loan) goqu.Record {
	return goqu.Record{
		"title_id":     l.TitleID,
		"reader_id":    l.ReaderID,
		"copy_id":      l.CopyID,
		"barcode":      l.Barcode,
		"status":       l.Status,
		"borrow_date":  l.BorrowDate,
		"due_date":     l.DueDate,
		"return_date":  l.ReturnDate,
		"overdue_fine": l.OverdueFine,
		"renew_count":  l.RenewCount,
		"version":      l.Version,
		"title":        l.Title,
		"author":       l.Author,
		"isbn":         l.ISBN,
		"publisher":    l.Publisher,
		"category":     l.Category,
		"cover_url":    l.CoverURL,
	}
}

type circulationView struct{ s *Store }

func (v circulationView) InTx(ctx context.Context, fn func(circulation.Tx) error) error {
	return v.s.inTx(ctx, func(t *tx) error { return fn(t) })
}

func (v circulationView) GetLoan(ctx context.Context, id int64) (*circulation.Loan, error) {
	var l circulation.Loan
	if err := get(ctx, v.s.db, &l, selectLoans().Where(goqu.C("id").Eq(id)), errLoanNotFound); err != nil {
		return nil, err
	}
	return &l, nil
}

func (v circulationView) ListLoans(ctx context.Context, f circulation.LoanFilter) ([]*circulation.Loan, error) {
	var where []exp.Expression
	if f.ReaderID != 0 {
		where = append(where, goqu.C("reader_id").Eq(f.ReaderID))
	}
	if f.TitleID != 0 {
		where = append(where, goqu.C("title_id").Eq(f.TitleID))
	}
	if f.Status != "" {
		where = append(where, goqu.C("status").Eq(f.Status))
	}
	if !f.DueBefore.IsZero() {
		where = append(where, goqu.C("due_date").Lt(f.DueBefore))
	}

	ds := selectLoans().Where(where...).Order(goqu.C("id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}
	out := []*circulation.Loan{}
	if err := list(ctx, v.s.db, &out, ds); err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return out, nil
}

func (v circulationView) LoadEvents(ctx context.Context, streamID string) ([]eventstore.Event, error) {
	return loadEvents(ctx, v.s, streamID)
}

func (t *tx) InsertLoan(ctx context.Context, l *circulation.Loan) error {
	id, err := insertID(ctx, t.tx, dialect.Insert(tableLoans).Prepared(true).Rows(loanRecord(l)).Returning("id"))
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	l.ID = id
	return nil
}

func (t *tx) LockLoan(ctx context.Context, id int64) (*circulation.Loan, error) {
	var l circulation.Loan
	if err := get(ctx, t.tx, &l, selectLoans().Where(goqu.C("id").Eq(id)).ForUpdate(exp.Wait), errLoanNotFound); err != nil {
		return nil, err
	}
	return &l, nil
}

func (t *tx) UpdateLoan(ctx context.Context, l *circulation.Loan) (bool, error) {
	ds := dialect.Update(tableLoans).Prepared(true).
		Set(loanRecord(l)).
		Where(goqu.C("id").Eq(l.ID), goqu.C("version").Eq(l.Version-1))
	n, err := exec(ctx, t.tx, ds)
	if err != nil {
		return false, fmt.Errorf("failed to update loan: %w", err)
	}
	return n == 1, nil
}
