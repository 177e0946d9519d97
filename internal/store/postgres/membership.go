package postgres

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"bookmanager/internal/apperr"
	"bookmanager/internal/membership"
)

const (
	tableReaders = "readers"
	tableAdmins  = "admins"
)

var (
	errReaderNotFound = apperr.NotFound("reader not found")
	errUsernameTaken  = apperr.Validation("username already taken")
)

func selectReaders() *goqu.SelectDataset {
	return dialect.From(tableReaders).Prepared(true).
		Select("id", "name", "gender", "department", "reader_type", "contact", "username",
			"password_hash", "borrow_limit", "borrowed_count", "deleted", "created_at", "updated_at").
		Where(goqu.C("deleted").IsFalse())
}

type membershipView struct{ s *Store }

func (v membershipView) InTx(ctx context.Context, fn func(membership.Tx) error) error {
	return v.s.inTx(ctx, func(t *tx) error { return fn(t) })
}

func (v membershipView) GetReader(ctx context.Context, id int64) (*membership.Reader, error) {
	var r membership.Reader
	if err := get(ctx, v.s.db, &r, selectReaders().Where(goqu.C("id").Eq(id)), errReaderNotFound); err != nil {
		return nil, err
	}
	return &r, nil
}

func (v membershipView) ListReaders(ctx context.Context) ([]*membership.Reader, error) {
	out := []*membership.Reader{}
	if err := list(ctx, v.s.db, &out, selectReaders().Order(goqu.C("id").Asc())); err != nil {
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}
	return out, nil
}

func (v membershipView) FindReaderByUsername(ctx context.Context, username string) (*membership.Reader, error) {
	var r membership.Reader
	err := get(ctx, v.s.db, &r, selectReaders().Where(goqu.C("username").Eq(username)), errReaderNotFound)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (v membershipView) FindAdminByUsername(ctx context.Context, username string) (*membership.Admin, error) {
	var a membership.Admin
	ds := dialect.From(tableAdmins).Prepared(true).
		Select("id", "username", "name", "password_hash", "created_at").
		Where(goqu.C("username").Eq(username))
	err := get(ctx, v.s.db, &a, ds, errReaderNotFound)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UsernameTaken locks username for the rest of the transaction before
// looking it up in both account tables.
func (t *tx) UsernameTaken(ctx context.Context, username string) (bool, error) {
	if err := t.lockKey(ctx, lockUsername, username); err != nil {
		return false, err
	}
	var taken bool
	readers := dialect.From(tableReaders).Select(goqu.L("1")).
		Where(goqu.C("username").Eq(username), goqu.C("deleted").IsFalse())
	admins := dialect.From(tableAdmins).Select(goqu.L("1")).Where(goqu.C("username").Eq(username))
	ds := dialect.Select(goqu.L("EXISTS(?) OR EXISTS(?)", readers, admins)).Prepared(true)
	if err := get(ctx, t.tx, &taken, ds, nil); err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return taken, nil
}

func (t *tx) InsertReader(ctx context.Context, r *membership.Reader) error {
	ds := dialect.Insert(tableReaders).Prepared(true).
		Rows(goqu.Record{
			"name":          r.Name,
			"gender":        r.Gender,
			"department":    r.Department,
			"reader_type":   r.ReaderType,
			"contact":       r.Contact,
			"username":      r.Username,
			"password_hash": r.PasswordHash,
			"borrow_limit":  r.BorrowLimit,
			"created_at":    r.CreatedAt,
			"updated_at":    r.UpdatedAt,
		}).
		Returning("id")
	id, err := insertID(ctx, t.tx, ds)
	if err != nil {
		return fmt.Errorf("failed to insert reader: %w", classify(err, errUsernameTaken))
	}
	r.ID = id
	return nil
}

func (t *tx) LockReader(ctx context.Context, id int64) (*membership.Reader, error) {
	var r membership.Reader
	if err := get(ctx, t.tx, &r, selectReaders().Where(goqu.C("id").Eq(id)).ForUpdate(exp.Wait), errReaderNotFound); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateReader writes the profile. The borrowed count is owned by the
// circulation engine and is left alone.
func (t *tx) UpdateReader(ctx context.Context, r *membership.Reader) error {
	ds := dialect.Update(tableReaders).Prepared(true).
		Set(goqu.Record{
			"name":          r.Name,
			"gender":        r.Gender,
			"department":    r.Department,
			"reader_type":   r.ReaderType,
			"contact":       r.Contact,
			"username":      r.Username,
			"password_hash": r.PasswordHash,
			"borrow_limit":  r.BorrowLimit,
			"updated_at":    r.UpdatedAt,
		}).
		Where(goqu.C("id").Eq(r.ID), goqu.C("deleted").IsFalse())
	n, err := exec(ctx, t.tx, ds)
	if err != nil {
		return fmt.Errorf("failed to update reader: %w", classify(err, errUsernameTaken))
	}
	if n == 0 {
		return errReaderNotFound
	}
	return nil
}

func (t *tx) SoftDeleteReader(ctx context.Context, id int64) error {
	ds := dialect.Update(tableReaders).Prepared(true).
		Set(goqu.Record{"deleted": true}).
		Where(goqu.C("id").Eq(id), goqu.C("deleted").IsFalse())
	n, err := exec(ctx, t.tx, ds)
	if err != nil {
		return fmt.Errorf("failed to delete reader: %w", err)
	}
	if n == 0 {
		return errReaderNotFound
	}
	return nil
}

func (t *tx) ReaderHasOpenLoans(ctx context.Context, readerID int64) (bool, error) {
	return t.openLoanExists(ctx, goqu.C("reader_id").Eq(readerID))
}

func (t *tx) InsertAdmin(ctx context.Context, a *membership.Admin) error {
	ds := dialect.Insert(tableAdmins).Prepared(true).
		Rows(goqu.Record{
			"username":      a.Username,
			"name":          a.Name,
			"password_hash": a.PasswordHash,
			"created_at":    a.CreatedAt,
		}).
		Returning("id")
	id, err := insertID(ctx, t.tx, ds)
	if err != nil {
		return fmt.Errorf("failed to insert admin: %w", classify(err, errUsernameTaken))
	}
	a.ID = id
	return nil
}

func (t *tx) IncrementBorrowedCount(ctx context.Context, readerID int64) (bool, error) {
	ds := dialect.Update(tableReaders).Prepared(true).
		Set(goqu.Record{"borrowed_count": goqu.L("borrowed_count + 1")}).
		Where(
			goqu.C("id").Eq(readerID),
			goqu.C("deleted").IsFalse(),
			goqu.C("borrowed_count").Lt(goqu.I("borrow_limit")),
		)
	n, err := exec(ctx, t.tx, ds)
	if err != nil {
		return false, fmt.Errorf("failed to increment borrowed count: %w", err)
	}
	return n == 1, nil
}

func (t *tx) DecrementBorrowedCount(ctx context.Context, readerID int64) error {
	ds := dialect.Update(tableReaders).Prepared(true).
		Set(goqu.Record{"borrowed_count": goqu.L("GREATEST(borrowed_count - 1, 0)")}).
		Where(goqu.C("id").Eq(readerID))
	if _, err := exec(ctx, t.tx, ds); err != nil {
		return fmt.Errorf("failed to decrement borrowed count: %w", err)
	}
	return nil
}
