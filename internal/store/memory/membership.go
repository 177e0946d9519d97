package memory

import (
	"context"

	"bookmanager/internal/apperr"
	"bookmanager/internal/circulation"
	"bookmanager/internal/membership"
)

var errReaderNotFound = apperr.NotFound("reader not found")

type membershipView struct{ s *Store }

func (v membershipView) InTx(ctx context.Context, fn func(membership.Tx) error) error {
	return v.s.inTx(ctx, func(t *tx) error { return fn(t) })
}

func (v membershipView) GetReader(_ context.Context, id int64) (r *membership.Reader, err error) {
	v.s.read(func(st *state) {
		row, ok := st.readers[id]
		if !ok || row.Deleted {
			err = errReaderNotFound
			return
		}
		r = &row
	})
	return r, err
}

func (v membershipView) ListReaders(context.Context) (out []*membership.Reader, _ error) {
	v.s.read(func(st *state) {
		out = []*membership.Reader{}
		for _, id := range sortedKeys(st.readers) {
			row := st.readers[id]
			if !row.Deleted {
				out = append(out, &row)
			}
		}
	})
	return out, nil
}

func (v membershipView) FindReaderByUsername(_ context.Context, username string) (r *membership.Reader, _ error) {
	v.s.read(func(st *state) {
		for _, row := range st.readers {
			if !row.Deleted && row.Username == username {
				r = &row
				return
			}
		}
	})
	return r, nil
}

func (v membershipView) FindAdminByUsername(_ context.Context, username string) (a *membership.Admin, _ error) {
	v.s.read(func(st *state) {
		for _, row := range st.admins {
			if row.Username == username {
				a = &row
				return
			}
		}
	})
	return a, nil
}

func (t *tx) UsernameTaken(_ context.Context, username string) (bool, error) {
	for _, r := range t.st.readers {
		if !r.Deleted && r.Username == username {
			return true, nil
		}
	}
	for _, a := range t.st.admins {
		if a.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertReader(_ context.Context, r *membership.Reader) error {
	r.ID = t.st.nextID("readers")
	t.st.readers[r.ID] = *r
	return nil
}

func (t *tx) LockReader(_ context.Context, id int64) (*membership.Reader, error) {
	row, ok := t.st.readers[id]
	if !ok || row.Deleted {
		return nil, errReaderNotFound
	}
	return &row, nil
}

func (t *tx) UpdateReader(_ context.Context, r *membership.Reader) error {
	row, ok := t.st.readers[r.ID]
	if !ok || row.Deleted {
		return errReaderNotFound
	}
	updated := *r
	updated.BorrowedCount = row.BorrowedCount
	t.st.readers[r.ID] = updated
	return nil
}

func (t *tx) SoftDeleteReader(_ context.Context, id int64) error {
	row, ok := t.st.readers[id]
	if !ok || row.Deleted {
		return errReaderNotFound
	}
	row.Deleted = true
	t.st.readers[id] = row
	return nil
}

func (t *tx) ReaderHasOpenLoans(_ context.Context, readerID int64) (bool, error) {
	for _, l := range t.st.loans {
		if l.ReaderID == readerID && l.Status == circulation.LoanOut {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertAdmin(_ context.Context, a *membership.Admin) error {
	a.ID = t.st.nextID("admins")
	t.st.admins[a.ID] = *a
	return nil
}

func (t *tx) IncrementBorrowedCount(_ context.Context, readerID int64) (bool, error) {
	row, ok := t.st.readers[readerID]
	if !ok || row.Deleted || row.BorrowedCount >= row.BorrowLimit {
		return false, nil
	}
	row.BorrowedCount++
	t.st.readers[readerID] = row
	return true, nil
}

func (t *tx) DecrementBorrowedCount(_ context.Context, readerID int64) error {
	row, ok := t.st.readers[readerID]
	if !ok {
		return errReaderNotFound
	}
	if row.BorrowedCount > 0 {
		row.BorrowedCount--
	}
	t.st.readers[readerID] = row
	return nil
}
