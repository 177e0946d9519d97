package memory

import (
	"context"

	"bookmanager/internal/apperr"
	"bookmanager/internal/catalog"
	"bookmanager/internal/circulation"
	"bookmanager/internal/eventstore"
)

var errLoanNotFound = apperr.NotFound("loan not found")

type circulationView struct{ s *Store }

func (v circulationView) InTx(ctx context.Context, fn func(circulation.Tx) error) error {
	return v.s.inTx(ctx, func(t *tx) error { return fn(t) })
}

func (v circulationView) GetLoan(_ context.Context, id int64) (l *circulation.Loan, err error) {
	v.s.read(func(st *state) {
		row, ok := st.loans[id]
		if !ok {
			err = errLoanNotFound
			return
		}
		l = &row
	})
	return l, err
}

func (v circulationView) ListLoans(_ context.Context, f circulation.LoanFilter) (out []*circulation.Loan, _ error) {
	v.s.read(func(st *state) {
		out = []*circulation.Loan{}
		for _, id := range sortedKeys(st.loans) {
			l := st.loans[id]
			switch {
			case f.ReaderID != 0 && l.ReaderID != f.ReaderID,
				f.TitleID != 0 && l.TitleID != f.TitleID,
				f.Status != "" && l.Status != f.Status,
				!f.DueBefore.IsZero() && !l.DueDate.Before(f.DueBefore):
				continue
			}
			out = append(out, &l)
		}
		out = page(out, f.Limit, f.Offset)
	})
	return out, nil
}

func (v circulationView) LoadEvents(_ context.Context, streamID string) (out []eventstore.Event, _ error) {
	v.s.read(func(st *state) { out = loadEvents(st, streamID) })
	return out, nil
}

func (t *tx) InsertLoan(_ context.Context, l *circulation.Loan) error {
	l.ID = t.st.nextID("loans")
	t.st.loans[l.ID] = *l
	return nil
}

func (t *tx) LockLoan(_ context.Context, id int64) (*circulation.Loan, error) {
	row, ok := t.st.loans[id]
	if !ok {
		return nil, errLoanNotFound
	}
	return &row, nil
}

func (t *tx) UpdateLoan(_ context.Context, l *circulation.Loan) (bool, error) {
	row, ok := t.st.loans[l.ID]
	if !ok || row.Version != l.Version-1 {
		return false, nil
	}
	t.st.loans[l.ID] = *l
	return true, nil
}

// copiesByStatus is shared by the audit probe.
func copiesByStatus(st *state, status catalog.CopyStatus) []copyRow {
	var out []copyRow
	for _, c := range st.copies {
		if !c.deleted && c.Status == status {
			out = append(out, c)
		}
	}
	return out
}
