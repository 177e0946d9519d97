package memory

import (
	"context"

	"bookmanager/internal/catalog"
	"bookmanager/internal/circulation"
)

// The methods below implement audit.Probe.

func openLoansByCopy(st *state) map[int64]int {
	out := map[int64]int{}
	for _, l := range st.loans {
		if l.Status == circulation.LoanOut {
			out[l.CopyID]++
		}
	}
	return out
}

func (s *Store) OrphanedBorrowedCopies(context.Context) (n int64, _ error) {
	s.read(func(st *state) {
		open := openLoansByCopy(st)
		for _, c := range copiesByStatus(st, catalog.CopyBorrowed) {
			if open[c.ID] == 0 {
				n++
			}
		}
	})
	return n, nil
}

func (s *Store) OpenLoansOnIdleCopies(context.Context) (n int64, _ error) {
	s.read(func(st *state) {
		for _, l := range st.loans {
			if l.Status != circulation.LoanOut {
				continue
			}
			if c, ok := st.copies[l.CopyID]; !ok || c.Status != catalog.CopyBorrowed {
				n++
			}
		}
	})
	return n, nil
}

func (s *Store) ReaderCountDrift(context.Context) (n int64, _ error) {
	s.read(func(st *state) {
		open := map[int64]int{}
		for _, l := range st.loans {
			if l.Status == circulation.LoanOut {
				open[l.ReaderID]++
			}
		}
		for id, r := range st.readers {
			if r.BorrowedCount != open[id] {
				n++
			}
		}
	})
	return n, nil
}

func (s *Store) ReadersOverLimit(context.Context) (n int64, _ error) {
	s.read(func(st *state) {
		for _, r := range st.readers {
			if !r.Deleted && r.BorrowedCount > r.BorrowLimit {
				n++
			}
		}
	})
	return n, nil
}

func (s *Store) CopiesWithManyOpenLoans(context.Context) (n int64, _ error) {
	s.read(func(st *state) {
		for _, count := range openLoansByCopy(st) {
			if count > 1 {
				n++
			}
		}
	})
	return n, nil
}
