package circulation_test

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"bookmanager/internal/apperr"
	"bookmanager/internal/circulation"
)

// Test_Engine_KeepsInventoryAndCountsConsistent drives random borrow, return
// and renew calls and checks the counters against the open loans after each.
func Test_Engine_KeepsInventoryAndCountsConsistent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		copies := rapid.IntRange(1, 4).Draw(rt, "copies")
		lib := newLibrary(t, copies, circulation.DefaultPolicy())
		readers := []int64{
			lib.addReader("lin", rapid.IntRange(1, 3).Draw(rt, "limit_lin")).ID,
			lib.addReader("wang", rapid.IntRange(1, 3).Draw(rt, "limit_wang")).ID,
		}
		var open []int64

		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				reader := rapid.SampledFrom(readers).Draw(rt, "reader")
				l, err := lib.borrow(reader)
				if err != nil {
					if !apperr.Is(err, apperr.KindCapacityExceeded) {
						rt.Fatalf("borrow: %v", err)
					}
					break
				}
				open = append(open, l.ID)
			case 1:
				if len(open) == 0 {
					break
				}
				idx := rapid.IntRange(0, len(open)-1).Draw(rt, "return_idx")
				outcome := rapid.SampledFrom([]circulation.Outcome{circulation.OutcomeReturned, circulation.OutcomeLost, circulation.OutcomeDamaged}).Draw(rt, "outcome")
				if _, err := lib.loans.Return(lib.ctx, admin, open[idx], outcome); err != nil {
					rt.Fatalf("return: %v", err)
				}
				open = append(open[:idx], open[idx+1:]...)
			case 2:
				if len(open) == 0 {
					break
				}
				idx := rapid.IntRange(0, len(open)-1).Draw(rt, "renew_idx")
				if _, err := lib.loans.Renew(lib.ctx, admin, open[idx]); err != nil {
					rt.Fatalf("renew: %v", err)
				}
			}
			lib.clock.Advance(time.Duration(rapid.IntRange(0, 10).Draw(rt, "days")) * day)

			inv := lib.inventory()
			if err := inv.Check(); err != nil {
				rt.Fatalf("inventory: %v", err)
			}
			if inv.Borrowed != len(open) {
				rt.Fatalf("borrowed copies %d, open loans %d", inv.Borrowed, len(open))
			}
			total := 0
			for _, id := range readers {
				r := lib.reader(id)
				if r.BorrowedCount > r.BorrowLimit {
					rt.Fatalf("reader %d over limit: %d > %d", id, r.BorrowedCount, r.BorrowLimit)
				}
				total += r.BorrowedCount
			}
			if total != len(open) {
				rt.Fatalf("reader counts %d, open loans %d", total, len(open))
			}
		}
	})
}
