package circulation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func Test_DaysLate_CountsStartedDays(t *testing.T) {
	due := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		returned time.Time
		want     int64
	}{
		{due.Add(-time.Hour), 0},
		{due, 0},
		{due.Add(time.Second), 1},
		{due.Add(day), 1},
		{due.Add(day + time.Minute), 2},
		{due.Add(10 * day), 10},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, DaysLate(due, c.returned), c.returned)
	}
}

func Test_Fine_OnTimeIsZero(t *testing.T) {
	p := DefaultPolicy()
	due := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	fine := p.Fine(due, due.Add(-day), OutcomeReturned, decimal.RequireFromString("30"))

	assert.True(t, fine.IsZero())
}

func Test_Fine_LostAddsPrice(t *testing.T) {
	p := DefaultPolicy()
	due := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	fine := p.Fine(due, due.Add(3*day), OutcomeLost, decimal.RequireFromString("12.50"))

	assert.Equal(t, "12.80", fine.StringFixed(2))
}

func Test_ParseOutcome(t *testing.T) {
	for in, want := range map[string]Outcome{"": OutcomeReturned, "returned": OutcomeReturned, "lost": OutcomeLost, "damaged": OutcomeDamaged} {
		got, ok := ParseOutcome(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := ParseOutcome("Lost")
	assert.False(t, ok)
}

func Test_Loan_IsOverdueOnlyWhileOut(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	l := Loan{Status: LoanOut, DueDate: now.Add(-time.Minute)}

	assert.True(t, l.IsOverdue(now))
	l.Status = LoanReturned
	assert.False(t, l.IsOverdue(now))
}

func Test_Fine_NeverNegativeAndMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := Policy{
			LoanPeriod: 30 * day,
			FinePerDay: decimal.NewFromInt(rapid.Int64Range(0, 500).Draw(t, "cents_per_day")).Shift(-2),
		}
		due := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
		a := due.Add(time.Duration(rapid.Int64Range(-int64(40*day), int64(400*day)).Draw(t, "first")))
		b := a.Add(time.Duration(rapid.Int64Range(0, int64(40*day)).Draw(t, "later")))
		price := decimal.NewFromInt(rapid.Int64Range(0, 10000).Draw(t, "price_cents")).Shift(-2)
		outcome := rapid.SampledFrom([]Outcome{OutcomeReturned, OutcomeLost, OutcomeDamaged}).Draw(t, "outcome")

		fa := p.Fine(due, a, outcome, price)
		fb := p.Fine(due, b, outcome, price)

		if fa.IsNegative() {
			t.Fatalf("negative fine %s", fa)
		}
		if fb.LessThan(fa) {
			t.Fatalf("fine decreased from %s to %s", fa, fb)
		}
	})
}
