package circulation

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// Policy holds the lending rules.
type Policy struct {
	LoanPeriod time.Duration
	FinePerDay decimal.Decimal
	// MaxRenewals caps renewals per loan. Zero means unlimited.
	MaxRenewals int
}

func DefaultPolicy() Policy {
	return Policy{
		LoanPeriod: 30 * day,
		FinePerDay: decimal.RequireFromString("0.10"),
	}
}

// DaysLate counts started days past due, zero when returned on time.
func DaysLate(due, returned time.Time) int64 {
	late := returned.Sub(due)
	if late <= 0 {
		return 0
	}
	days := int64(late / day)
	if late%day != 0 {
		days++
	}
	return days
}

// Fine is the amount owed when a loan due at due closes at returned. A lost
// copy adds its entry price.
func (p Policy) Fine(due, returned time.Time, outcome Outcome, priceAtEntry decimal.Decimal) decimal.Decimal {
	fine := p.FinePerDay.Mul(decimal.NewFromInt(DaysLate(due, returned)))
	if outcome == OutcomeLost {
		fine = fine.Add(priceAtEntry)
	}
	if fine.IsNegative() {
		return decimal.Zero
	}
	return fine
}
