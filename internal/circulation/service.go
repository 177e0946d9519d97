// internal/circulation/service.go
package circulation

import (
	"context"

	"bookmanager/internal/access"
	"bookmanager/internal/eventstore"
)

// Service defines the interface for the circulation engine.
type Service interface {
	Borrow(ctx context.Context, p access.Principal, req BorrowRequest) (*Loan, error)
	Return(ctx context.Context, p access.Principal, loanID int64, outcome Outcome) (*Loan, error)
	Renew(ctx context.Context, p access.Principal, loanID int64) (*Loan, error)
	GetLoan(ctx context.Context, p access.Principal, loanID int64) (*Loan, error)
	ListLoans(ctx context.Context, p access.Principal, f LoanFilter) ([]*Loan, error)
	LoanHistory(ctx context.Context, p access.Principal, loanID int64) ([]eventstore.Event, error)
}
