// internal/circulation/domain.go
package circulation

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus is the state of a loan. OUT is the only non-terminal state.
type LoanStatus string

const (
	LoanOut      LoanStatus = "OUT"
	LoanReturned LoanStatus = "RETURNED"
	LoanLost     LoanStatus = "LOST"
	LoanDamaged  LoanStatus = "DAMAGED"
)

// Outcome is how a copy comes back when a loan is closed.
type Outcome string

const (
	OutcomeReturned Outcome = "returned"
	OutcomeLost     Outcome = "lost"
	OutcomeDamaged  Outcome = "damaged"
)

// ParseOutcome maps a request value to an Outcome. Empty means returned.
func ParseOutcome(s string) (Outcome, bool) {
	switch Outcome(s) {
	case "", OutcomeReturned:
		return OutcomeReturned, true
	case OutcomeLost, OutcomeDamaged:
		return Outcome(s), true
	}
	return "", false
}

func (o Outcome) status() LoanStatus {
	switch o {
	case OutcomeLost:
		return LoanLost
	case OutcomeDamaged:
		return LoanDamaged
	}
	return LoanReturned
}

// Loan records one copy lent to one reader. The title fields are a snapshot
// taken when the loan opened and do not follow later catalog edits.
type Loan struct {
	ID          int64           `json:"id" db:"id"`
	TitleID     int64           `json:"title_id" db:"title_id"`
	ReaderID    int64           `json:"reader_id" db:"reader_id"`
	CopyID      int64           `json:"copy_id" db:"copy_id"`
	Barcode     string          `json:"barcode" db:"barcode"`
	Status      LoanStatus      `json:"status" db:"status"`
	BorrowDate  time.Time       `json:"borrow_date" db:"borrow_date"`
	DueDate     time.Time       `json:"due_date" db:"due_date"`
	ReturnDate  *time.Time      `json:"return_date,omitempty" db:"return_date"`
	OverdueFine decimal.Decimal `json:"overdue_fine" db:"overdue_fine"`
	RenewCount  int             `json:"renew_count" db:"renew_count"`
	Version     int             `json:"version" db:"version"`

	Title     string `json:"title" db:"title"`
	Author    string `json:"author" db:"author"`
	ISBN      string `json:"isbn" db:"isbn"`
	Publisher string `json:"publisher,omitempty" db:"publisher"`
	Category  string `json:"category" db:"category"`
	CoverURL  string `json:"cover_url,omitempty" db:"cover_url"`

	Overdue bool `json:"overdue" db:"-"`
}

// IsOverdue reports whether an open loan is past due at now.
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.Status == LoanOut && now.After(l.DueDate)
}

// BorrowRequest opens a loan. CopyID is optional; when zero the lowest-id
// available copy of the title is taken.
type BorrowRequest struct {
	TitleID  int64 `json:"title_id" validate:"required,gt=0"`
	ReaderID int64 `json:"reader_id" validate:"required,gt=0"`
	CopyID   int64 `json:"copy_id,omitempty" validate:"gte=0"`
}

// LoanFilter narrows ListLoans. Zero values mean no restriction.
type LoanFilter struct {
	ReaderID    int64      `json:"reader_id"`
	TitleID     int64      `json:"title_id"`
	Status      LoanStatus `json:"status"`
	OverdueOnly bool       `json:"overdue_only"`
	Limit       int        `json:"limit"`
	Offset      int        `json:"offset"`

	// DueBefore keeps loans due strictly before it. Set by the engine.
	DueBefore time.Time `json:"-"`
}

// Event types appended to loan streams.
const (
	EventLoanOpened  = "LoanOpened"
	EventLoanRenewed = "LoanRenewed"
	EventLoanClosed  = "LoanClosed"

	StreamTypeLoan = "loan"
)

// LoanOpenedEvent is published when a copy is lent.
type LoanOpenedEvent struct {
	LoanID   int64     `json:"loan_id"`
	TitleID  int64     `json:"title_id"`
	ReaderID int64     `json:"reader_id"`
	CopyID   int64     `json:"copy_id"`
	DueDate  time.Time `json:"due_date"`
	ActorID  int64     `json:"actor_id"`
}

// LoanRenewedEvent is published when a loan's due date moves.
type LoanRenewedEvent struct {
	LoanID     int64     `json:"loan_id"`
	DueDate    time.Time `json:"due_date"`
	RenewCount int       `json:"renew_count"`
}

// LoanClosedEvent is published when a loan reaches a terminal state.
type LoanClosedEvent struct {
	LoanID     int64           `json:"loan_id"`
	Status     LoanStatus      `json:"status"`
	ReturnDate time.Time       `json:"return_date"`
	Fine       decimal.Decimal `json:"fine"`
}

// LoanStream names the event stream of a loan.
func LoanStream(id int64) string {
	return "loan-" + strconv.FormatInt(id, 10)
}
