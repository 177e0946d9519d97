package circulation

import (
	"context"

	"bookmanager/internal/catalog"
	"bookmanager/internal/eventstore"
	"bookmanager/internal/membership"
)

// Store is the persistence the circulation engine needs.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error

	GetLoan(ctx context.Context, id int64) (*Loan, error)
	// ListLoans returns loans in id order.
	ListLoans(ctx context.Context, f LoanFilter) ([]*Loan, error)
	LoadEvents(ctx context.Context, streamID string) ([]eventstore.Event, error)
}

// Tx is a unit of work. Locks are taken title, then reader, then copy.
type Tx interface {
	LockTitle(ctx context.Context, id int64) (*catalog.Title, error)
	LockReader(ctx context.Context, id int64) (*membership.Reader, error)
	LockCopy(ctx context.Context, id int64) (*catalog.Copy, error)
	// ClaimAvailableCopy locks the lowest-id available copy of a title,
	// skipping rows other transactions hold. It returns nil when none is left.
	ClaimAvailableCopy(ctx context.Context, titleID int64) (*catalog.Copy, error)
	SetCopyStatus(ctx context.Context, id int64, from, to catalog.CopyStatus) (bool, error)
	IncrementBorrowTimes(ctx context.Context, titleID int64) error
	// IncrementBorrowedCount reports false when the reader is at the limit.
	IncrementBorrowedCount(ctx context.Context, readerID int64) (bool, error)
	// DecrementBorrowedCount never goes below zero.
	DecrementBorrowedCount(ctx context.Context, readerID int64) error

	InsertLoan(ctx context.Context, l *Loan) error
	LockLoan(ctx context.Context, id int64) (*Loan, error)
	// UpdateLoan writes l when the stored version equals l.Version-1.
	UpdateLoan(ctx context.Context, l *Loan) (bool, error)

	AppendEvents(ctx context.Context, streamID, streamType string, expectedVersion int, events []eventstore.Event) error
}
