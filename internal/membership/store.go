package membership

import (
	"context"

	"bookmanager/internal/eventstore"
)

// Store is the persistence the membership service needs. Lookups of missing
// or deleted accounts fail with a NotFound error.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error

	GetReader(ctx context.Context, id int64) (*Reader, error)
	ListReaders(ctx context.Context) ([]*Reader, error)
	// FindReaderByUsername and FindAdminByUsername return nil, nil when no
	// account matches.
	FindReaderByUsername(ctx context.Context, username string) (*Reader, error)
	FindAdminByUsername(ctx context.Context, username string) (*Admin, error)
}

type Tx interface {
	UsernameTaken(ctx context.Context, username string) (bool, error)
	InsertReader(ctx context.Context, r *Reader) error
	LockReader(ctx context.Context, id int64) (*Reader, error)
	UpdateReader(ctx context.Context, r *Reader) error
	SoftDeleteReader(ctx context.Context, id int64) error
	ReaderHasOpenLoans(ctx context.Context, readerID int64) (bool, error)
	InsertAdmin(ctx context.Context, a *Admin) error

	AppendEvents(ctx context.Context, streamID, streamType string, expectedVersion int, events []eventstore.Event) error
}
