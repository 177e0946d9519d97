package catalog

import (
	"context"

	"bookmanager/internal/eventstore"
)

// Store is the persistence the catalog service needs. Lookups of missing or
// soft-deleted rows fail with a NotFound error.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error

	GetCategory(ctx context.Context, id int64) (*Category, error)
	ListCategories(ctx context.Context) ([]*Category, error)
	GetTitle(ctx context.Context, id int64) (*Title, error)
	ListTitles(ctx context.Context, f TitleFilter) ([]*Title, error)
	GetCopy(ctx context.Context, id int64) (*Copy, error)
	ListCopies(ctx context.Context, titleID int64) ([]*Copy, error)
	LoadEvents(ctx context.Context, streamID string) ([]eventstore.Event, error)
}

// Tx is a unit of work. Lock* methods hold the row until commit.
type Tx interface {
	// CategoryCodeExists also sees codes of deleted categories.
	CategoryCodeExists(ctx context.Context, code string) (bool, error)
	InsertCategory(ctx context.Context, c *Category) error
	LockCategory(ctx context.Context, id int64) (*Category, error)
	UpdateCategory(ctx context.Context, c *Category) error
	DeleteCategory(ctx context.Context, id int64) error
	CountTitlesInCategory(ctx context.Context, categoryID int64) (int, error)
	// NextTitleSeq increments and returns the category's title counter.
	NextTitleSeq(ctx context.Context, categoryID int64) (int, error)

	InsertTitle(ctx context.Context, t *Title) error
	LockTitle(ctx context.Context, id int64) (*Title, error)
	UpdateTitle(ctx context.Context, t *Title) error
	SoftDeleteTitle(ctx context.Context, id int64) error

	CountCopies(ctx context.Context, titleID int64) (int, error)
	// ReserveCopySeq advances the title's copy counter by n and returns its
	// previous value.
	ReserveCopySeq(ctx context.Context, titleID int64, n int) (int, error)
	InsertCopies(ctx context.Context, copies []*Copy) error
	// LockAvailableCopies returns up to limit available copies in id order.
	LockAvailableCopies(ctx context.Context, titleID int64, limit int) ([]*Copy, error)
	LockCopy(ctx context.Context, id int64) (*Copy, error)
	// SetCopyStatus moves a copy from one status to another and reports
	// false when the copy was not in status from.
	SetCopyStatus(ctx context.Context, id int64, from, to CopyStatus) (bool, error)
	DeleteCopy(ctx context.Context, id int64) error
	CopyHasOpenLoan(ctx context.Context, copyID int64) (bool, error)

	AppendEvents(ctx context.Context, streamID, streamType string, expectedVersion int, events []eventstore.Event) error
}
