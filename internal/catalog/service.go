// internal/catalog/service.go
package catalog

import (
	"context"

	"bookmanager/internal/access"
	"bookmanager/internal/eventstore"
)

// Service defines the interface for the catalog service.
type Service interface {
	CreateCategory(ctx context.Context, p access.Principal, in CategoryInput) (*Category, error)
	RenameCategory(ctx context.Context, p access.Principal, id int64, in CategoryInput) (*Category, error)
	DeleteCategory(ctx context.Context, p access.Principal, id int64) error
	GetCategory(ctx context.Context, p access.Principal, id int64) (*Category, error)
	ListCategories(ctx context.Context, p access.Principal) ([]*Category, error)

	AddTitle(ctx context.Context, p access.Principal, in TitleInput) (*Title, error)
	UpdateTitle(ctx context.Context, p access.Principal, id int64, in TitleInput) (*Title, error)
	RemoveTitle(ctx context.Context, p access.Principal, id int64) error
	GetTitle(ctx context.Context, p access.Principal, id int64) (*Title, error)
	ListTitles(ctx context.Context, p access.Principal, f TitleFilter) ([]*Title, error)
	TitleHistory(ctx context.Context, p access.Principal, id int64) ([]eventstore.Event, error)

	Purchase(ctx context.Context, p access.Principal, titleID int64, quantity int, supplier string) ([]*Copy, error)
	Discard(ctx context.Context, p access.Principal, titleID int64, quantity int) ([]*Copy, error)
	ListCopies(ctx context.Context, p access.Principal, titleID int64) ([]*Copy, error)
	GetCopy(ctx context.Context, p access.Principal, id int64) (*Copy, error)
	SetCopyStatus(ctx context.Context, p access.Principal, id int64, status CopyStatus) (*Copy, error)
	RemoveCopy(ctx context.Context, p access.Principal, id int64) error
}
