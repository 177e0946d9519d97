// internal/catalog/domain.go
package catalog

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// CopyStatus is the circulation state of a single physical copy.
type CopyStatus string

const (
	CopyAvailable CopyStatus = "available"
	CopyBorrowed  CopyStatus = "borrowed"
	CopyDamaged   CopyStatus = "damaged"
	CopyLost      CopyStatus = "lost"
)

// Valid reports whether s is one of the known copy statuses.
func (s CopyStatus) Valid() bool {
	switch s {
	case CopyAvailable, CopyBorrowed, CopyDamaged, CopyLost:
		return true
	}
	return false
}

// Category groups titles and supplies the prefix of their codes.
type Category struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Code      string    `json:"code" db:"code"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Title is a catalog entry for one edition, independent of its copies.
type Title struct {
	ID           int64           `json:"id" db:"id"`
	Code         string          `json:"code" db:"code"`
	Title        string          `json:"title" db:"title"`
	Author       string          `json:"author" db:"author"`
	Publisher    string          `json:"publisher,omitempty" db:"publisher"`
	ISBN         string          `json:"isbn" db:"isbn"`
	CategoryID   int64           `json:"category_id" db:"category_id"`
	Category     string          `json:"category" db:"category"`
	CategoryCode string          `json:"category_code" db:"category_code"`
	PublishDate  *time.Time      `json:"publish_date,omitempty" db:"publish_date"`
	Price        decimal.Decimal `json:"price" db:"price"`
	EntryDate    time.Time       `json:"entry_date" db:"entry_date"`
	BorrowTimes  int             `json:"borrow_times" db:"borrow_times"`
	Description  string          `json:"description,omitempty" db:"description"`
	CoverURL     string          `json:"cover_url,omitempty" db:"cover_url"`
	Deleted      bool            `json:"-" db:"deleted"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`

	Inventory Inventory `json:"inventory" db:"-"`
}

// Copy is one physical, trackable unit of a Title.
type Copy struct {
	ID           int64           `json:"id" db:"id"`
	TitleID      int64           `json:"title_id" db:"title_id"`
	Barcode      string          `json:"barcode" db:"barcode"`
	Location     string          `json:"location" db:"location"`
	Status       CopyStatus      `json:"status" db:"status"`
	PriceAtEntry decimal.Decimal `json:"price_at_entry" db:"price_at_entry"`
	EntryDate    time.Time       `json:"entry_date" db:"entry_date"`
	Notes        string          `json:"notes,omitempty" db:"notes"`
}

// CategoryInput creates or renames a category. Code is optional on create;
// when empty it is derived from Name.
type CategoryInput struct {
	Name string `json:"name" validate:"required,max=64"`
	Code string `json:"code" validate:"omitempty,max=16,alphanum"`
}

// TitleFilter narrows ListTitles. Zero values match everything.
type TitleFilter struct {
	CategoryID int64
	Limit      int
	Offset     int
}

// TitleInput carries the editable bibliographic fields of a Title.
type TitleInput struct {
	Title       string          `json:"title" validate:"required,max=255"`
	Author      string          `json:"author" validate:"required,max=128"`
	Publisher   string          `json:"publisher" validate:"max=128"`
	ISBN        string          `json:"isbn" validate:"required,max=32"`
	CategoryID  int64           `json:"category_id" validate:"required,gt=0"`
	PublishDate *time.Time      `json:"publish_date"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description" validate:"max=4000"`
	CoverURL    string          `json:"cover_url" validate:"omitempty,url"`
}

// Event types appended to title streams.
const (
	EventTitleAdded      = "TitleAdded"
	EventCopiesPurchased = "CopiesPurchased"
	EventCopiesDiscarded = "CopiesDiscarded"
	EventCopyStatusSet   = "CopyStatusSet"
	EventCopyRemoved     = "CopyRemoved"
	EventTitleRemoved    = "TitleRemoved"

	StreamTypeTitle = "title"
)

// TitleAddedEvent is the first event of every title stream.
type TitleAddedEvent struct {
	TitleID    int64  `json:"title_id"`
	Code       string `json:"code"`
	ISBN       string `json:"isbn"`
	CategoryID int64  `json:"category_id"`
}

// CopiesPurchasedEvent is recorded when a purchase adds copies to a title.
type CopiesPurchasedEvent struct {
	TitleID  int64    `json:"title_id"`
	Quantity int      `json:"quantity"`
	Supplier string   `json:"supplier,omitempty"`
	Barcodes []string `json:"barcodes"`
}

// CopiesDiscardedEvent is recorded when available copies are written off.
type CopiesDiscardedEvent struct {
	TitleID int64   `json:"title_id"`
	CopyIDs []int64 `json:"copy_ids"`
}

// CopyStatusSetEvent is recorded on an administrative status change.
type CopyStatusSetEvent struct {
	CopyID int64      `json:"copy_id"`
	From   CopyStatus `json:"from"`
	To     CopyStatus `json:"to"`
}

// TitleStream names the event stream of a title.
func TitleStream(id int64) string {
	return "title-" + strconv.FormatInt(id, 10)
}
