package catalog_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookmanager/internal/access"
	"bookmanager/internal/apperr"
	"bookmanager/internal/catalog"
	"bookmanager/internal/logging"
	"bookmanager/internal/store/memory"
)

var (
	admin  = access.Principal{ID: 1, Role: access.RoleAdmin, Username: "admin"}
	reader = access.Principal{ID: 9, Role: access.RoleReader, Username: "lin"}
	today  = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
)

func newService(t *testing.T, maxAttempts int) catalog.Service {
	t.Helper()
	now := func() time.Time { return today }
	store := memory.New(memory.WithClock(now))
	return catalog.NewService(store.Catalog(), access.DefaultPolicy(), catalog.NewCoder(maxAttempts),
		catalog.WithClock(now),
		catalog.WithLogger(logging.Discard()),
	)
}

func addTitle(t *testing.T, svc catalog.Service, categoryID int64) *catalog.Title {
	t.Helper()
	title, err := svc.AddTitle(context.Background(), admin, catalog.TitleInput{
		Title:      "Solaris",
		Author:     "Stanislaw Lem",
		ISBN:       "9780156027601",
		CategoryID: categoryID,
		Price:      decimal.RequireFromString("25.00"),
	})
	require.NoError(t, err)
	return title
}

func Test_CreateCategory_DerivesUniqueCodes(t *testing.T) {
	// arrange
	svc := newService(t, 10)
	ctx := context.Background()

	// act
	first, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
	require.NoError(t, err)
	second, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Speculative Fiction"})
	require.NoError(t, err)
	han, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "计算机科学"})
	require.NoError(t, err)

	// assert
	assert.Equal(t, "SF", first.Code)
	assert.Equal(t, "SF1", second.Code)
	assert.Equal(t, "JSJKX", han.Code)
}

func Test_CreateCategory_ExplicitCodeIsUppercased(t *testing.T) {
	svc := newService(t, 10)

	c, err := svc.CreateCategory(context.Background(), admin, catalog.CategoryInput{Name: "Poetry", Code: "poe"})

	require.NoError(t, err)
	assert.Equal(t, "POE", c.Code)
}

func Test_CreateCategory_ExhaustedCodes(t *testing.T) {
	svc := newService(t, 1)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
		require.NoError(t, err)
	}

	_, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})

	assert.True(t, apperr.Is(err, apperr.KindConflictGenerating))
}

func Test_CreateCategory_ForbiddenForReaders(t *testing.T) {
	svc := newService(t, 10)

	_, err := svc.CreateCategory(context.Background(), reader, catalog.CategoryInput{Name: "Poetry"})

	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func Test_AddTitle_NumbersWithinCategory(t *testing.T) {
	svc := newService(t, 10)
	ctx := context.Background()
	c, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
	require.NoError(t, err)

	a := addTitle(t, svc, c.ID)
	b := addTitle(t, svc, c.ID)

	assert.Equal(t, "SF-0001", a.Code)
	assert.Equal(t, "SF-0002", b.Code)
	assert.Equal(t, "Science Fiction", a.Category)
}

func Test_AddTitle_UnknownCategory(t *testing.T) {
	svc := newService(t, 10)

	_, err := svc.AddTitle(context.Background(), admin, catalog.TitleInput{Title: "x", Author: "y", ISBN: "z", CategoryID: 42})

	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func Test_DeleteCategory_RefusedWhileTitlesExist(t *testing.T) {
	svc := newService(t, 10)
	ctx := context.Background()
	c, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
	require.NoError(t, err)
	addTitle(t, svc, c.ID)

	err = svc.DeleteCategory(ctx, admin, c.ID)

	assert.True(t, apperr.Is(err, apperr.KindInvalidState))
}

func Test_Purchase_NumbersBarcodesAcrossPurchases(t *testing.T) {
	// arrange
	svc := newService(t, 10)
	ctx := context.Background()
	c, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
	require.NoError(t, err)
	title := addTitle(t, svc, c.ID)

	// act
	first, err := svc.Purchase(ctx, admin, title.ID, 2, "Acme Books")
	require.NoError(t, err)
	second, err := svc.Purchase(ctx, admin, title.ID, 1, "")
	require.NoError(t, err)

	// assert
	assert.Equal(t, catalog.Barcode(title.ID, today, 1), first[0].Barcode)
	assert.Equal(t, catalog.Barcode(title.ID, today, 3), second[0].Barcode)
	assert.Equal(t, "purchased from Acme Books", first[0].Notes)
	assert.True(t, first[0].PriceAtEntry.Equal(decimal.RequireFromString("25.00")))

	got, err := svc.GetTitle(ctx, admin, title.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.Inventory{Total: 3, Stock: 3}, got.Inventory)
}

func Test_Purchase_RejectsNonPositiveQuantity(t *testing.T) {
	svc := newService(t, 10)
	ctx := context.Background()
	c, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
	require.NoError(t, err)
	title := addTitle(t, svc, c.ID)

	_, err = svc.Purchase(ctx, admin, title.ID, 0, "")

	assert.True(t, apperr.Is(err, apperr.KindValidationFailed))
}

func Test_Purchase_CapsQuantity(t *testing.T) {
	// arrange
	svc := newService(t, 10)
	ctx := context.Background()
	c, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
	require.NoError(t, err)
	title := addTitle(t, svc, c.ID)

	// act
	_, tooMany := svc.Purchase(ctx, admin, title.ID, catalog.MaxPurchaseQuantity+1, "")
	copies, err := svc.Purchase(ctx, admin, title.ID, catalog.MaxPurchaseQuantity, "")

	// assert
	assert.True(t, apperr.Is(tooMany, apperr.KindValidationFailed))
	require.NoError(t, err)
	assert.Len(t, copies, catalog.MaxPurchaseQuantity)
}

func Test_AddTitle_RejectsFieldsWiderThanColumns(t *testing.T) {
	svc := newService(t, 10)
	ctx := context.Background()
	c, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
	require.NoError(t, err)
	in := catalog.TitleInput{
		Title:      "Solaris",
		ISBN:       "9780156027601",
		CategoryID: c.ID,
		Price:      decimal.RequireFromString("25.00"),
	}

	in.Author = strings.Repeat("a", 129)
	_, longAuthor := svc.AddTitle(ctx, admin, in)
	in.Author, in.Publisher = "Stanislaw Lem", strings.Repeat("p", 129)
	_, longPublisher := svc.AddTitle(ctx, admin, in)

	assert.True(t, apperr.Is(longAuthor, apperr.KindValidationFailed))
	assert.True(t, apperr.Is(longPublisher, apperr.KindValidationFailed))
}

func Test_CreateCategory_LongNameYieldsCappedCode(t *testing.T) {
	svc := newService(t, 10)
	ctx := context.Background()
	name := strings.Repeat("a ", 20)

	first, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: name})
	require.NoError(t, err)
	second, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: name + "b"})
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("A", catalog.MaxCodeLen), first.Code)
	assert.Equal(t, strings.Repeat("A", catalog.MaxCodeLen-1)+"1", second.Code)
}

func Test_Discard_NeedsEnoughAvailableCopies(t *testing.T) {
	// arrange
	svc := newService(t, 10)
	ctx := context.Background()
	c, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
	require.NoError(t, err)
	title := addTitle(t, svc, c.ID)
	_, err = svc.Purchase(ctx, admin, title.ID, 2, "")
	require.NoError(t, err)

	// act
	_, tooMany := svc.Discard(ctx, admin, title.ID, 3)
	discarded, err := svc.Discard(ctx, admin, title.ID, 1)

	// assert
	assert.True(t, apperr.Is(tooMany, apperr.KindCapacityExceeded))
	require.NoError(t, err)
	require.Len(t, discarded, 1)
	got, err := svc.GetTitle(ctx, admin, title.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.Inventory{Total: 1, Stock: 1, Damaged: 1}, got.Inventory)
}

func Test_SetCopyStatus_AdministrativeChanges(t *testing.T) {
	svc := newService(t, 10)
	ctx := context.Background()
	c, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
	require.NoError(t, err)
	title := addTitle(t, svc, c.ID)
	copies, err := svc.Purchase(ctx, admin, title.ID, 1, "")
	require.NoError(t, err)

	damaged, err := svc.SetCopyStatus(ctx, admin, copies[0].ID, catalog.CopyDamaged)
	require.NoError(t, err)
	_, toBorrowed := svc.SetCopyStatus(ctx, admin, copies[0].ID, catalog.CopyBorrowed)
	repaired, err := svc.SetCopyStatus(ctx, admin, copies[0].ID, catalog.CopyAvailable)
	require.NoError(t, err)

	assert.Equal(t, catalog.CopyDamaged, damaged.Status)
	assert.True(t, apperr.Is(toBorrowed, apperr.KindValidationFailed))
	assert.Equal(t, catalog.CopyAvailable, repaired.Status)
}

func Test_RemoveTitle_OnlyWithoutCopies(t *testing.T) {
	// arrange
	svc := newService(t, 10)
	ctx := context.Background()
	c, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
	require.NoError(t, err)
	title := addTitle(t, svc, c.ID)
	copies, err := svc.Purchase(ctx, admin, title.ID, 1, "")
	require.NoError(t, err)

	// act
	refused := svc.RemoveTitle(ctx, admin, title.ID)
	require.NoError(t, svc.RemoveCopy(ctx, admin, copies[0].ID))
	removed := svc.RemoveTitle(ctx, admin, title.ID)

	// assert
	assert.True(t, apperr.Is(refused, apperr.KindInvalidState))
	assert.NoError(t, removed)
	_, err = svc.GetTitle(ctx, admin, title.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func Test_TitleHistory_ListsCatalogEvents(t *testing.T) {
	svc := newService(t, 10)
	ctx := context.Background()
	c, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
	require.NoError(t, err)
	title := addTitle(t, svc, c.ID)
	_, err = svc.Purchase(ctx, admin, title.ID, 2, "")
	require.NoError(t, err)
	_, err = svc.Discard(ctx, admin, title.ID, 1)
	require.NoError(t, err)

	events, err := svc.TitleHistory(ctx, admin, title.ID)

	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, catalog.EventTitleAdded, events[0].EventType)
	assert.Equal(t, catalog.EventCopiesPurchased, events[1].EventType)
	assert.Equal(t, catalog.EventCopiesDiscarded, events[2].EventType)
	assert.Equal(t, 3, events[2].Version)
}

func Test_ListTitles_FiltersByCategoryAndPages(t *testing.T) {
	svc := newService(t, 10)
	ctx := context.Background()
	sf, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
	require.NoError(t, err)
	poetry, err := svc.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Poetry"})
	require.NoError(t, err)
	addTitle(t, svc, sf.ID)
	addTitle(t, svc, sf.ID)
	addTitle(t, svc, poetry.ID)

	inSF, err := svc.ListTitles(ctx, reader, catalog.TitleFilter{CategoryID: sf.ID})
	require.NoError(t, err)
	paged, err := svc.ListTitles(ctx, reader, catalog.TitleFilter{Limit: 1, Offset: 2})
	require.NoError(t, err)

	assert.Len(t, inSF, 2)
	require.Len(t, paged, 1)
	assert.Equal(t, poetry.ID, paged[0].CategoryID)
}
