package postgres

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"

	"bookmanager/internal/apperr"
	"bookmanager/internal/catalog"
	"bookmanager/internal/circulation"
	"bookmanager/internal/eventstore"
)

const (
	tableCategories = "categories"
	tableTitles     = "titles"
	tableCopies     = "copies"
)

var (
	errCategoryNotFound = apperr.NotFound("category not found")
	errTitleNotFound    = apperr.NotFound("title not found")
	errCopyNotFound     = apperr.NotFound("copy not found")
	errCodeTaken        = apperr.New(apperr.KindConflictGenerating, "category code already exists")
	errDuplicateTitle   = apperr.New(apperr.KindConflictGenerating, "title code already exists")
)

var copyColumns = []any{"id", "title_id", "barcode", "location", "status", "price_at_entry", "entry_date", "notes"}

func selectCategories() *goqu.SelectDataset {
	return dialect.From(tableCategories).Prepared(true).
		Select("id", "name", "code", "created_at", "updated_at").
		Where(goqu.C("deleted").IsFalse())
}

func selectTitles() *goqu.SelectDataset {
	return dialect.From(goqu.T(tableTitles).As("t")).Prepared(true).
		Join(goqu.T(tableCategories).As("c"), goqu.On(goqu.I("c.id").Eq(goqu.I("t.category_id")))).
		Select(
			goqu.I("t.id"), goqu.I("t.code"), goqu.I("t.title"), goqu.I("t.author"), goqu.I("t.publisher"),
			goqu.I("t.isbn"), goqu.I("t.category_id"), goqu.I("c.name").As("category"),
			goqu.I("c.code").As("category_code"), goqu.I("t.publish_date"), goqu.I("t.price"),
			goqu.I("t.entry_date"), goqu.I("t.borrow_times"), goqu.I("t.description"),
			goqu.I("t.cover_url"), goqu.I("t.deleted"), goqu.I("t.updated_at"),
		).
		Where(goqu.I("t.deleted").IsFalse())
}

func selectCopies() *goqu.SelectDataset {
	return dialect.From(tableCopies).Prepared(true).
		Select(copyColumns...).
		Where(goqu.C("deleted").IsFalse())
}

type catalogView struct{ s *Store }

func (v catalogView) InTx(ctx context.Context, fn func(catalog.Tx) error) error {
	return v.s.inTx(ctx, func(t *tx) error { return fn(t) })
}

func (v catalogView) GetCategory(ctx context.Context, id int64) (*catalog.Category, error) {
	var c catalog.Category
	if err := get(ctx, v.s.db, &c, selectCategories().Where(goqu.C("id").Eq(id)), errCategoryNotFound); err != nil {
		return nil, err
	}
	return &c, nil
}

func (v catalogView) ListCategories(ctx context.Context) ([]*catalog.Category, error) {
	out := []*catalog.Category{}
	if err := list(ctx, v.s.db, &out, selectCategories().Order(goqu.C("id").Asc())); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return out, nil
}

func (v catalogView) GetTitle(ctx context.Context, id int64) (*catalog.Title, error) {
	var t catalog.Title
	if err := get(ctx, v.s.db, &t, selectTitles().Where(goqu.I("t.id").Eq(id)), errTitleNotFound); err != nil {
		return nil, err
	}
	if err := fillInventory(ctx, v.s.db, []*catalog.Title{&t}); err != nil {
		return nil, err
	}
	return &t, nil
}

func (v catalogView) ListTitles(ctx context.Context, f catalog.TitleFilter) ([]*catalog.Title, error) {
	ds := selectTitles().Order(goqu.I("t.id").Asc())
	if f.CategoryID != 0 {
		ds = ds.Where(goqu.I("t.category_id").Eq(f.CategoryID))
	}
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}
	out := []*catalog.Title{}
	if err := list(ctx, v.s.db, &out, ds); err != nil {
		return nil, fmt.Errorf("failed to list titles: %w", err)
	}
	if err := fillInventory(ctx, v.s.db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (v catalogView) GetCopy(ctx context.Context, id int64) (*catalog.Copy, error) {
	var c catalog.Copy
	if err := get(ctx, v.s.db, &c, selectCopies().Where(goqu.C("id").Eq(id)), errCopyNotFound); err != nil {
		return nil, err
	}
	return &c, nil
}

func (v catalogView) ListCopies(ctx context.Context, titleID int64) ([]*catalog.Copy, error) {
	out := []*catalog.Copy{}
	ds := selectCopies().Where(goqu.C("title_id").Eq(titleID)).Order(goqu.C("id").Asc())
	if err := list(ctx, v.s.db, &out, ds); err != nil {
		return nil, fmt.Errorf("failed to list copies: %w", err)
	}
	return out, nil
}

func (v catalogView) LoadEvents(ctx context.Context, streamID string) ([]eventstore.Event, error) {
	return loadEvents(ctx, v.s, streamID)
}

// fillInventory derives each title's aggregate view from its copies.
func fillInventory(ctx context.Context, q sqlx.QueryerContext, titles []*catalog.Title) error {
	if len(titles) == 0 {
		return nil
	}
	byID := make(map[int64]*catalog.Title, len(titles))
	ids := make([]int64, len(titles))
	for i, t := range titles {
		byID[t.ID] = t
		ids[i] = t.ID
	}

	ds := dialect.From(tableCopies).Prepared(true).
		Select("title_id", "status", goqu.COUNT("*").As("n")).
		Where(goqu.C("title_id").In(ids), goqu.C("deleted").IsFalse()).
		GroupBy("title_id", "status")
	var rows []struct {
		TitleID int64              `db:"title_id"`
		Status  catalog.CopyStatus `db:"status"`
		N       int                `db:"n"`
	}
	if err := list(ctx, q, &rows, ds); err != nil {
		return fmt.Errorf("failed to count copies: %w", err)
	}
	for _, r := range rows {
		t := byID[r.TitleID]
		for range r.N {
			t.Inventory.Count(r.Status)
		}
	}
	return nil
}

// CategoryCodeExists locks code for the rest of the transaction before
// looking it up, so a concurrent creator checking the same code waits for
// this one to commit and then sees it taken.
func (t *tx) CategoryCodeExists(ctx context.Context, code string) (bool, error) {
	if err := t.lockKey(ctx, lockCategoryCode, code); err != nil {
		return false, err
	}
	var exists bool
	sub := dialect.From(tableCategories).Select(goqu.L("1")).Where(goqu.C("code").Eq(code))
	if err := get(ctx, t.tx, &exists, dialect.Select(goqu.L("EXISTS(?)", sub)).Prepared(true), nil); err != nil {
		return false, fmt.Errorf("failed to check category code: %w", err)
	}
	return exists, nil
}

func (t *tx) InsertCategory(ctx context.Context, c *catalog.Category) error {
	ds := dialect.Insert(tableCategories).Prepared(true).
		Rows(goqu.Record{"name": c.Name, "code": c.Code, "created_at": c.CreatedAt, "updated_at": c.UpdatedAt}).
		Returning("id")
	id, err := insertID(ctx, t.tx, ds)
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", classify(err, errCodeTaken))
	}
	c.ID = id
	return nil
}

func (t *tx) LockCategory(ctx context.Context, id int64) (*catalog.Category, error) {
	var c catalog.Category
	ds := selectCategories().Where(goqu.C("id").Eq(id)).ForUpdate(exp.Wait)
	if err := get(ctx, t.tx, &c, ds, errCategoryNotFound); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *tx) UpdateCategory(ctx context.Context, c *catalog.Category) error {
	ds := dialect.Update(tableCategories).Prepared(true).
		Set(goqu.Record{"name": c.Name, "updated_at": c.UpdatedAt}).
		Where(goqu.C("id").Eq(c.ID), goqu.C("deleted").IsFalse())
	n, err := exec(ctx, t.tx, ds)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", classify(err, nil))
	}
	if n == 0 {
		return errCategoryNotFound
	}
	return nil
}

func (t *tx) DeleteCategory(ctx context.Context, id int64) error {
	ds := dialect.Update(tableCategories).Prepared(true).
		Set(goqu.Record{"deleted": true}).
		Where(goqu.C("id").Eq(id), goqu.C("deleted").IsFalse())
	n, err := exec(ctx, t.tx, ds)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	if n == 0 {
		return errCategoryNotFound
	}
	return nil
}

func (t *tx) CountTitlesInCategory(ctx context.Context, categoryID int64) (int, error) {
	var n int
	ds := dialect.From(tableTitles).Prepared(true).
		Select(goqu.COUNT("*")).
		Where(goqu.C("category_id").Eq(categoryID), goqu.C("deleted").IsFalse())
	if err := get(ctx, t.tx, &n, ds, nil); err != nil {
		return 0, fmt.Errorf("failed to count titles: %w", err)
	}
	return n, nil
}

func (t *tx) NextTitleSeq(ctx context.Context, categoryID int64) (int, error) {
	var seq int
	ds := dialect.Update(tableCategories).Prepared(true).
		Set(goqu.Record{"next_seq": goqu.L("next_seq + 1")}).
		Where(goqu.C("id").Eq(categoryID), goqu.C("deleted").IsFalse()).
		Returning("next_seq")
	if err := get(ctx, t.tx, &seq, ds, errCategoryNotFound); err != nil {
		return 0, err
	}
	return seq, nil
}

func (t *tx) InsertTitle(ctx context.Context, title *catalog.Title) error {
	ds := dialect.Insert(tableTitles).Prepared(true).
		Rows(goqu.Record{
			"code":         title.Code,
			"title":        title.Title,
			"author":       title.Author,
			"publisher":    title.Publisher,
			"isbn":         title.ISBN,
			"category_id":  title.CategoryID,
			"publish_date": title.PublishDate,
			"price":        title.Price,
			"entry_date":   title.EntryDate,
			"description":  title.Description,
			"cover_url":    title.CoverURL,
			"updated_at":   title.UpdatedAt,
		}).
		Returning("id")
	id, err := insertID(ctx, t.tx, ds)
	if err != nil {
		return fmt.Errorf("failed to insert title: %w", classify(err, errDuplicateTitle))
	}
	title.ID = id
	return nil
}

func (t *tx) LockTitle(ctx context.Context, id int64) (*catalog.Title, error) {
	var title catalog.Title
	ds := selectTitles().Where(goqu.I("t.id").Eq(id)).ForUpdate(exp.Wait, goqu.T("t"))
	if err := get(ctx, t.tx, &title, ds, errTitleNotFound); err != nil {
		return nil, err
	}
	return &title, nil
}

func (t *tx) UpdateTitle(ctx context.Context, title *catalog.Title) error {
	ds := dialect.Update(tableTitles).Prepared(true).
		Set(goqu.Record{
			"title":        title.Title,
			"author":       title.Author,
			"publisher":    title.Publisher,
			"isbn":         title.ISBN,
			"category_id":  title.CategoryID,
			"publish_date": title.PublishDate,
			"price":        title.Price,
			"description":  title.Description,
			"cover_url":    title.CoverURL,
			"updated_at":   title.UpdatedAt,
		}).
		Where(goqu.C("id").Eq(title.ID), goqu.C("deleted").IsFalse())
	n, err := exec(ctx, t.tx, ds)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", classify(err, nil))
	}
	if n == 0 {
		return errTitleNotFound
	}
	return nil
}

func (t *tx) SoftDeleteTitle(ctx context.Context, id int64) error {
	ds := dialect.Update(tableTitles).Prepared(true).
		Set(goqu.Record{"deleted": true}).
		Where(goqu.C("id").Eq(id), goqu.C("deleted").IsFalse())
	n, err := exec(ctx, t.tx, ds)
	if err != nil {
		return fmt.Errorf("failed to delete title: %w", err)
	}
	if n == 0 {
		return errTitleNotFound
	}
	return nil
}

func (t *tx) IncrementBorrowTimes(ctx context.Context, titleID int64) error {
	ds := dialect.Update(tableTitles).Prepared(true).
		Set(goqu.Record{"borrow_times": goqu.L("borrow_times + 1")}).
		Where(goqu.C("id").Eq(titleID))
	if _, err := exec(ctx, t.tx, ds); err != nil {
		return fmt.Errorf("failed to count borrow: %w", err)
	}
	return nil
}

func (t *tx) CountCopies(ctx context.Context, titleID int64) (int, error) {
	var n int
	ds := dialect.From(tableCopies).Prepared(true).
		Select(goqu.COUNT("*")).
		Where(goqu.C("title_id").Eq(titleID), goqu.C("deleted").IsFalse())
	if err := get(ctx, t.tx, &n, ds, nil); err != nil {
		return 0, fmt.Errorf("failed to count copies: %w", err)
	}
	return n, nil
}

func (t *tx) ReserveCopySeq(ctx context.Context, titleID int64, n int) (int, error) {
	var seq int
	ds := dialect.Update(tableTitles).Prepared(true).
		Set(goqu.Record{"copy_seq": goqu.L("copy_seq + ?", n)}).
		Where(goqu.C("id").Eq(titleID)).
		Returning("copy_seq")
	if err := get(ctx, t.tx, &seq, ds, errTitleNotFound); err != nil {
		return 0, err
	}
	return seq - n, nil
}

// copyBatch keeps each multi-row INSERT well under the bind parameter limit.
const copyBatch = 500

func (t *tx) InsertCopies(ctx context.Context, copies []*catalog.Copy) error {
	for start := 0; start < len(copies); start += copyBatch {
		if err := t.insertCopyBatch(ctx, copies[start:min(start+copyBatch, len(copies))]); err != nil {
			return err
		}
	}
	return nil
}

func insertCopies(copies []*catalog.Copy) *goqu.InsertDataset {
	rows := make([]any, len(copies))
	for i, c := range copies {
		rows[i] = goqu.Record{
			"title_id":       c.TitleID,
			"barcode":        c.Barcode,
			"location":       c.Location,
			"status":         c.Status,
			"price_at_entry": c.PriceAtEntry,
			"entry_date":     c.EntryDate,
			"notes":          c.Notes,
		}
	}
	return dialect.Insert(tableCopies).Prepared(true).Rows(rows...).Returning("id")
}

func (t *tx) insertCopyBatch(ctx context.Context, copies []*catalog.Copy) error {
	var ids []int64
	if err := list(ctx, t.tx, &ids, insertCopies(copies)); err != nil {
		return fmt.Errorf("failed to insert copies: %w", classify(err, nil))
	}
	if len(ids) != len(copies) {
		return fmt.Errorf("inserted %d copies, expected %d", len(ids), len(copies))
	}
	for i, id := range ids {
		copies[i].ID = id
	}
	return nil
}

func (t *tx) LockAvailableCopies(ctx context.Context, titleID int64, limit int) ([]*catalog.Copy, error) {
	out := []*catalog.Copy{}
	ds := selectCopies().
		Where(goqu.C("title_id").Eq(titleID), goqu.C("status").Eq(catalog.CopyAvailable)).
		Order(goqu.C("id").Asc()).
		Limit(uint(limit)).
		ForUpdate(exp.Wait)
	if err := list(ctx, t.tx, &out, ds); err != nil {
		return nil, fmt.Errorf("failed to lock copies: %w", err)
	}
	return out, nil
}

func (t *tx) ClaimAvailableCopy(ctx context.Context, titleID int64) (*catalog.Copy, error) {
	var c catalog.Copy
	ds := selectCopies().
		Where(goqu.C("title_id").Eq(titleID), goqu.C("status").Eq(catalog.CopyAvailable)).
		Order(goqu.C("id").Asc()).
		Limit(1).
		ForUpdate(exp.SkipLocked)
	err := get(ctx, t.tx, &c, ds, errCopyNotFound)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim copy: %w", err)
	}
	return &c, nil
}

func (t *tx) LockCopy(ctx context.Context, id int64) (*catalog.Copy, error) {
	var c catalog.Copy
	if err := get(ctx, t.tx, &c, selectCopies().Where(goqu.C("id").Eq(id)).ForUpdate(exp.Wait), errCopyNotFound); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *tx) SetCopyStatus(ctx context.Context, id int64, from, to catalog.CopyStatus) (bool, error) {
	ds := dialect.Update(tableCopies).Prepared(true).
		Set(goqu.Record{"status": to}).
		Where(goqu.C("id").Eq(id), goqu.C("status").Eq(from), goqu.C("deleted").IsFalse())
	n, err := exec(ctx, t.tx, ds)
	if err != nil {
		return false, fmt.Errorf("failed to set copy status: %w", err)
	}
	return n == 1, nil
}

func (t *tx) DeleteCopy(ctx context.Context, id int64) error {
	ds := dialect.Update(tableCopies).Prepared(true).
		Set(goqu.Record{"deleted": true}).
		Where(goqu.C("id").Eq(id), goqu.C("deleted").IsFalse())
	n, err := exec(ctx, t.tx, ds)
	if err != nil {
		return fmt.Errorf("failed to delete copy: %w", err)
	}
	if n == 0 {
		return errCopyNotFound
	}
	return nil
}

func (t *tx) CopyHasOpenLoan(ctx context.Context, copyID int64) (bool, error) {
	return t.openLoanExists(ctx, goqu.C("copy_id").Eq(copyID))
}

func (t *tx) openLoanExists(ctx context.Context, where exp.Expression) (bool, error) {
	var exists bool
	sub := dialect.From(tableLoans).Select(goqu.L("1")).Where(where, goqu.C("status").Eq(circulation.LoanOut))
	ds := dialect.Select(goqu.L("EXISTS(?)", sub)).Prepared(true)
	if err := get(ctx, t.tx, &exists, ds, nil); err != nil {
		return false, fmt.Errorf("failed to check open loans: %w", err)
	}
	return exists, nil
}
