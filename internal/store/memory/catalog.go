package memory

import (
	"context"

	"bookmanager/internal/apperr"
	"bookmanager/internal/catalog"
	"bookmanager/internal/circulation"
	"bookmanager/internal/eventstore"
)

var (
	errCategoryNotFound = apperr.NotFound("category not found")
	errTitleNotFound    = apperr.NotFound("title not found")
	errCopyNotFound     = apperr.NotFound("copy not found")
)

type catalogView struct{ s *Store }

func (v catalogView) InTx(ctx context.Context, fn func(catalog.Tx) error) error {
	return v.s.inTx(ctx, func(t *tx) error { return fn(t) })
}

func (v catalogView) GetCategory(_ context.Context, id int64) (c *catalog.Category, err error) {
	v.s.read(func(st *state) {
		row, ok := st.categories[id]
		if !ok || row.deleted {
			err = errCategoryNotFound
			return
		}
		cat := row.Category
		c = &cat
	})
	return c, err
}

func (v catalogView) ListCategories(context.Context) (out []*catalog.Category, _ error) {
	v.s.read(func(st *state) {
		out = []*catalog.Category{}
		for _, id := range sortedKeys(st.categories) {
			row := st.categories[id]
			if row.deleted {
				continue
			}
			cat := row.Category
			out = append(out, &cat)
		}
	})
	return out, nil
}

func (v catalogView) GetTitle(_ context.Context, id int64) (t *catalog.Title, err error) {
	v.s.read(func(st *state) {
		row, ok := st.titles[id]
		if !ok || row.Deleted {
			err = errTitleNotFound
			return
		}
		t = titleView(st, row)
	})
	return t, err
}

func (v catalogView) ListTitles(_ context.Context, f catalog.TitleFilter) (out []*catalog.Title, _ error) {
	v.s.read(func(st *state) {
		out = []*catalog.Title{}
		for _, id := range sortedKeys(st.titles) {
			row := st.titles[id]
			if row.Deleted || (f.CategoryID != 0 && row.CategoryID != f.CategoryID) {
				continue
			}
			out = append(out, titleView(st, row))
		}
		out = page(out, f.Limit, f.Offset)
	})
	return out, nil
}

func (v catalogView) GetCopy(_ context.Context, id int64) (c *catalog.Copy, err error) {
	v.s.read(func(st *state) {
		row, ok := st.copies[id]
		if !ok || row.deleted {
			err = errCopyNotFound
			return
		}
		cp := row.Copy
		c = &cp
	})
	return c, err
}

func (v catalogView) ListCopies(_ context.Context, titleID int64) (out []*catalog.Copy, _ error) {
	v.s.read(func(st *state) {
		out = []*catalog.Copy{}
		for _, id := range sortedKeys(st.copies) {
			row := st.copies[id]
			if row.deleted || row.TitleID != titleID {
				continue
			}
			cp := row.Copy
			out = append(out, &cp)
		}
	})
	return out, nil
}

func (v catalogView) LoadEvents(_ context.Context, streamID string) (out []eventstore.Event, _ error) {
	v.s.read(func(st *state) { out = loadEvents(st, streamID) })
	return out, nil
}

// titleView joins a title with its category and derives its inventory.
func titleView(st *state, row titleRow) *catalog.Title {
	t := row.Title
	if c, ok := st.categories[t.CategoryID]; ok {
		t.Category, t.CategoryCode = c.Name, c.Code
	}
	t.Inventory = catalog.Inventory{}
	for _, c := range st.copies {
		if !c.deleted && c.TitleID == t.ID {
			t.Inventory.Count(c.Status)
		}
	}
	return &t
}

func (t *tx) CategoryCodeExists(_ context.Context, code string) (bool, error) {
	for _, c := range t.st.categories {
		if c.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertCategory(_ context.Context, c *catalog.Category) error {
	c.ID = t.st.nextID("categories")
	t.st.categories[c.ID] = categoryRow{Category: *c}
	return nil
}

func (t *tx) LockCategory(_ context.Context, id int64) (*catalog.Category, error) {
	row, ok := t.st.categories[id]
	if !ok || row.deleted {
		return nil, errCategoryNotFound
	}
	c := row.Category
	return &c, nil
}

func (t *tx) UpdateCategory(_ context.Context, c *catalog.Category) error {
	row, ok := t.st.categories[c.ID]
	if !ok || row.deleted {
		return errCategoryNotFound
	}
	row.Name, row.UpdatedAt = c.Name, c.UpdatedAt
	t.st.categories[c.ID] = row
	return nil
}

func (t *tx) DeleteCategory(_ context.Context, id int64) error {
	row, ok := t.st.categories[id]
	if !ok || row.deleted {
		return errCategoryNotFound
	}
	row.deleted = true
	t.st.categories[id] = row
	return nil
}

func (t *tx) CountTitlesInCategory(_ context.Context, categoryID int64) (int, error) {
	n := 0
	for _, row := range t.st.titles {
		if !row.Deleted && row.CategoryID == categoryID {
			n++
		}
	}
	return n, nil
}

func (t *tx) NextTitleSeq(_ context.Context, categoryID int64) (int, error) {
	row, ok := t.st.categories[categoryID]
	if !ok || row.deleted {
		return 0, errCategoryNotFound
	}
	row.nextSeq++
	t.st.categories[categoryID] = row
	return row.nextSeq, nil
}

func (t *tx) InsertTitle(_ context.Context, title *catalog.Title) error {
	title.ID = t.st.nextID("titles")
	row := titleRow{Title: *title}
	row.Inventory = catalog.Inventory{}
	t.st.titles[title.ID] = row
	return nil
}

func (t *tx) LockTitle(_ context.Context, id int64) (*catalog.Title, error) {
	row, ok := t.st.titles[id]
	if !ok || row.Deleted {
		return nil, errTitleNotFound
	}
	return titleView(t.st, row), nil
}

func (t *tx) UpdateTitle(_ context.Context, title *catalog.Title) error {
	row, ok := t.st.titles[title.ID]
	if !ok || row.Deleted {
		return errTitleNotFound
	}
	borrowTimes := row.BorrowTimes
	row.Title = *title
	row.BorrowTimes = borrowTimes
	row.Inventory = catalog.Inventory{}
	t.st.titles[title.ID] = row
	return nil
}

func (t *tx) SoftDeleteTitle(_ context.Context, id int64) error {
	row, ok := t.st.titles[id]
	if !ok || row.Deleted {
		return errTitleNotFound
	}
	row.Deleted = true
	t.st.titles[id] = row
	return nil
}

func (t *tx) IncrementBorrowTimes(_ context.Context, titleID int64) error {
	row, ok := t.st.titles[titleID]
	if !ok {
		return errTitleNotFound
	}
	row.BorrowTimes++
	t.st.titles[titleID] = row
	return nil
}

func (t *tx) CountCopies(_ context.Context, titleID int64) (int, error) {
	n := 0
	for _, c := range t.st.copies {
		if !c.deleted && c.TitleID == titleID {
			n++
		}
	}
	return n, nil
}

func (t *tx) ReserveCopySeq(_ context.Context, titleID int64, n int) (int, error) {
	row, ok := t.st.titles[titleID]
	if !ok {
		return 0, errTitleNotFound
	}
	last := row.copySeq
	row.copySeq += n
	t.st.titles[titleID] = row
	return last, nil
}

func (t *tx) InsertCopies(_ context.Context, copies []*catalog.Copy) error {
	for _, c := range copies {
		c.ID = t.st.nextID("copies")
		t.st.copies[c.ID] = copyRow{Copy: *c}
	}
	return nil
}

func (t *tx) LockAvailableCopies(_ context.Context, titleID int64, limit int) ([]*catalog.Copy, error) {
	out := []*catalog.Copy{}
	for _, id := range sortedKeys(t.st.copies) {
		if len(out) == limit {
			break
		}
		row := t.st.copies[id]
		if !row.deleted && row.TitleID == titleID && row.Status == catalog.CopyAvailable {
			c := row.Copy
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *tx) ClaimAvailableCopy(ctx context.Context, titleID int64) (*catalog.Copy, error) {
	copies, err := t.LockAvailableCopies(ctx, titleID, 1)
	if err != nil || len(copies) == 0 {
		return nil, err
	}
	return copies[0], nil
}

func (t *tx) LockCopy(_ context.Context, id int64) (*catalog.Copy, error) {
	row, ok := t.st.copies[id]
	if !ok || row.deleted {
		return nil, errCopyNotFound
	}
	c := row.Copy
	return &c, nil
}

func (t *tx) SetCopyStatus(_ context.Context, id int64, from, to catalog.CopyStatus) (bool, error) {
	row, ok := t.st.copies[id]
	if !ok || row.deleted || row.Status != from {
		return false, nil
	}
	row.Status = to
	t.st.copies[id] = row
	return true, nil
}

func (t *tx) DeleteCopy(_ context.Context, id int64) error {
	row, ok := t.st.copies[id]
	if !ok || row.deleted {
		return errCopyNotFound
	}
	row.deleted = true
	t.st.copies[id] = row
	return nil
}

func (t *tx) CopyHasOpenLoan(_ context.Context, copyID int64) (bool, error) {
	for _, l := range t.st.loans {
		if l.CopyID == copyID && l.Status == circulation.LoanOut {
			return true, nil
		}
	}
	return false, nil
}
