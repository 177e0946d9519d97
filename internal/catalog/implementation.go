// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bookmanager/internal/access"
	"bookmanager/internal/apperr"
	"bookmanager/internal/cache"
	"bookmanager/internal/eventstore"
	"bookmanager/internal/validate"
)

// TitleCacheKey is the cache key of a title's read model.
func TitleCacheKey(id int64) string {
	return "title:" + strconv.FormatInt(id, 10)
}

type Option func(*service)

func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) { s.logger = logger }
}

// service implements the Service interface.
type service struct {
	store    Store
	policy   access.Policy
	coder    *Coder
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(store Store, policy access.Policy, coder *Coder, opts ...Option) Service {
	s := &service{
		store:    store,
		policy:   policy,
		coder:    coder,
		cache:    cache.Noop{},
		cacheTTL: 5 * time.Minute,
		logger:   slog.Default(),
		tracer:   otel.Tracer("bookmanager/catalog"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateCategory(ctx context.Context, p access.Principal, in CategoryInput) (*Category, error) {
	if err := s.policy.Authorize(p, access.ActionManageCatalog, 0); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	base := strings.ToUpper(strings.TrimSpace(in.Code))
	if base == "" {
		base = s.coder.BaseCode(in.Name)
	}

	var created *Category
	err := s.store.InTx(ctx, func(tx Tx) error {
		code, err := s.coder.Unique(ctx, base, tx.CategoryCodeExists)
		if err != nil {
			return err
		}
		now := s.now()
		created = &Category{Name: in.Name, Code: code, CreatedAt: now, UpdatedAt: now}
		return tx.InsertCategory(ctx, created)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}

	s.logger.InfoContext(ctx, "category created", "category_id", created.ID, "code", created.Code)
	return created, nil
}

// RenameCategory changes the display name only. The code stays, since
// existing title codes embed it.
func (s *service) RenameCategory(ctx context.Context, p access.Principal, id int64, in CategoryInput) (*Category, error) {
	if err := s.policy.Authorize(p, access.ActionManageCatalog, 0); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	var updated *Category
	err := s.store.InTx(ctx, func(tx Tx) error {
		c, err := tx.LockCategory(ctx, id)
		if err != nil {
			return err
		}
		c.Name = in.Name
		c.UpdatedAt = s.now()
		updated = c
		return tx.UpdateCategory(ctx, c)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rename category: %w", err)
	}
	return updated, nil
}

func (s *service) DeleteCategory(ctx context.Context, p access.Principal, id int64) error {
	if err := s.policy.Authorize(p, access.ActionManageCatalog, 0); err != nil {
		return err
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.LockCategory(ctx, id); err != nil {
			return err
		}
		n, err := tx.CountTitlesInCategory(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.InvalidState(fmt.Sprintf("category has %d titles, cannot delete", n))
		}
		return tx.DeleteCategory(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	return nil
}

func (s *service) GetCategory(ctx context.Context, p access.Principal, id int64) (*Category, error) {
	if err := s.policy.Authorize(p, access.ActionViewCatalog, 0); err != nil {
		return nil, err
	}
	return s.store.GetCategory(ctx, id)
}

func (s *service) ListCategories(ctx context.Context, p access.Principal) ([]*Category, error) {
	if err := s.policy.Authorize(p, access.ActionViewCatalog, 0); err != nil {
		return nil, err
	}
	return s.store.ListCategories(ctx)
}

// AddTitle creates a title with a code taken from its category's sequence.
func (s *service) AddTitle(ctx context.Context, p access.Principal, in TitleInput) (*Title, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.add_title",
		trace.WithAttributes(attribute.Int64("category.id", in.CategoryID)),
	)
	defer span.End()

	if err := s.policy.Authorize(p, access.ActionManageCatalog, 0); err != nil {
		return nil, err
	}
	if err := validateTitle(in); err != nil {
		return nil, err
	}

	var created *Title
	err := s.store.InTx(ctx, func(tx Tx) error {
		c, err := tx.LockCategory(ctx, in.CategoryID)
		if err != nil {
			return err
		}
		seq, err := tx.NextTitleSeq(ctx, c.ID)
		if err != nil {
			return err
		}

		now := s.now()
		t := &Title{Code: TitleCode(c.Code, seq), EntryDate: now, UpdatedAt: now}
		applyTitleInput(t, in)
		t.Category, t.CategoryCode = c.Name, c.Code
		if err := tx.InsertTitle(ctx, t); err != nil {
			return err
		}

		ev, err := eventstore.NewEvent(EventTitleAdded, TitleAddedEvent{
			TitleID: t.ID, Code: t.Code, ISBN: t.ISBN, CategoryID: t.CategoryID,
		})
		if err != nil {
			return err
		}
		created = t
		return tx.AppendEvents(ctx, TitleStream(t.ID), StreamTypeTitle, 0, []eventstore.Event{ev})
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to add title: %w", err)
	}

	span.SetAttributes(attribute.String("title.code", created.Code))
	s.logger.InfoContext(ctx, "title added", "title_id", created.ID, "code", created.Code)
	return created, nil
}

func (s *service) UpdateTitle(ctx context.Context, p access.Principal, id int64, in TitleInput) (*Title, error) {
	if err := s.policy.Authorize(p, access.ActionManageCatalog, 0); err != nil {
		return nil, err
	}
	if err := validateTitle(in); err != nil {
		return nil, err
	}

	err := s.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.LockTitle(ctx, id)
		if err != nil {
			return err
		}
		if in.CategoryID != t.CategoryID {
			if _, err := tx.LockCategory(ctx, in.CategoryID); err != nil {
				return err
			}
		}
		applyTitleInput(t, in)
		t.UpdatedAt = s.now()
		return tx.UpdateTitle(ctx, t)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update title: %w", err)
	}

	s.invalidate(ctx, id)
	return s.store.GetTitle(ctx, id)
}

// RemoveTitle soft-deletes a title that no longer has copies.
func (s *service) RemoveTitle(ctx context.Context, p access.Principal, id int64) error {
	if err := s.policy.Authorize(p, access.ActionManageCatalog, 0); err != nil {
		return err
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.LockTitle(ctx, id); err != nil {
			return err
		}
		n, err := tx.CountCopies(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.InvalidState("title has copies, cannot delete")
		}
		if err := tx.SoftDeleteTitle(ctx, id); err != nil {
			return err
		}
		return tx.AppendEvents(ctx, TitleStream(id), StreamTypeTitle, eventstore.AnyVersion,
			[]eventstore.Event{eventstore.MustEvent(EventTitleRemoved, map[string]int64{"title_id": id})})
	})
	if err != nil {
		return fmt.Errorf("failed to remove title: %w", err)
	}

	s.invalidate(ctx, id)
	return nil
}

// GetTitle reads through the cache.
func (s *service) GetTitle(ctx context.Context, p access.Principal, id int64) (*Title, error) {
	if err := s.policy.Authorize(p, access.ActionViewCatalog, 0); err != nil {
		return nil, err
	}

	b, err := s.cache.GetOrLoad(ctx, TitleCacheKey(id), s.cacheTTL, func(ctx context.Context) (any, error) {
		return s.store.GetTitle(ctx, id)
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		s.logger.WarnContext(ctx, "title cache unavailable", "title_id", id, "error", err)
		return s.store.GetTitle(ctx, id)
	}

	var t Title
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("failed to decode cached title: %w", err)
	}
	return &t, nil
}

func (s *service) ListTitles(ctx context.Context, p access.Principal, f TitleFilter) ([]*Title, error) {
	if err := s.policy.Authorize(p, access.ActionViewCatalog, 0); err != nil {
		return nil, err
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, apperr.Validation("limit and offset must not be negative")
	}
	return s.store.ListTitles(ctx, f)
}

func (s *service) TitleHistory(ctx context.Context, p access.Principal, id int64) ([]eventstore.Event, error) {
	if err := s.policy.Authorize(p, access.ActionManageCatalog, 0); err != nil {
		return nil, err
	}
	if _, err := s.store.GetTitle(ctx, id); err != nil {
		return nil, err
	}
	return s.store.LoadEvents(ctx, TitleStream(id))
}

// Purchase adds quantity available copies to a title.
func (s *service) Purchase(ctx context.Context, p access.Principal, titleID int64, quantity int, supplier string) ([]*Copy, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.purchase",
		trace.WithAttributes(
			attribute.Int64("title.id", titleID),
			attribute.Int("quantity", quantity),
		),
	)
	defer span.End()

	if err := s.policy.Authorize(p, access.ActionManageCatalog, 0); err != nil {
		return nil, err
	}
	if err := validatePurchase(quantity); err != nil {
		return nil, err
	}

	var copies []*Copy
	err := s.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.LockTitle(ctx, titleID)
		if err != nil {
			return err
		}
		last, err := tx.ReserveCopySeq(ctx, t.ID, quantity)
		if err != nil {
			return err
		}
		copies = newCopies(t, quantity, last, strings.TrimSpace(supplier), s.now())
		if err := tx.InsertCopies(ctx, copies); err != nil {
			return err
		}

		barcodes := make([]string, len(copies))
		for i, c := range copies {
			barcodes[i] = c.Barcode
		}
		ev, err := eventstore.NewEvent(EventCopiesPurchased, CopiesPurchasedEvent{
			TitleID: t.ID, Quantity: quantity, Supplier: supplier, Barcodes: barcodes,
		})
		if err != nil {
			return err
		}
		return tx.AppendEvents(ctx, TitleStream(t.ID), StreamTypeTitle, eventstore.AnyVersion, []eventstore.Event{ev})
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to purchase copies: %w", err)
	}

	s.invalidate(ctx, titleID)
	s.logger.InfoContext(ctx, "copies purchased", "title_id", titleID, "quantity", quantity)
	return copies, nil
}

// Discard writes off the first quantity available copies of a title.
func (s *service) Discard(ctx context.Context, p access.Principal, titleID int64, quantity int) ([]*Copy, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.discard",
		trace.WithAttributes(
			attribute.Int64("title.id", titleID),
			attribute.Int("quantity", quantity),
		),
	)
	defer span.End()

	if err := s.policy.Authorize(p, access.ActionManageCatalog, 0); err != nil {
		return nil, err
	}
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}

	var discarded []*Copy
	err := s.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.LockTitle(ctx, titleID)
		if err != nil {
			return err
		}
		available, err := tx.LockAvailableCopies(ctx, t.ID, quantity)
		if err != nil {
			return err
		}
		if len(available) < quantity {
			return apperr.CapacityExceeded("insufficient available copies")
		}

		ids := make([]int64, len(available))
		for i, c := range available {
			ok, err := tx.SetCopyStatus(ctx, c.ID, CopyAvailable, CopyDamaged)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.InvalidState("copy not available")
			}
			c.Status = CopyDamaged
			ids[i] = c.ID
		}
		discarded = available

		ev, err := eventstore.NewEvent(EventCopiesDiscarded, CopiesDiscardedEvent{TitleID: t.ID, CopyIDs: ids})
		if err != nil {
			return err
		}
		return tx.AppendEvents(ctx, TitleStream(t.ID), StreamTypeTitle, eventstore.AnyVersion, []eventstore.Event{ev})
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to discard copies: %w", err)
	}

	s.invalidate(ctx, titleID)
	s.logger.InfoContext(ctx, "copies discarded", "title_id", titleID, "quantity", quantity)
	return discarded, nil
}

func (s *service) ListCopies(ctx context.Context, p access.Principal, titleID int64) ([]*Copy, error) {
	if err := s.policy.Authorize(p, access.ActionViewCatalog, 0); err != nil {
		return nil, err
	}
	if _, err := s.store.GetTitle(ctx, titleID); err != nil {
		return nil, err
	}
	return s.store.ListCopies(ctx, titleID)
}

func (s *service) GetCopy(ctx context.Context, p access.Principal, id int64) (*Copy, error) {
	if err := s.policy.Authorize(p, access.ActionViewCatalog, 0); err != nil {
		return nil, err
	}
	return s.store.GetCopy(ctx, id)
}

// SetCopyStatus is the administrative status change. Copies on loan are
// only ever moved by the circulation engine.
func (s *service) SetCopyStatus(ctx context.Context, p access.Principal, id int64, status CopyStatus) (*Copy, error) {
	if err := s.policy.Authorize(p, access.ActionManageCatalog, 0); err != nil {
		return nil, err
	}

	var updated *Copy
	err := s.withLockedCopy(ctx, id, func(tx Tx, c *Copy) error {
		open, err := tx.CopyHasOpenLoan(ctx, c.ID)
		if err != nil {
			return err
		}
		if err := transition(c, status, open); err != nil {
			return err
		}
		updated = c
		if c.Status == status {
			return nil
		}

		from := c.Status
		ok, err := tx.SetCopyStatus(ctx, c.ID, from, status)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidState("copy status changed concurrently")
		}
		c.Status = status

		ev, err := eventstore.NewEvent(EventCopyStatusSet, CopyStatusSetEvent{CopyID: c.ID, From: from, To: status})
		if err != nil {
			return err
		}
		return tx.AppendEvents(ctx, TitleStream(c.TitleID), StreamTypeTitle, eventstore.AnyVersion, []eventstore.Event{ev})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set copy status: %w", err)
	}

	s.invalidate(ctx, updated.TitleID)
	return updated, nil
}

func (s *service) RemoveCopy(ctx context.Context, p access.Principal, id int64) error {
	if err := s.policy.Authorize(p, access.ActionManageCatalog, 0); err != nil {
		return err
	}

	var titleID int64
	err := s.withLockedCopy(ctx, id, func(tx Tx, c *Copy) error {
		open, err := tx.CopyHasOpenLoan(ctx, c.ID)
		if err != nil {
			return err
		}
		if c.Status == CopyBorrowed || open {
			return apperr.InvalidState("copy is on loan")
		}
		if err := tx.DeleteCopy(ctx, c.ID); err != nil {
			return err
		}
		titleID = c.TitleID
		return tx.AppendEvents(ctx, TitleStream(c.TitleID), StreamTypeTitle, eventstore.AnyVersion,
			[]eventstore.Event{eventstore.MustEvent(EventCopyRemoved, map[string]any{"copy_id": c.ID, "barcode": c.Barcode})})
	})
	if err != nil {
		return fmt.Errorf("failed to remove copy: %w", err)
	}

	s.invalidate(ctx, titleID)
	return nil
}

// withLockedCopy locks the owning title before the copy, the same order the
// circulation engine uses.
func (s *service) withLockedCopy(ctx context.Context, id int64, fn func(Tx, *Copy) error) error {
	c, err := s.store.GetCopy(ctx, id)
	if err != nil {
		return err
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.LockTitle(ctx, c.TitleID); err != nil {
			return err
		}
		locked, err := tx.LockCopy(ctx, id)
		if err != nil {
			return err
		}
		return fn(tx, locked)
	})
}

func (s *service) invalidate(ctx context.Context, titleID int64) {
	if err := s.cache.Delete(ctx, TitleCacheKey(titleID)); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate title cache", "title_id", titleID, "error", err)
	}
}

func validateTitle(in TitleInput) error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	if in.Price.IsNegative() {
		return apperr.Validation("price must not be negative")
	}
	return nil
}

func applyTitleInput(t *Title, in TitleInput) {
	t.Title = strings.TrimSpace(in.Title)
	t.Author = strings.TrimSpace(in.Author)
	t.Publisher = strings.TrimSpace(in.Publisher)
	t.ISBN = strings.TrimSpace(in.ISBN)
	t.CategoryID = in.CategoryID
	t.PublishDate = in.PublishDate
	t.Price = in.Price
	t.Description = in.Description
	t.CoverURL = in.CoverURL
}
