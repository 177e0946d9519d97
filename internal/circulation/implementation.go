// internal/circulation/implementation.go
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bookmanager/internal/access"
	"bookmanager/internal/apperr"
	"bookmanager/internal/cache"
	"bookmanager/internal/catalog"
	"bookmanager/internal/eventstore"
	"bookmanager/internal/validate"
)

var (
	errNoCopy         = apperr.CapacityExceeded("no available copy")
	errLoanLimit      = apperr.CapacityExceeded("loan limit exceeded")
	errCopyNotReady   = apperr.InvalidState("copy not available")
	errAlreadyClosed  = apperr.InvalidState("loan already returned")
	errNotOpen        = apperr.InvalidState("loan not open")
	errRenewLimit     = apperr.CapacityExceeded("renewal limit reached")
	errLoanConflict   = apperr.New(apperr.KindInvalidState, "loan changed concurrently")
	errCopyOtherTitle = apperr.Validation("copy does not belong to title")
)

// Recorder receives the outcome of every engine operation.
type Recorder interface {
	LoanOperation(op string, err error)
}

type nopRecorder struct{}

func (nopRecorder) LoanOperation(string, error) {}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) { s.logger = logger }
}

// WithCache lets the engine evict title read models it changes.
func WithCache(c cache.Cache) Option {
	return func(s *service) { s.cache = c }
}

func WithRecorder(r Recorder) Option {
	return func(s *service) { s.recorder = r }
}

// service implements the Service interface.
type service struct {
	store    Store
	access   access.Policy
	rules    Policy
	cache    cache.Cache
	recorder Recorder
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService creates a new circulation engine.
func NewService(store Store, accessPolicy access.Policy, rules Policy, opts ...Option) Service {
	s := &service{
		store:    store,
		access:   accessPolicy,
		rules:    rules,
		cache:    cache.Noop{},
		recorder: nopRecorder{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("bookmanager/circulation"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Borrow lends one copy of a title to a reader in a single transaction.
func (s *service) Borrow(ctx context.Context, p access.Principal, req BorrowRequest) (loan *Loan, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.Borrow", trace.WithAttributes(
		attribute.Int64("title_id", req.TitleID),
		attribute.Int64("reader_id", req.ReaderID),
	))
	defer func() { s.finish(span, "borrow", err) }()

	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if err := s.access.Authorize(p, access.ActionBorrow, req.ReaderID); err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		title, err := tx.LockTitle(ctx, req.TitleID)
		if err != nil {
			return err
		}
		reader, err := tx.LockReader(ctx, req.ReaderID)
		if err != nil {
			return err
		}
		if !reader.CanBorrow() {
			return errLoanLimit
		}

		var c *catalog.Copy
		if req.CopyID != 0 {
			if c, err = tx.LockCopy(ctx, req.CopyID); err != nil {
				return err
			}
			if c.TitleID != title.ID {
				return errCopyOtherTitle
			}
			if c.Status != catalog.CopyAvailable {
				return errCopyNotReady
			}
		} else {
			if c, err = tx.ClaimAvailableCopy(ctx, title.ID); err != nil {
				return err
			}
			if c == nil {
				return errNoCopy
			}
		}

		ok, err := tx.SetCopyStatus(ctx, c.ID, catalog.CopyAvailable, catalog.CopyBorrowed)
		if err != nil {
			return err
		}
		if !ok {
			return errNoCopy
		}
		if err := tx.IncrementBorrowTimes(ctx, title.ID); err != nil {
			return err
		}
		if ok, err = tx.IncrementBorrowedCount(ctx, reader.ID); err != nil {
			return err
		}
		if !ok {
			return errLoanLimit
		}

		now := s.now()
		l := &Loan{
			TitleID:     title.ID,
			ReaderID:    reader.ID,
			CopyID:      c.ID,
			Barcode:     c.Barcode,
			Status:      LoanOut,
			BorrowDate:  now,
			DueDate:     now.Add(s.rules.LoanPeriod),
			OverdueFine: decimal.Zero,
			Version:     1,
			Title:       title.Title,
			Author:      title.Author,
			ISBN:        title.ISBN,
			Publisher:   title.Publisher,
			Category:    title.Category,
			CoverURL:    title.CoverURL,
		}
		if err := tx.InsertLoan(ctx, l); err != nil {
			return err
		}

		ev, err := eventstore.NewEvent(EventLoanOpened, LoanOpenedEvent{
			LoanID:   l.ID,
			TitleID:  l.TitleID,
			ReaderID: l.ReaderID,
			CopyID:   l.CopyID,
			DueDate:  l.DueDate,
			ActorID:  p.ID,
		})
		if err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, LoanStream(l.ID), StreamTypeLoan, 0, []eventstore.Event{ev}); err != nil {
			return err
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to borrow: %w", err)
	}

	s.evictTitle(ctx, loan.TitleID)
	s.logger.InfoContext(ctx, "loan opened",
		"loan_id", loan.ID, "title_id", loan.TitleID, "reader_id", loan.ReaderID, "copy_id", loan.CopyID)
	return loan, nil
}

// Return closes an open loan with the given outcome.
func (s *service) Return(ctx context.Context, p access.Principal, loanID int64, outcome Outcome) (loan *Loan, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.Return", trace.WithAttributes(
		attribute.Int64("loan_id", loanID),
		attribute.String("outcome", string(outcome)),
	))
	defer func() { s.finish(span, "return", err) }()

	if _, ok := ParseOutcome(string(outcome)); !ok {
		return nil, apperr.Validationf("unknown outcome %q", outcome)
	}
	if outcome == "" {
		outcome = OutcomeReturned
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		l, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if err := s.access.Authorize(p, access.ActionReturn, l.ReaderID); err != nil {
			return err
		}
		if l.Status != LoanOut {
			return errAlreadyClosed
		}

		if _, err := tx.LockReader(ctx, l.ReaderID); err != nil {
			return err
		}
		c, err := tx.LockCopy(ctx, l.CopyID)
		if err != nil {
			return err
		}

		now := s.now()
		l.Status = outcome.status()
		l.ReturnDate = &now
		l.OverdueFine = s.rules.Fine(l.DueDate, now, outcome, c.PriceAtEntry)
		l.Version++

		to := catalog.CopyAvailable
		switch outcome {
		case OutcomeLost:
			to = catalog.CopyLost
		case OutcomeDamaged:
			to = catalog.CopyDamaged
		}
		moved, err := tx.SetCopyStatus(ctx, c.ID, catalog.CopyBorrowed, to)
		if err != nil {
			return err
		}
		if !moved {
			s.logger.WarnContext(ctx, "returned copy was not borrowed", "loan_id", l.ID, "copy_id", c.ID, "status", c.Status)
		}
		if err := tx.DecrementBorrowedCount(ctx, l.ReaderID); err != nil {
			return err
		}
		if err := s.saveLoan(ctx, tx, l, EventLoanClosed, LoanClosedEvent{
			LoanID:     l.ID,
			Status:     l.Status,
			ReturnDate: now,
			Fine:       l.OverdueFine,
		}); err != nil {
			return err
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to return loan: %w", err)
	}

	s.evictTitle(ctx, loan.TitleID)
	s.logger.InfoContext(ctx, "loan closed",
		"loan_id", loan.ID, "status", loan.Status, "fine", loan.OverdueFine.StringFixed(2))
	return loan, nil
}

// Renew extends the due date of an open loan by one loan period.
func (s *service) Renew(ctx context.Context, p access.Principal, loanID int64) (loan *Loan, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.Renew", trace.WithAttributes(attribute.Int64("loan_id", loanID)))
	defer func() { s.finish(span, "renew", err) }()

	err = s.store.InTx(ctx, func(tx Tx) error {
		l, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if err := s.access.Authorize(p, access.ActionRenew, l.ReaderID); err != nil {
			return err
		}
		if l.Status != LoanOut {
			return errNotOpen
		}
		if s.rules.MaxRenewals > 0 && l.RenewCount >= s.rules.MaxRenewals {
			return errRenewLimit
		}

		l.DueDate = l.DueDate.Add(s.rules.LoanPeriod)
		l.RenewCount++
		l.Version++
		if err := s.saveLoan(ctx, tx, l, EventLoanRenewed, LoanRenewedEvent{
			LoanID:     l.ID,
			DueDate:    l.DueDate,
			RenewCount: l.RenewCount,
		}); err != nil {
			return err
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to renew loan: %w", err)
	}

	s.logger.InfoContext(ctx, "loan renewed", "loan_id", loan.ID, "due_date", loan.DueDate, "renew_count", loan.RenewCount)
	return loan, nil
}

// saveLoan persists l at its new version and appends one event to its
// stream, expecting the stream to be one event behind.
func (s *service) saveLoan(ctx context.Context, tx Tx, l *Loan, eventType string, payload any) error {
	ok, err := tx.UpdateLoan(ctx, l)
	if err != nil {
		return err
	}
	if !ok {
		return errLoanConflict
	}
	ev, err := eventstore.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	return tx.AppendEvents(ctx, LoanStream(l.ID), StreamTypeLoan, l.Version-1, []eventstore.Event{ev})
}

func (s *service) GetLoan(ctx context.Context, p access.Principal, loanID int64) (*Loan, error) {
	l, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(p, access.ActionListLoans, l.ReaderID); err != nil {
		return nil, err
	}
	l.Overdue = l.IsOverdue(s.now())
	return l, nil
}

// ListLoans returns loans in id order. Readers only ever see their own.
func (s *service) ListLoans(ctx context.Context, p access.Principal, f LoanFilter) ([]*Loan, error) {
	switch s.access.Scope(p, access.ActionListLoans) {
	case access.ScopeAny:
	case access.ScopeOwn:
		if p.Role != access.RoleReader {
			return nil, apperr.Forbidden("not permitted")
		}
		f.ReaderID = p.ID
	default:
		return nil, apperr.Forbidden("not permitted")
	}

	now := s.now()
	if f.OverdueOnly {
		f.Status = LoanOut
		f.DueBefore = now
	}
	loans, err := s.store.ListLoans(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	for _, l := range loans {
		l.Overdue = l.IsOverdue(now)
	}
	return loans, nil
}

func (s *service) LoanHistory(ctx context.Context, p access.Principal, loanID int64) ([]eventstore.Event, error) {
	l, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(p, access.ActionLoanHistory, l.ReaderID); err != nil {
		return nil, err
	}
	events, err := s.store.LoadEvents(ctx, LoanStream(loanID))
	if err != nil {
		return nil, fmt.Errorf("failed to load loan history: %w", err)
	}
	return events, nil
}

func (s *service) evictTitle(ctx context.Context, titleID int64) {
	if err := s.cache.Delete(ctx, catalog.TitleCacheKey(titleID)); err != nil {
		s.logger.WarnContext(ctx, "failed to evict title cache", "title_id", titleID, "error", err)
	}
}

func (s *service) finish(span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		if apperr.KindOf(err) == apperr.KindInternal {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	s.recorder.LoanOperation(op, err)
	span.End()
}
