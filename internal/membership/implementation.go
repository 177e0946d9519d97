// internal/membership/implementation.go
package membership

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"bookmanager/internal/access"
	"bookmanager/internal/apperr"
	"bookmanager/internal/eventstore"
	"bookmanager/internal/validate"
)

var (
	errBadCredentials  = apperr.New(apperr.KindUnauthenticated, "invalid username or password")
	errRateLimited     = apperr.New(apperr.KindRateLimited, "rate limit exceeded")
	errLimitBelowLoans = apperr.InvalidState("borrow limit is below the reader's open loans")
)

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) { s.logger = logger }
}

// WithLoginLimit sets the per-username login rate in attempts per second.
func WithLoginLimit(perSecond float64, burst int) Option {
	return func(s *service) { s.logins = newKeyedLimiter(rate.Limit(perSecond), burst) }
}

// WithRegisterLimit sets the per-client self-registration rate in attempts
// per second.
func WithRegisterLimit(perSecond float64, burst int) Option {
	return func(s *service) { s.registrations = newKeyedLimiter(rate.Limit(perSecond), burst) }
}

// WithDefaultBorrowLimit sets the limit given to readers created without one.
func WithDefaultBorrowLimit(n int) Option {
	return func(s *service) { s.defaultLimit = n }
}

// service implements the Service interface.
type service struct {
	store         Store
	policy        access.Policy
	tokens        *access.Tokens
	logins        *keyedLimiter
	registrations *keyedLimiter
	defaultLimit  int
	logger        *slog.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// NewService creates a new membership service instance.
func NewService(store Store, policy access.Policy, tokens *access.Tokens, opts ...Option) Service {
	s := &service{
		store:         store,
		policy:        policy,
		tokens:        tokens,
		logins:        newKeyedLimiter(rate.Every(5*time.Second), 5),
		registrations: newKeyedLimiter(rate.Every(20*time.Second), 3),
		defaultLimit:  3,
		logger:        slog.Default(),
		tracer:        otel.Tracer("bookmanager/membership"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "membership.Login")
	defer span.End()

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errBadCredentials
	}
	if !s.logins.Allow(username) {
		return nil, errRateLimited
	}

	admin, err := s.store.FindAdminByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find admin: %w", err)
	}
	if admin != nil {
		if ok, _ := verifyPassword(password, admin.PasswordHash); ok {
			return s.issue(ctx, access.Principal{ID: admin.ID, Role: access.RoleAdmin, Username: admin.Username}, admin)
		}
	}

	reader, err := s.store.FindReaderByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find reader: %w", err)
	}
	if reader == nil {
		return nil, errBadCredentials
	}
	ok, err := verifyPassword(password, reader.PasswordHash)
	if err != nil {
		s.logger.WarnContext(ctx, "stored password hash unreadable", "reader_id", reader.ID, "error", err)
	}
	if !ok {
		return nil, errBadCredentials
	}
	return s.issue(ctx, access.Principal{ID: reader.ID, Role: access.RoleReader, Username: reader.Username}, reader)
}

func (s *service) issue(ctx context.Context, p access.Principal, user any) (*LoginResult, error) {
	token, expires, err := s.tokens.Issue(p)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("role", string(p.Role)))
	s.logger.InfoContext(ctx, "login", "role", p.Role, "user_id", p.ID)
	return &LoginResult{Token: token, ExpiresAt: expires, Role: p.Role, User: user}, nil
}

func (s *service) Register(ctx context.Context, clientIP string, in ReaderInput) (*Reader, error) {
	if !s.registrations.Allow(clientIP) {
		return nil, errRateLimited
	}
	// Self-registered readers always start with the default limit.
	in.BorrowLimit = 0
	return s.createReader(ctx, in, true)
}

func (s *service) CreateReader(ctx context.Context, p access.Principal, in ReaderInput) (*Reader, error) {
	if err := s.policy.Authorize(p, access.ActionManageReaders, 0); err != nil {
		return nil, err
	}
	return s.createReader(ctx, in, false)
}

func (s *service) createReader(ctx context.Context, in ReaderInput, selfService bool) (*Reader, error) {
	in = normalize(in)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if in.Password == "" {
		return nil, apperr.Validation("password is required")
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	limit := in.BorrowLimit
	if limit == 0 {
		limit = s.defaultLimit
	}
	now := s.now()
	r := &Reader{
		Name:         in.Name,
		Gender:       in.Gender,
		Department:   in.Department,
		ReaderType:   in.ReaderType,
		Contact:      in.Contact,
		Username:     in.Username,
		PasswordHash: hash,
		BorrowLimit:  limit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		taken, err := tx.UsernameTaken(ctx, r.Username)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Validation("username already taken")
		}
		if err := tx.InsertReader(ctx, r); err != nil {
			return err
		}
		ev, err := eventstore.NewEvent(EventReaderRegistered, ReaderRegisteredEvent{
			ReaderID:    r.ID,
			Username:    r.Username,
			BorrowLimit: r.BorrowLimit,
			SelfService: selfService,
		})
		if err != nil {
			return err
		}
		return tx.AppendEvents(ctx, ReaderStream(r.ID), StreamTypeReader, 0, []eventstore.Event{ev})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}

	s.logger.InfoContext(ctx, "reader registered", "reader_id", r.ID, "self_service", selfService)
	return r, nil
}

func (s *service) GetReader(ctx context.Context, p access.Principal, id int64) (*Reader, error) {
	if err := s.policy.Authorize(p, access.ActionViewReader, id); err != nil {
		return nil, err
	}
	return s.store.GetReader(ctx, id)
}

func (s *service) ListReaders(ctx context.Context, p access.Principal) ([]*Reader, error) {
	if err := s.policy.Authorize(p, access.ActionManageReaders, 0); err != nil {
		return nil, err
	}
	readers, err := s.store.ListReaders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}
	return readers, nil
}

func (s *service) UpdateReader(ctx context.Context, p access.Principal, id int64, in ReaderInput) (*Reader, error) {
	if err := s.policy.Authorize(p, access.ActionManageReaders, 0); err != nil {
		return nil, err
	}
	in = normalize(in)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	var hash string
	if in.Password != "" {
		var err error
		if hash, err = hashPassword(in.Password); err != nil {
			return nil, err
		}
	}

	var updated *Reader
	err := s.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.LockReader(ctx, id)
		if err != nil {
			return err
		}
		if in.Username != r.Username {
			taken, err := tx.UsernameTaken(ctx, in.Username)
			if err != nil {
				return err
			}
			if taken {
				return apperr.Validation("username already taken")
			}
		}

		r.Name = in.Name
		r.Gender = in.Gender
		r.Department = in.Department
		r.ReaderType = in.ReaderType
		r.Contact = in.Contact
		r.Username = in.Username
		if hash != "" {
			r.PasswordHash = hash
		}
		if in.BorrowLimit > 0 {
			if in.BorrowLimit < r.BorrowedCount {
				return errLimitBelowLoans
			}
			r.BorrowLimit = in.BorrowLimit
		}
		r.UpdatedAt = s.now()
		if err := tx.UpdateReader(ctx, r); err != nil {
			return err
		}
		updated = r

		ev, err := eventstore.NewEvent(EventReaderUpdated, ReaderUpdatedEvent{ReaderID: r.ID, BorrowLimit: r.BorrowLimit})
		if err != nil {
			return err
		}
		return tx.AppendEvents(ctx, ReaderStream(r.ID), StreamTypeReader, eventstore.AnyVersion, []eventstore.Event{ev})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update reader: %w", err)
	}
	return updated, nil
}

func (s *service) DeleteReader(ctx context.Context, p access.Principal, id int64) error {
	if err := s.policy.Authorize(p, access.ActionManageReaders, 0); err != nil {
		return err
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.LockReader(ctx, id); err != nil {
			return err
		}
		open, err := tx.ReaderHasOpenLoans(ctx, id)
		if err != nil {
			return err
		}
		if open {
			return apperr.InvalidState("reader has open loans")
		}
		if err := tx.SoftDeleteReader(ctx, id); err != nil {
			return err
		}
		ev, err := eventstore.NewEvent(EventReaderRemoved, ReaderUpdatedEvent{ReaderID: id})
		if err != nil {
			return err
		}
		return tx.AppendEvents(ctx, ReaderStream(id), StreamTypeReader, eventstore.AnyVersion, []eventstore.Event{ev})
	})
	if err != nil {
		return fmt.Errorf("failed to delete reader: %w", err)
	}
	s.logger.InfoContext(ctx, "reader removed", "reader_id", id)
	return nil
}

func (s *service) CreateAdmin(ctx context.Context, username, name, password string) (*Admin, error) {
	username = strings.TrimSpace(username)
	name = strings.TrimSpace(name)
	if username == "" {
		return nil, apperr.Validation("username is required")
	}
	if utf8.RuneCountInString(username) > 64 || utf8.RuneCountInString(name) > 64 {
		return nil, apperr.Validation("username and name must be at most 64 characters")
	}
	if len(password) < 6 {
		return nil, apperr.Validation("password must be at least 6 characters")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	a := &Admin{Username: username, Name: name, PasswordHash: hash, CreatedAt: s.now()}
	err = s.store.InTx(ctx, func(tx Tx) error {
		taken, err := tx.UsernameTaken(ctx, username)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Validation("username already taken")
		}
		return tx.InsertAdmin(ctx, a)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create admin: %w", err)
	}
	return a, nil
}

func normalize(in ReaderInput) ReaderInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Gender = strings.TrimSpace(in.Gender)
	in.Department = strings.TrimSpace(in.Department)
	in.ReaderType = strings.TrimSpace(in.ReaderType)
	in.Contact = strings.TrimSpace(in.Contact)
	in.Username = strings.TrimSpace(in.Username)
	return in
}
