package circulation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bookmanager/internal/access"
	"bookmanager/internal/catalog"
	"bookmanager/internal/circulation"
	"bookmanager/internal/logging"
	"bookmanager/internal/membership"
	"bookmanager/internal/store/memory"
)

const day = 24 * time.Hour

var admin = access.Principal{ID: 1, Role: access.RoleAdmin, Username: "admin"}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingRecorder struct {
	mu  sync.Mutex
	ops map[string]int
}

func (r *countingRecorder) LoanOperation(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.ops[op]++
	}
}

// library is a small catalog with one title and helpers to add readers.
type library struct {
	t        testing.TB
	ctx      context.Context
	clock    *clock
	store    *memory.Store
	catalog  catalog.Service
	members  membership.Service
	loans    circulation.Service
	recorder *countingRecorder
	title    *catalog.Title
}

func newLibrary(t testing.TB, copies int, rules circulation.Policy) *library {
	t.Helper()
	ctx := context.Background()
	clk := &clock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := memory.New(memory.WithClock(clk.Now))
	policy := access.DefaultPolicy()
	tokens, err := access.NewTokens("0123456789abcdef0123", time.Hour)
	require.NoError(t, err)

	lib := &library{
		t:        t,
		ctx:      ctx,
		clock:    clk,
		store:    store,
		catalog:  catalog.NewService(store.Catalog(), policy, catalog.NewCoder(10), catalog.WithClock(clk.Now), catalog.WithLogger(logging.Discard())),
		members:  membership.NewService(store.Membership(), policy, tokens, membership.WithClock(clk.Now), membership.WithLogger(logging.Discard())),
		recorder: &countingRecorder{ops: map[string]int{}},
	}
	lib.loans = circulation.NewService(store.Circulation(), policy, rules,
		circulation.WithClock(clk.Now),
		circulation.WithLogger(logging.Discard()),
		circulation.WithRecorder(lib.recorder),
	)

	cat, err := lib.catalog.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
	require.NoError(t, err)
	lib.title, err = lib.catalog.AddTitle(ctx, admin, catalog.TitleInput{
		Title:      "Solaris",
		Author:     "Stanislaw Lem",
		ISBN:       "9780156027601",
		CategoryID: cat.ID,
		Price:      decimal.RequireFromString("25.00"),
	})
	require.NoError(t, err)
	if copies > 0 {
		_, err = lib.catalog.Purchase(ctx, admin, lib.title.ID, copies, "Acme Books")
		require.NoError(t, err)
	}
	return lib
}

func (l *library) addReader(username string, limit int) *membership.Reader {
	l.t.Helper()
	r, err := l.members.CreateReader(l.ctx, admin, membership.ReaderInput{
		Name: username, Gender: "F", Username: username, Password: "secret1", BorrowLimit: limit,
	})
	require.NoError(l.t, err)
	return r
}

func (l *library) inventory() catalog.Inventory {
	l.t.Helper()
	title, err := l.catalog.GetTitle(l.ctx, admin, l.title.ID)
	require.NoError(l.t, err)
	return title.Inventory
}

func (l *library) borrowTimes() int {
	l.t.Helper()
	title, err := l.catalog.GetTitle(l.ctx, admin, l.title.ID)
	require.NoError(l.t, err)
	return title.BorrowTimes
}

func (l *library) reader(id int64) *membership.Reader {
	l.t.Helper()
	r, err := l.members.GetReader(l.ctx, admin, id)
	require.NoError(l.t, err)
	return r
}

func (l *library) borrow(readerID int64) (*circulation.Loan, error) {
	return l.loans.Borrow(l.ctx, admin, circulation.BorrowRequest{TitleID: l.title.ID, ReaderID: readerID})
}
