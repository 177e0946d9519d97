package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookmanager/internal/access"
	"bookmanager/internal/apperr"
	"bookmanager/internal/catalog"
	"bookmanager/internal/circulation"
	"bookmanager/internal/logging"
	"bookmanager/internal/membership"
)

var admin = access.Principal{ID: 1, Role: access.RoleAdmin, Username: "admin"}

func Test_SelectLoans_UsesPlaceholders(t *testing.T) {
	query, args, err := selectLoans().Where(goqu.C("reader_id").Eq(int64(3))).ToSQL()

	require.NoError(t, err)
	assert.Contains(t, query, `FROM "loans" WHERE ("reader_id" = $1)`)
	assert.Equal(t, []any{int64(3)}, args)
}

func Test_SelectCategories_HidesDeleted(t *testing.T) {
	query, _, err := selectCategories().ToSQL()

	require.NoError(t, err)
	assert.Contains(t, query, `"deleted" IS FALSE`)
}

// openTestDB connects to the database named by the PG* variables, applies the
// schema and empties every table. The test is skipped when no database is reachable.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"), envOr("PGPORT", "5432"), envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"), envOr("PGDATABASE", "testdb"))

	ctx := context.Background()
	db, err := Open(ctx, connStr, 10, 5)
	if err != nil {
		t.Skipf("skipping: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(ctx, db))
	_, err = db.ExecContext(ctx, "TRUNCATE events, loans, copies, titles, categories, readers, admins RESTART IDENTITY CASCADE")
	require.NoError(t, err)
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type stack struct {
	store   *Store
	catalog catalog.Service
	members membership.Service
	loans   circulation.Service
}

func newStack(t *testing.T) *stack {
	t.Helper()
	db := openTestDB(t)
	store := New(db, logging.Discard())
	policy := access.DefaultPolicy()
	tokens, err := access.NewTokens("0123456789abcdef0123", time.Hour)
	require.NoError(t, err)
	return &stack{
		store:   store,
		catalog: catalog.NewService(store.Catalog(), policy, catalog.NewCoder(10)),
		members: membership.NewService(store.Membership(), policy, tokens),
		loans: circulation.NewService(store.Circulation(), policy, circulation.Policy{
			LoanPeriod: 30 * 24 * time.Hour,
			FinePerDay: decimal.RequireFromString("0.10"),
		}),
	}
}

func (s *stack) seed(t *testing.T, copies int) *catalog.Title {
	t.Helper()
	ctx := context.Background()
	cat, err := s.catalog.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
	require.NoError(t, err)
	title, err := s.catalog.AddTitle(ctx, admin, catalog.TitleInput{
		Title: "Solaris", Author: "Stanislaw Lem", ISBN: "9780156027601",
		CategoryID: cat.ID, Price: decimal.RequireFromString("25.00"),
	})
	require.NoError(t, err)
	_, err = s.catalog.Purchase(ctx, admin, title.ID, copies, "Acme Books")
	require.NoError(t, err)
	return title
}

func (s *stack) reader(t *testing.T, username string, limit int) *membership.Reader {
	t.Helper()
	r, err := s.members.CreateReader(context.Background(), admin, membership.ReaderInput{
		Name: username, Gender: "F", Username: username, Password: "secret1", BorrowLimit: limit,
	})
	require.NoError(t, err)
	return r
}

func Test_Store_BorrowAndReturn(t *testing.T) {
	// arrange
	s := newStack(t)
	ctx := context.Background()
	title := s.seed(t, 2)
	r := s.reader(t, "lin", 3)

	// act
	loan, err := s.loans.Borrow(ctx, admin, circulation.BorrowRequest{TitleID: title.ID, ReaderID: r.ID})
	require.NoError(t, err)
	returned, err := s.loans.Return(ctx, admin, loan.ID, circulation.OutcomeReturned)
	require.NoError(t, err)

	// assert
	assert.Equal(t, circulation.LoanReturned, returned.Status)
	got, err := s.catalog.GetTitle(ctx, admin, title.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Inventory.Stock)
	assert.Equal(t, 1, got.BorrowTimes)
	history, err := s.loans.LoanHistory(ctx, admin, loan.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	drift, err := s.store.ReaderCountDrift(ctx)
	require.NoError(t, err)
	assert.Zero(t, drift)
}

func Test_Store_LastCopyGoesToOneReader(t *testing.T) {
	// arrange
	s := newStack(t)
	ctx := context.Background()
	title := s.seed(t, 1)
	readers := make([]*membership.Reader, 6)
	for i := range readers {
		readers[i] = s.reader(t, "reader"+string(rune('a'+i)), 2)
	}

	// act
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		capacity int
	)
	for _, r := range readers {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := s.loans.Borrow(ctx, admin, circulation.BorrowRequest{TitleID: title.ID, ReaderID: id})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case apperr.KindOf(err) == apperr.KindCapacityExceeded:
				capacity++
			}
		}(r.ID)
	}
	wg.Wait()

	// assert
	assert.Equal(t, 1, ok)
	assert.Equal(t, len(readers)-1, capacity)
	orphaned, err := s.store.OrphanedBorrowedCopies(ctx)
	require.NoError(t, err)
	assert.Zero(t, orphaned)
	dup, err := s.store.CopiesWithManyOpenLoans(ctx)
	require.NoError(t, err)
	assert.Zero(t, dup)
}

func Test_Store_ReaderLimitHoldsUnderRace(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	title := s.seed(t, 5)
	r := s.reader(t, "lin", 2)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.loans.Borrow(ctx, admin, circulation.BorrowRequest{TitleID: title.ID, ReaderID: r.ID})
		}()
	}
	wg.Wait()

	got, err := s.members.GetReader(ctx, admin, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.BorrowedCount)
	over, err := s.store.ReadersOverLimit(ctx)
	require.NoError(t, err)
	assert.Zero(t, over)
}

func Test_Classify_MapsDriverCodes(t *testing.T) {
	conflict := apperr.New(apperr.KindConflictGenerating, "category code already exists")

	unique := classify(&pq.Error{Code: codeUniqueViolation}, conflict)
	tooLong := classify(&pq.Error{Code: codeStringTooLong}, conflict)
	uncaught := classify(&pq.Error{Code: codeUniqueViolation}, nil)

	assert.True(t, apperr.Is(unique, apperr.KindConflictGenerating))
	assert.True(t, apperr.Is(tooLong, apperr.KindValidationFailed))
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(uncaught))
}

func Test_CopyBatch_StaysUnderBindLimit(t *testing.T) {
	copies := make([]*catalog.Copy, copyBatch)
	for i := range copies {
		copies[i] = &catalog.Copy{TitleID: 1, Barcode: fmt.Sprintf("BK%d", i), Status: catalog.CopyAvailable}
	}

	_, args, err := insertCopies(copies).ToSQL()

	require.NoError(t, err)
	assert.Len(t, args, copyBatch*7)
	assert.Less(t, len(args), 65535)
}

func Test_Store_ConcurrentCategoriesGetDistinctCodes(t *testing.T) {
	// arrange
	s := newStack(t)
	ctx := context.Background()
	const n = 4

	// act
	codes := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.catalog.CreateCategory(ctx, admin, catalog.CategoryInput{Name: "Science Fiction"})
			errs[i] = err
			if err == nil {
				codes[i] = c.Code
			}
		}()
	}
	wg.Wait()

	// assert
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.ElementsMatch(t, []string{"SF", "SF1", "SF2", "SF3"}, codes)
}

func Test_Store_ConcurrentRegistrationTakesUsernameOnce(t *testing.T) {
	// arrange
	s := newStack(t)
	ctx := context.Background()
	const n = 4

	// act
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.members.CreateReader(ctx, admin, membership.ReaderInput{
				Name: "Lin", Gender: "F", Username: "lin", Password: "secret1",
			})
		}()
	}
	wg.Wait()

	// assert
	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindValidationFailed), err)
		assert.Contains(t, err.Error(), "username already taken")
	}
	assert.Equal(t, 1, created)
}

func Test_Store_PurchaseSpansInsertBatches(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	title := s.seed(t, 1)

	copies, err := s.catalog.Purchase(ctx, admin, title.ID, copyBatch*2+1, "Acme Books")
	require.NoError(t, err)

	assert.Len(t, copies, copyBatch*2+1)
	got, err := s.catalog.GetTitle(ctx, admin, title.ID)
	require.NoError(t, err)
	assert.Equal(t, copyBatch*2+2, got.Inventory.Total)
}

func Test_Store_EventsPageInIDOrder(t *testing.T) {
	// arrange
	s := newStack(t)
	ctx := context.Background()
	title := s.seed(t, 1)
	r := s.reader(t, "lin", 3)
	_, err := s.loans.Borrow(ctx, admin, circulation.BorrowRequest{TitleID: title.ID, ReaderID: r.ID})
	require.NoError(t, err)

	// act
	all, err := s.store.Events(ctx, 0, 1000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(all), 2)
	rest, err := s.store.Events(ctx, all[0].ID, 1000)
	require.NoError(t, err)
	none, err := s.store.Events(ctx, all[len(all)-1].ID, 10)
	require.NoError(t, err)

	// assert
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
	assert.Equal(t, all[1:], rest)
	assert.Equal(t, circulation.EventLoanOpened, all[len(all)-1].EventType)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
