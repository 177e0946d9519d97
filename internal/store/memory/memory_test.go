package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookmanager/internal/apperr"
	"bookmanager/internal/catalog"
	"bookmanager/internal/circulation"
	"bookmanager/internal/eventstore"
	"bookmanager/internal/membership"
)

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// seed stores one title with n available copies and one reader.
func seed(t *testing.T, s *Store, n int) (titleID, readerID int64, copyIDs []int64) {
	t.Helper()
	err := s.Catalog().InTx(context.Background(), func(tx catalog.Tx) error {
		ctx := context.Background()
		c := &catalog.Category{Name: "Science Fiction", Code: "SF"}
		if err := tx.InsertCategory(ctx, c); err != nil {
			return err
		}
		title := &catalog.Title{Code: "SF-0001", Title: "Solaris", CategoryID: c.ID}
		if err := tx.InsertTitle(ctx, title); err != nil {
			return err
		}
		titleID = title.ID
		copies := make([]*catalog.Copy, n)
		for i := range copies {
			copies[i] = &catalog.Copy{TitleID: title.ID, Barcode: catalog.Barcode(title.ID, now, i+1), Status: catalog.CopyAvailable}
		}
		if err := tx.InsertCopies(ctx, copies); err != nil {
			return err
		}
		for _, c := range copies {
			copyIDs = append(copyIDs, c.ID)
		}
		return nil
	})
	require.NoError(t, err)

	err = s.Membership().InTx(context.Background(), func(tx membership.Tx) error {
		r := &membership.Reader{Name: "Lin", Username: "lin", BorrowLimit: 2}
		if err := tx.InsertReader(context.Background(), r); err != nil {
			return err
		}
		readerID = r.ID
		return nil
	})
	require.NoError(t, err)
	return titleID, readerID, copyIDs
}

func Test_InTx_RollsBackOnError(t *testing.T) {
	// arrange
	s := New(WithClock(func() time.Time { return now }))
	titleID, _, copyIDs := seed(t, s, 1)
	boom := errors.New("boom")

	// act
	err := s.Circulation().InTx(context.Background(), func(tx circulation.Tx) error {
		ok, err := tx.SetCopyStatus(context.Background(), copyIDs[0], catalog.CopyAvailable, catalog.CopyBorrowed)
		require.True(t, ok)
		require.NoError(t, err)
		require.NoError(t, tx.IncrementBorrowTimes(context.Background(), titleID))
		return boom
	})

	// assert
	assert.ErrorIs(t, err, boom)
	c, err := s.Catalog().GetCopy(context.Background(), copyIDs[0])
	require.NoError(t, err)
	assert.Equal(t, catalog.CopyAvailable, c.Status)
	title, err := s.Catalog().GetTitle(context.Background(), titleID)
	require.NoError(t, err)
	assert.Zero(t, title.BorrowTimes)
}

func Test_InTx_CanceledContextDoesNotCommit(t *testing.T) {
	s := New()
	_, _, copyIDs := seed(t, s, 1)
	ctx, cancel := context.WithCancel(context.Background())

	err := s.Catalog().InTx(ctx, func(tx catalog.Tx) error {
		cancel()
		_, err := tx.SetCopyStatus(ctx, copyIDs[0], catalog.CopyAvailable, catalog.CopyLost)
		return err
	})

	assert.ErrorIs(t, err, context.Canceled)
	c, err := s.Catalog().GetCopy(context.Background(), copyIDs[0])
	require.NoError(t, err)
	assert.Equal(t, catalog.CopyAvailable, c.Status)
}

func Test_SetCopyStatus_ConditionalOnCurrentStatus(t *testing.T) {
	s := New()
	_, _, copyIDs := seed(t, s, 1)

	var first, second bool
	err := s.Catalog().InTx(context.Background(), func(tx catalog.Tx) (err error) {
		if first, err = tx.SetCopyStatus(context.Background(), copyIDs[0], catalog.CopyAvailable, catalog.CopyBorrowed); err != nil {
			return err
		}
		second, err = tx.SetCopyStatus(context.Background(), copyIDs[0], catalog.CopyAvailable, catalog.CopyBorrowed)
		return err
	})

	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func Test_IncrementBorrowedCount_StopsAtLimit(t *testing.T) {
	s := New()
	_, readerID, _ := seed(t, s, 0)

	var results []bool
	err := s.Circulation().InTx(context.Background(), func(tx circulation.Tx) error {
		for i := 0; i < 3; i++ {
			ok, err := tx.IncrementBorrowedCount(context.Background(), readerID)
			if err != nil {
				return err
			}
			results = append(results, ok)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false}, results)
	r, err := s.Membership().GetReader(context.Background(), readerID)
	require.NoError(t, err)
	assert.Equal(t, 2, r.BorrowedCount)
}

func Test_ClaimAvailableCopy_LowestIDThenNil(t *testing.T) {
	s := New()
	titleID, _, copyIDs := seed(t, s, 2)

	var claimed []int64
	err := s.Circulation().InTx(context.Background(), func(tx circulation.Tx) error {
		ctx := context.Background()
		for {
			c, err := tx.ClaimAvailableCopy(ctx, titleID)
			if err != nil || c == nil {
				return err
			}
			claimed = append(claimed, c.ID)
			if _, err := tx.SetCopyStatus(ctx, c.ID, catalog.CopyAvailable, catalog.CopyBorrowed); err != nil {
				return err
			}
		}
	})

	require.NoError(t, err)
	assert.Equal(t, copyIDs, claimed)
}

func Test_UpdateLoan_ChecksVersion(t *testing.T) {
	s := New()
	titleID, readerID, copyIDs := seed(t, s, 1)

	err := s.Circulation().InTx(context.Background(), func(tx circulation.Tx) error {
		ctx := context.Background()
		l := &circulation.Loan{TitleID: titleID, ReaderID: readerID, CopyID: copyIDs[0], Status: circulation.LoanOut, Version: 1}
		if err := tx.InsertLoan(ctx, l); err != nil {
			return err
		}
		l.Version = 3
		stale, err := tx.UpdateLoan(ctx, l)
		require.NoError(t, err)
		assert.False(t, stale)
		l.Version = 2
		fresh, err := tx.UpdateLoan(ctx, l)
		require.NoError(t, err)
		assert.True(t, fresh)
		return nil
	})
	require.NoError(t, err)
}

func Test_AppendEvents_EnforcesExpectedVersion(t *testing.T) {
	s := New(WithClock(func() time.Time { return now }))
	ev := eventstore.MustEvent("LoanOpened", map[string]int{"loan_id": 1})

	err := s.Circulation().InTx(context.Background(), func(tx circulation.Tx) error {
		return tx.AppendEvents(context.Background(), "loan-1", "loan", 0, []eventstore.Event{ev})
	})
	require.NoError(t, err)
	err = s.Circulation().InTx(context.Background(), func(tx circulation.Tx) error {
		return tx.AppendEvents(context.Background(), "loan-1", "loan", 0, []eventstore.Event{ev})
	})

	assert.Error(t, err)
	events, err := s.Circulation().LoadEvents(context.Background(), "loan-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, now, events[0].OccurredAt)
}

func Test_Events_PagesAfterID(t *testing.T) {
	// arrange
	s := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()
	for _, stream := range []string{"loan-1", "loan-2", "loan-3"} {
		err := s.Circulation().InTx(ctx, func(tx circulation.Tx) error {
			return tx.AppendEvents(ctx, stream, "loan", 0, []eventstore.Event{eventstore.MustEvent("LoanOpened", map[string]int{})})
		})
		require.NoError(t, err)
	}

	// act
	first, err := s.Events(ctx, 0, 2)
	require.NoError(t, err)
	second, err := s.Events(ctx, first[len(first)-1].ID, 2)
	require.NoError(t, err)
	empty, err := s.Events(ctx, second[len(second)-1].ID, 2)
	require.NoError(t, err)

	// assert
	require.Len(t, first, 2)
	assert.Equal(t, "loan-1", first[0].StreamID)
	assert.Equal(t, "loan-2", first[1].StreamID)
	require.Len(t, second, 1)
	assert.Equal(t, "loan-3", second[0].StreamID)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func Test_GetReader_MissingIsNotFound(t *testing.T) {
	_, err := New().Membership().GetReader(context.Background(), 5)

	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func Test_Probe_DetectsDrift(t *testing.T) {
	// arrange
	s := New()
	titleID, readerID, copyIDs := seed(t, s, 3)
	ctx := context.Background()
	err := s.Circulation().InTx(ctx, func(tx circulation.Tx) error {
		// copy 0 borrowed without a loan
		if _, err := tx.SetCopyStatus(ctx, copyIDs[0], catalog.CopyAvailable, catalog.CopyBorrowed); err != nil {
			return err
		}
		// two open loans on copy 1, which stays available
		for i := 0; i < 2; i++ {
			if err := tx.InsertLoan(ctx, &circulation.Loan{TitleID: titleID, ReaderID: readerID, CopyID: copyIDs[1], Status: circulation.LoanOut, Version: 1}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	// act
	orphaned, _ := s.OrphanedBorrowedCopies(ctx)
	idle, _ := s.OpenLoansOnIdleCopies(ctx)
	drift, _ := s.ReaderCountDrift(ctx)
	over, _ := s.ReadersOverLimit(ctx)
	many, _ := s.CopiesWithManyOpenLoans(ctx)

	// assert
	assert.Equal(t, int64(1), orphaned)
	assert.Equal(t, int64(2), idle)
	assert.Equal(t, int64(1), drift)
	assert.Equal(t, int64(0), over)
	assert.Equal(t, int64(1), many)
}
