package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookmanager/internal/apperr"
)

func Test_BaseCode(t *testing.T) {
	c := NewCoder(10)

	cases := map[string]string{
		"Science Fiction": "SF",
		"计算机科学":           "JSJKX",
		"C语言":             "CYY",
		"history":         "H",
		"!!!":             FallbackCode,
		"":                FallbackCode,
	}
	for name, want := range cases {
		assert.Equal(t, want, c.BaseCode(name), name)
	}
}

func Test_Unique_AppendsFirstFreeSuffix(t *testing.T) {
	// arrange
	c := NewCoder(10)
	taken := map[string]bool{"X": true, "X1": true}

	// act
	code, err := c.Unique(context.Background(), "X", func(_ context.Context, code string) (bool, error) {
		return taken[code], nil
	})

	// assert
	require.NoError(t, err)
	assert.Equal(t, "X2", code)
}

func Test_BaseCode_CapsLongNames(t *testing.T) {
	c := NewCoder(10)

	han := c.BaseCode(strings.Repeat("中国文学", 5))
	latin := c.BaseCode(strings.Repeat("a ", 40))

	assert.Equal(t, "ZGWXZGWXZGWXZGWX", han)
	assert.Len(t, latin, MaxCodeLen)
}

func Test_Unique_SuffixFitsWithinCap(t *testing.T) {
	// arrange
	c := NewCoder(10)
	base := strings.Repeat("A", MaxCodeLen)

	// act
	code, err := c.Unique(context.Background(), base, func(_ context.Context, code string) (bool, error) {
		return code == base, nil
	})

	// assert
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("A", MaxCodeLen-1)+"1", code)
}

func Test_Unique_ExhaustedIsConflictGenerating(t *testing.T) {
	c := NewCoder(3)
	calls := 0

	_, err := c.Unique(context.Background(), "X", func(context.Context, string) (bool, error) {
		calls++
		return true, nil
	})

	assert.True(t, apperr.Is(err, apperr.KindConflictGenerating))
	assert.Equal(t, 4, calls)
}

func Test_Unique_PropagatesLookupError(t *testing.T) {
	boom := errors.New("boom")

	_, err := NewCoder(3).Unique(context.Background(), "X", func(context.Context, string) (bool, error) {
		return false, boom
	})

	assert.ErrorIs(t, err, boom)
}

func Test_TitleCodeAndBarcode(t *testing.T) {
	assert.Equal(t, "SF-0007", TitleCode("SF", 7))
	assert.Equal(t, "BK000042-20240301-00003", Barcode(42, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 3))
}

func Test_Inventory_CountAndCheck(t *testing.T) {
	var inv Inventory
	for _, s := range []CopyStatus{CopyAvailable, CopyAvailable, CopyBorrowed, CopyDamaged, CopyLost} {
		inv.Count(s)
	}

	assert.Equal(t, Inventory{Total: 3, Stock: 2, Borrowed: 1, Damaged: 1, Lost: 1}, inv)
	assert.NoError(t, inv.Check())
	assert.Error(t, Inventory{Total: 1, Stock: 2}.Check())
	assert.Error(t, Inventory{Stock: -1}.Check())
}

func Test_Transition_RejectsLoanedCopiesAndBorrowedTarget(t *testing.T) {
	available := &Copy{Status: CopyAvailable}
	borrowed := &Copy{Status: CopyBorrowed}

	assert.NoError(t, transition(available, CopyDamaged, false))
	assert.True(t, apperr.Is(transition(available, CopyBorrowed, false), apperr.KindValidationFailed))
	assert.True(t, apperr.Is(transition(available, CopyStatus("shelved"), false), apperr.KindValidationFailed))
	assert.True(t, apperr.Is(transition(borrowed, CopyAvailable, false), apperr.KindInvalidState))
	assert.True(t, apperr.Is(transition(available, CopyLost, true), apperr.KindInvalidState))
}
