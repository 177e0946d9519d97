package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/mozillazg/go-pinyin"

	"bookmanager/internal/apperr"
)

// FallbackCode is used when a name yields no letters at all.
const FallbackCode = "QT"

// MaxCodeLen bounds category codes, suffix included.
const MaxCodeLen = 16

var errCodeExhausted = apperr.New(apperr.KindConflictGenerating, "cannot generate unique code")

// Coder derives category codes from display names.
type Coder struct {
	maxAttempts int
	args        pinyin.Args
}

func NewCoder(maxAttempts int) *Coder {
	args := pinyin.NewArgs()
	args.Style = pinyin.FirstLetter
	return &Coder{maxAttempts: maxAttempts, args: args}
}

// BaseCode returns one uppercase letter per word unit of name: the pinyin
// initial of each Han character and the first letter of each Latin word.
// Letters past MaxCodeLen are dropped.
func (c *Coder) BaseCode(name string) string {
	var b strings.Builder
	inWord := false
	for _, r := range name {
		switch {
		case unicode.Is(unicode.Han, r):
			inWord = false
			if py := pinyin.SinglePinyin(r, c.args); len(py) > 0 && py[0] != "" {
				b.WriteString(strings.ToUpper(py[0][:1]))
			}
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			if !inWord {
				b.WriteRune(unicode.ToUpper(r))
			}
			inWord = true
		case r < unicode.MaxASCII && unicode.IsDigit(r):
			inWord = true
		default:
			inWord = false
		}
	}
	if b.Len() == 0 {
		return FallbackCode
	}
	return truncate(b.String(), MaxCodeLen)
}

// Unique returns base, or base followed by 1, 2, 3 ... whichever is first
// reported free by taken. The base is shortened so that base and suffix fit
// in MaxCodeLen. It gives up after maxAttempts suffixes.
func (c *Coder) Unique(ctx context.Context, base string, taken func(context.Context, string) (bool, error)) (string, error) {
	candidate := truncate(base, MaxCodeLen)
	for attempt := 0; attempt <= c.maxAttempts; attempt++ {
		if attempt > 0 {
			suffix := strconv.Itoa(attempt)
			candidate = truncate(base, MaxCodeLen-len(suffix)) + suffix
		}
		exists, err := taken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check code %s: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", errCodeExhausted
}

// truncate keeps the first n bytes of an ASCII code.
func truncate(code string, n int) string {
	if len(code) > n {
		return code[:n]
	}
	return code
}

// TitleCode formats the code of the seq-th title of a category.
func TitleCode(categoryCode string, seq int) string {
	return fmt.Sprintf("%s-%04d", categoryCode, seq)
}
