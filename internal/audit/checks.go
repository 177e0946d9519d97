package audit

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Probe answers the consistency queries behind the default checks. Every
// method returns the number of offending rows.
type Probe interface {
	// OrphanedBorrowedCopies counts borrowed copies without an open loan.
	OrphanedBorrowedCopies(ctx context.Context) (int64, error)
	// OpenLoansOnIdleCopies counts open loans whose copy is not borrowed.
	OpenLoansOnIdleCopies(ctx context.Context) (int64, error)
	// ReaderCountDrift counts readers whose borrowed count differs from
	// their number of open loans.
	ReaderCountDrift(ctx context.Context) (int64, error)
	ReadersOverLimit(ctx context.Context) (int64, error)
	// CopiesWithManyOpenLoans counts copies with more than one open loan.
	CopiesWithManyOpenLoans(ctx context.Context) (int64, error)
}

var zero = Threshold{Operator: "==", Value: 0}

// DefaultChecks builds the standard rule set over p.
func DefaultChecks(p Probe) []Check {
	return []Check{
		{
			Name:        "orphaned-borrowed-copies",
			Description: "every borrowed copy has an open loan",
			Query:       p.OrphanedBorrowedCopies,
			Threshold:   zero,
		},
		{
			Name:        "open-loans-on-idle-copies",
			Description: "every open loan holds a borrowed copy",
			Query:       p.OpenLoansOnIdleCopies,
			Threshold:   zero,
		},
		{
			Name:        "reader-count-drift",
			Description: "borrowed count equals open loans per reader",
			Query:       p.ReaderCountDrift,
			Threshold:   zero,
		},
		{
			Name:        "readers-over-limit",
			Description: "no reader holds more loans than their limit",
			Query:       p.ReadersOverLimit,
			Threshold:   zero,
		},
		{
			Name:        "copies-with-many-open-loans",
			Description: "a copy is lent at most once at a time",
			Query:       p.CopiesWithManyOpenLoans,
			Threshold:   zero,
		},
	}
}

// LoadThresholds reads a YAML mapping of check name to threshold:
//
//	reader-count-drift:
//	  operator: "<="
//	  value: 2
func LoadThresholds(r io.Reader) (map[string]Threshold, error) {
	out := map[string]Threshold{}
	if err := yaml.NewDecoder(r).Decode(&out); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode thresholds: %w", err)
	}
	return out, nil
}

// WriteReport renders r as YAML.
func WriteReport(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return enc.Close()
}
