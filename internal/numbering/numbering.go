// Package numbering allocates human-readable document numbers of the form
// PREFIX-YYYY-00001, sequenced per prefix and calendar year.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Document prefixes.
const (
	PrefixPR = "PR"
	PrefixPO = "PO"
)

// ErrMalformedNumber indicates a number that does not follow PREFIX-YYYY-NNNNN.
var ErrMalformedNumber = errors.New("numbering: malformed document number")

// Allocator hands out the next number for a prefix and year.
type Allocator interface {
	Next(ctx context.Context, prefix string, year int) (string, error)
}

// SeedFunc reports the highest sequence already in use for prefix and year.
// Allocators call it once per counter so existing documents are never reused.
type SeedFunc func(ctx context.Context, prefix string, year int) (int, error)

// Format renders a document number.
func Format(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%04d-%05d", prefix, year, seq)
}

// Parse splits a document number into its parts.
func Parse(number string) (prefix string, year, seq int, err error) {
	parts := strings.Split(number, "-")
	if len(parts) != 3 || parts[0] == "" || len(parts[1]) != 4 {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrMalformedNumber, number)
	}
	year, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrMalformedNumber, number)
	}
	seq, err = strconv.Atoi(parts[2])
	if err != nil || seq < 0 {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrMalformedNumber, number)
	}
	return parts[0], year, seq, nil
}

// MaxSequence returns the highest sequence among existing numbers matching
// prefix and year. Unparseable entries are ignored.
func MaxSequence(prefix string, year int, existing []string) int {
	maxSeq := 0
	for _, number := range existing {
		p, y, seq, err := Parse(number)
		if err != nil || p != prefix || y != year {
			continue
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq
}

// NextFromExisting scans existing numbers and returns max+1 for prefix and year.
// It does not guard against concurrent callers; use an Allocator for that.
func NextFromExisting(prefix string, year int, existing []string) string {
	return Format(prefix, year, MaxSequence(prefix, year, existing)+1)
}
