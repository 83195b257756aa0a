package usedparts

import "github.com/shopspring/decimal"

// Status is the derived resolution state of a batch. It is never stored.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusPartiallyResolved Status = "PARTIALLY_RESOLVED"
	StatusFullyResolved     Status = "FULLY_RESOLVED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPartiallyResolved, StatusFullyResolved:
		return true
	}
	return false
}

// BatchStatus classifies a batch by how much of initial remains.
func BatchStatus(initial decimal.Decimal, dispositions []Disposition) Status {
	remaining := initial
	for _, d := range dispositions {
		remaining = remaining.Sub(d.Quantity)
	}
	switch {
	case remaining.Equal(initial):
		return StatusPending
	case remaining.IsZero():
		return StatusFullyResolved
	default:
		return StatusPartiallyResolved
	}
}
