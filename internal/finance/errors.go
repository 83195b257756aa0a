package finance

import "errors"

// ErrNegativeRate indicates a VAT or WHT rate below zero.
var ErrNegativeRate = errors.New("finance: tax rate must not be negative")
