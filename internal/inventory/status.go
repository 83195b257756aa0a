package inventory

import "github.com/shopspring/decimal"

// Status is the derived stock level of an item. It is never stored.
type Status string

const (
	StatusOutOfStock Status = "OUT_OF_STOCK"
	StatusLow        Status = "LOW"
	StatusOverstock  Status = "OVERSTOCK"
	StatusNormal     Status = "NORMAL"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOutOfStock, StatusLow, StatusOverstock, StatusNormal:
		return true
	}
	return false
}

// StockStatus classifies quantity against the item's thresholds. A max that is
// unset or not positive means no cap.
func StockStatus(quantity, minStock decimal.Decimal, maxStock decimal.NullDecimal) Status {
	switch {
	case !quantity.IsPositive():
		return StatusOutOfStock
	case quantity.LessThanOrEqual(minStock):
		return StatusLow
	case maxStock.Valid && maxStock.Decimal.IsPositive() && quantity.GreaterThan(maxStock.Decimal):
		return StatusOverstock
	default:
		return StatusNormal
	}
}
