// Package finance computes purchase order totals: line totals, VAT (exclusive
// or inclusive), manual VAT adjustment and withholding tax.
//
// Every intermediate amount is rounded to satang (two places) before it feeds
// the next step, so repeated additions never drift by a cent.
package finance

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// TaxConfig selects how VAT and withholding tax apply to a PO.
type TaxConfig struct {
	VATEnabled          bool            `json:"vat_enabled"`
	VATRate             decimal.Decimal `json:"vat_rate"`
	PriceIncludesVAT    bool            `json:"price_includes_vat"`
	WHTEnabled          bool            `json:"wht_enabled"`
	WHTRate             decimal.Decimal `json:"wht_rate"`
	ManualVATAdjustment decimal.Decimal `json:"manual_vat_adjustment"`
}

// Line is the pricing view of a PO line.
type Line struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
}

// Totals is the derived money breakdown of a PO.
type Totals struct {
	ItemsTotal   decimal.Decimal `json:"items_total"`
	NetBeforeVAT decimal.Decimal `json:"net_before_vat"`
	VATAmount    decimal.Decimal `json:"vat_amount"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	WHTAmount    decimal.Decimal `json:"wht_amount"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

// Round rounds an amount to two decimal places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// LineTotal returns round(quantity*unitPrice - discount).
func LineTotal(l Line) decimal.Decimal {
	return Round(l.Quantity.Mul(l.UnitPrice).Sub(l.Discount))
}

// ItemsTotal sums rounded line totals, rounding the accumulator after each add.
func ItemsTotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = Round(total.Add(LineTotal(l)))
	}
	return total
}

// Compute derives the totals for lines under cfg. A negative total is returned
// as is; flagging implausible results is left to the caller.
func Compute(lines []Line, cfg TaxConfig) Totals {
	items := ItemsTotal(lines)

	var net, vat, sub decimal.Decimal
	if cfg.PriceIncludesVAT {
		sub = items
		divisor := decimal.NewFromInt(1).Add(cfg.VATRate.Div(hundred))
		net = Round(sub.Div(divisor))
		vat = Round(sub.Sub(net))
	} else {
		net = items
		vat = decimal.Zero
		if cfg.VATEnabled {
			vat = Round(net.Mul(cfg.VATRate).Div(hundred))
		}
		vat = Round(vat.Add(cfg.ManualVATAdjustment))
		sub = Round(net.Add(vat))
	}

	wht := decimal.Zero
	if cfg.WHTEnabled {
		wht = Round(net.Mul(cfg.WHTRate).Div(hundred))
	}

	return Totals{
		ItemsTotal:   items,
		NetBeforeVAT: net,
		VATAmount:    vat,
		Subtotal:     sub,
		WHTAmount:    wht,
		TotalAmount:  Round(sub.Sub(wht)),
	}
}

// Validate rejects negative tax rates.
func (c TaxConfig) Validate() error {
	if c.VATRate.IsNegative() {
		return ErrNegativeRate
	}
	if c.WHTRate.IsNegative() {
		return ErrNegativeRate
	}
	return nil
}
