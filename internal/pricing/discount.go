// Package pricing computes sale totals and unit discounts.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// Discount is a discount rule. A negative value is a flat currency amount of
// abs(value); a value between 0 and 100 is a percentage of the subtotal.
type Discount struct {
	value decimal.Decimal
}

// NewDiscount validates a raw discount value.
func NewDiscount(v decimal.Decimal) (Discount, error) {
	if v.GreaterThan(hundred) {
		return Discount{}, shared.Validationf("discount %s exceeds 100%%", v.String())
	}
	return Discount{value: v}, nil
}

// Value returns the raw rule value.
func (d Discount) Value() decimal.Decimal {
	return d.value
}

// IsFlat reports whether the discount is a fixed currency amount.
func (d Discount) IsFlat() bool {
	return d.value.IsNegative()
}

// Amount is the currency amount taken off subtotal, never more than subtotal.
func (d Discount) Amount(subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	if d.IsFlat() {
		amount = d.value.Abs()
	} else {
		amount = subtotal.Mul(d.value).Div(hundred).Round(2)
	}
	if amount.GreaterThan(subtotal) {
		return subtotal
	}
	return amount
}

// Apply returns the discount amount and the payable total for subtotal.
func (d Discount) Apply(subtotal decimal.Decimal) (discountAmount, total decimal.Decimal) {
	discountAmount = d.Amount(subtotal)
	total = subtotal.Sub(discountAmount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return discountAmount, total
}

// LineTotal is quantity times unit price.
func LineTotal(quantity int64, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(quantity))
}
