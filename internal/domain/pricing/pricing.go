// Package pricing holds the monetary arithmetic shared by orders and coupons.
// All amounts are decimal and carry at most two fractional digits.
package pricing

import (
	"github.com/shopspring/decimal"
)

// Tolerance is the largest difference at which two amounts are treated as equal.
var Tolerance = decimal.New(1, -2)

var hundred = decimal.NewFromInt(100)

// Round rounds an amount to cents.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// LineTotal returns unitPrice * quantity rounded to cents.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return Round(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// Percent returns pct percent of amount, unrounded.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// Clamp limits d to the closed interval [0, upper].
func Clamp(d, upper decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(upper) {
		return upper
	}
	return d
}

// FloorAtZero clamps negative values to zero.
func FloorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Breakdown is the set of monetary fields carried by an order.
type Breakdown struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Total returns subtotal + tax + shipping - discount rounded to cents.
func Total(subtotal, tax, shipping, discount decimal.Decimal) decimal.Decimal {
	return Round(subtotal.Add(tax).Add(shipping).Sub(discount))
}

// ExpectedTotal returns the total implied by the other fields of b.
func (b Breakdown) ExpectedTotal() decimal.Decimal {
	return Total(b.Subtotal, b.Tax, b.Shipping, b.Discount)
}

// Consistent reports whether b.Total matches the other fields within Tolerance.
func (b Breakdown) Consistent() bool {
	return Equal(b.Total, b.ExpectedTotal())
}

// Equal reports whether a and b differ by no more than Tolerance.
func Equal(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// Sum adds amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
