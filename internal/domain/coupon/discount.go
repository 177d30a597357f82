package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/pricing"
)

// Apply computes the discount c grants on amount at now. The result is
// clamped to [0, amount] and rounded to cents.
func Apply(c *Coupon, amount decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if err := c.Check(now); err != nil {
		return decimal.Zero, err
	}
	if amount.LessThan(c.MinimumOrderAmount) {
		return decimal.Zero, &BelowMinimumError{
			Code:    c.Code,
			Minimum: c.MinimumOrderAmount,
			Amount:  amount,
		}
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		discount = pricing.Percent(amount, c.DiscountValue)
		if c.MaximumDiscount.Valid && discount.GreaterThan(c.MaximumDiscount.Decimal) {
			discount = c.MaximumDiscount.Decimal
		}
	case DiscountFixed:
		discount = decimal.Min(c.DiscountValue, amount)
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}

	return pricing.Round(pricing.Clamp(discount, amount)), nil
}
