package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order amount, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount, never more than the order amount.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrNotFound is returned when no coupon matches the code.
	ErrNotFound = errors.New("invalid coupon code")
	// ErrInvalid matches every coupon that cannot be redeemed right now.
	ErrInvalid = errors.New("coupon is not valid or has expired")
	// ErrExpired matches coupons outside their validity window.
	ErrExpired = errors.New("coupon expired")
	// ErrCodeRequired is returned for a blank code.
	ErrCodeRequired = errors.New("coupon code is required")
	// ErrInvalidAmount is returned for a negative order amount.
	ErrInvalidAmount = errors.New("order amount must not be negative")
)

// Reason explains why a coupon is not valid.
type Reason string

const (
	ReasonInactive   Reason = "inactive"
	ReasonNotStarted Reason = "not_started"
	ReasonExpired    Reason = "expired"
	ReasonExhausted  Reason = "usage_limit_reached"
)

// InvalidError reports a coupon that exists but cannot be redeemed.
type InvalidError struct {
	Code   string
	Reason Reason
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("coupon %s is not valid: %s", e.Code, e.Reason)
}

// Is makes every InvalidError match ErrInvalid, and window violations ErrExpired.
func (e *InvalidError) Is(target error) bool {
	switch target {
	case ErrInvalid:
		return true
	case ErrExpired:
		return e.Reason == ReasonExpired || e.Reason == ReasonNotStarted
	default:
		return false
	}
}

// BelowMinimumError reports an order amount under the coupon's minimum.
type BelowMinimumError struct {
	Code    string
	Minimum decimal.Decimal
	Amount  decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("coupon %s requires a minimum order amount of %s", e.Code, e.Minimum.StringFixed(2))
}

// Coupon is a redeemable discount code. Codes are stored upper-cased.
type Coupon struct {
	Code               string
	Name               string
	Description        string
	DiscountType       DiscountType
	DiscountValue      decimal.Decimal
	MinimumOrderAmount decimal.Decimal
	// MaximumDiscount caps percentage discounts when Valid.
	MaximumDiscount decimal.NullDecimal
	// UsageLimit is unlimited when nil.
	UsageLimit *int
	UsedCount  int
	IsActive   bool
	ValidFrom  time.Time
	ValidUntil time.Time
}

// Check returns nil when the coupon can be redeemed at now, or an
// *InvalidError describing the first failed condition.
func (c *Coupon) Check(now time.Time) error {
	switch {
	case !c.IsActive:
		return &InvalidError{Code: c.Code, Reason: ReasonInactive}
	case now.Before(c.ValidFrom):
		return &InvalidError{Code: c.Code, Reason: ReasonNotStarted}
	case now.After(c.ValidUntil):
		return &InvalidError{Code: c.Code, Reason: ReasonExpired}
	case c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit:
		return &InvalidError{Code: c.Code, Reason: ReasonExhausted}
	}
	return nil
}

// IsValid reports whether the coupon is active, inside its window and not exhausted.
func (c *Coupon) IsValid(now time.Time) bool {
	return c.Check(now) == nil
}

// NormalizeCode trims and upper-cases a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository looks up coupons by their normalized code.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}
