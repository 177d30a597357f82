package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/pricing"
)

// Result is the outcome of a successful validation.
type Result struct {
	Coupon   *Coupon
	Discount decimal.Decimal
	Final    decimal.Decimal
}

// Validator checks a coupon code against an order amount.
type Validator interface {
	Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (*Result, error)
}

var _ Validator = (*RepoValidator)(nil)

// RepoValidator implements Validator on top of a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the code case-insensitively and returns the discount it
// grants on orderAmount. Validation never consumes a use of the coupon.
func (v *RepoValidator) Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (*Result, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrCodeRequired
	}
	if orderAmount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	discount, err := Apply(c, orderAmount, v.now())
	if err != nil {
		return nil, err
	}

	return &Result{
		Coupon:   c,
		Discount: discount,
		Final:    pricing.Round(pricing.FloorAtZero(orderAmount.Sub(discount))),
	}, nil
}
