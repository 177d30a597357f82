package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderflow/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, name, description, discount_type, discount_value,
		minimum_order_amount, maximum_discount_amount, usage_limit, used_count,
		is_active, valid_from, valid_until
		FROM coupons WHERE code = UPPER($1)`

	upsertCouponSQL = `INSERT INTO coupons (code, name, description, discount_type, discount_value,
		minimum_order_amount, maximum_discount_amount, usage_limit, is_active, valid_from, valid_until)
		VALUES (UPPER($1), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			minimum_order_amount = EXCLUDED.minimum_order_amount,
			maximum_discount_amount = EXCLUDED.maximum_discount_amount,
			usage_limit = EXCLUDED.usage_limit,
			is_active = EXCLUDED.is_active,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode returns the coupon with the given code, active or not, or
// coupon.ErrNotFound.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &c, nil
}

// Upsert creates or replaces a coupon definition. The usage counter is kept.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	if _, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.Code, c.Name, c.Description, string(c.DiscountType), c.DiscountValue,
		c.MinimumOrderAmount, c.MaximumDiscount, c.UsageLimit, c.IsActive,
		c.ValidFrom, c.ValidUntil,
	); err != nil {
		return errors.Wrapf(err, "upsert coupon %s", c.Code)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		usageLimit   *int32
		usedCount    int32
	)
	err := row.Scan(
		&c.Code, &c.Name, &c.Description, &discountType, &c.DiscountValue,
		&c.MinimumOrderAmount, &c.MaximumDiscount, &usageLimit, &usedCount,
		&c.IsActive, &c.ValidFrom, &c.ValidUntil,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	if usageLimit != nil {
		limit := int(*usageLimit)
		c.UsageLimit = &limit
	}
	c.UsedCount = int(usedCount)
	return c, err
}
