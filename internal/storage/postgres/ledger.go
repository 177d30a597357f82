package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/domain/inventory"
)

const (
	// The guard and the decrement run as a single statement, so concurrent
	// reservations of the same row serialize on its row lock.
	reserveStockSQL = `UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = now()
		WHERE id = $1 AND is_active AND stock_quantity >= $2
		RETURNING id, name, sku, price`

	stockStateSQL = `SELECT name, is_active, stock_quantity FROM products WHERE id = $1`

	releaseStockSQL = `UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = now()
		WHERE id = $1`
)

var _ inventory.Ledger = (*Ledger)(nil)

// Ledger implements inventory.Ledger with conditional updates on the
// products table.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger returns a Ledger that uses the given pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Reserve decrements stock when the product exists, is active and has at
// least quantity units. Otherwise it reports why nothing was reserved.
func (l *Ledger) Reserve(ctx context.Context, productID string, quantity int) (inventory.Snapshot, error) {
	rows, err := l.pool.Query(ctx, reserveStockSQL, productID, quantity)
	if err != nil {
		return inventory.Snapshot{}, errors.Wrapf(err, "reserve %s", productID)
	}

	snap, err := pgx.CollectExactlyOneRow(rows, scanSnapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Snapshot{}, l.rejection(ctx, productID, quantity)
	}
	if err != nil {
		return inventory.Snapshot{}, errors.Wrapf(err, "reserve %s", productID)
	}
	return snap, nil
}

// rejection explains a reservation that matched no row.
func (l *Ledger) rejection(ctx context.Context, productID string, quantity int) error {
	var (
		name      string
		active    bool
		available int
	)
	err := l.pool.QueryRow(ctx, stockStateSQL, productID).Scan(&name, &active, &available)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return &inventory.ProductNotFoundError{ProductID: productID}
	case err != nil:
		return errors.Wrapf(err, "load stock of %s", productID)
	case !active:
		return &inventory.ProductInactiveError{ProductID: productID}
	default:
		return &inventory.InsufficientStockError{
			ProductID: productID,
			Name:      name,
			Requested: quantity,
			Available: available,
		}
	}
}

// Release adds quantity units back. A product that no longer exists is
// logged and skipped.
func (l *Ledger) Release(ctx context.Context, productID string, quantity int) error {
	tag, err := l.pool.Exec(ctx, releaseStockSQL, productID, quantity)
	if err != nil {
		return errors.Wrapf(err, "release %s", productID)
	}
	if tag.RowsAffected() == 0 {
		zctx.From(ctx).Warn("Released stock for missing product",
			zap.String("product_id", productID),
			zap.Int("quantity", quantity),
		)
	}
	return nil
}

func scanSnapshot(row pgx.CollectableRow) (inventory.Snapshot, error) {
	var s inventory.Snapshot
	err := row.Scan(&s.ProductID, &s.Name, &s.SKU, &s.Price)
	return s, err
}
