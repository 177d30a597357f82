package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderflow/internal/domain/order"
	"github.com/xenking/orderflow/internal/domain/payment"
)

const (
	orderColumns = `id, order_id, order_number, user_id, status, payment_status,
		subtotal, tax_amount, shipping_cost, discount_amount, total_amount,
		shipping_address, billing_address, notes, tracking_number,
		estimated_delivery, delivered_at, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (order_id, order_number, user_id, status, payment_status,
		subtotal, tax_amount, shipping_cost, discount_amount, total_amount,
		shipping_address, billing_address, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		RETURNING id`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, position, product_id, product_name,
		product_sku, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE order_id = $1 AND ($2::text = '' OR user_id = $2)`

	listOrdersByOwnerSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

	listOrderItemsSQL = `SELECT order_id, id, product_id, product_name, product_sku, quantity, unit_price, total_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

	updateOrderStatusSQL = `UPDATE orders SET
		status = $3,
		tracking_number = COALESCE(NULLIF($4::text, ''), tracking_number),
		estimated_delivery = COALESCE($5::timestamptz, estimated_delivery),
		delivered_at = COALESCE($6::timestamptz, delivered_at),
		updated_at = $7
		WHERE id = $1 AND status = $2
		RETURNING ` + orderColumns

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order and its items in one transaction and assigns the
// generated row ids.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		a := o.Amounts
		if err := tx.QueryRow(ctx, insertOrderSQL,
			o.OrderID, o.Number, o.OwnerID, string(o.Status), string(o.PaymentStatus),
			a.Subtotal, a.Tax, a.Shipping, a.Discount, a.Total,
			o.ShippingAddress, o.BillingAddress, o.Notes, o.CreatedAt,
		).Scan(&o.ID); err != nil {
			return errors.Wrapf(err, "insert order %s", o.Number)
		}

		batch := &pgx.Batch{}
		for i := range o.Items {
			it := &o.Items[i]
			batch.Queue(insertOrderItemSQL,
				o.ID, i, it.ProductID, it.ProductName, it.ProductSKU,
				it.Quantity, it.UnitPrice, it.TotalPrice,
			).QueryRow(func(row pgx.Row) error {
				return row.Scan(&it.ID)
			})
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrapf(err, "insert items of order %s", o.Number)
		}
		return nil
	})
}

// Delete removes an order row. Items, payments and history cascade.
func (r *OrderRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, deleteOrderSQL, id); err != nil {
		return errors.Wrapf(err, "delete order %d", id)
	}
	return nil
}

// Get returns an order with its items. An empty ownerID matches any owner.
func (r *OrderRepository) Get(ctx context.Context, orderID uuid.UUID, ownerID string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, orderID, ownerID)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", orderID)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %s", orderID)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListByOwner returns the owner's orders with their items, newest first.
func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByOwnerSQL, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	byID := make(map[int64]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := r.pool.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return errors.Wrap(err, "list order items")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			parent int64
			it     order.Item
		)
		if err := rows.Scan(
			&parent, &it.ID, &it.ProductID, &it.ProductName, &it.ProductSKU,
			&it.Quantity, &it.UnitPrice, &it.TotalPrice,
		); err != nil {
			return errors.Wrap(err, "scan order item")
		}
		if o, ok := byID[parent]; ok {
			o.Items = append(o.Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "list order items")
	}
	return nil
}

// UpdateStatus applies u when the order is still in u.From and appends
// u.Entry in the same transaction. It returns order.ErrStatusConflict when
// the status moved on in between. The returned order has no items.
func (r *OrderRepository) UpdateStatus(ctx context.Context, u order.StatusUpdate) (*order.Order, error) {
	var updated order.Order
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, updateOrderStatusSQL,
			u.ID, string(u.From), string(u.To),
			u.TrackingNumber, u.EstimatedDelivery, u.DeliveredAt, u.At,
		)
		if err != nil {
			return errors.Wrap(err, "update status")
		}
		updated, err = pgx.CollectExactlyOneRow(rows, scanOrder)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, orderExistsSQL, u.ID).Scan(&exists); err != nil {
				return errors.Wrap(err, "check order")
			}
			if !exists {
				return order.ErrNotFound
			}
			return order.ErrStatusConflict
		}
		if err != nil {
			return errors.Wrap(err, "update status")
		}

		if u.Entry != nil {
			if err := appendHistory(ctx, tx, u.Entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status        string
		paymentStatus string
		estimated     *time.Time
		delivered     *time.Time
	)
	err := row.Scan(
		&o.ID, &o.OrderID, &o.Number, &o.OwnerID, &status, &paymentStatus,
		&o.Amounts.Subtotal, &o.Amounts.Tax, &o.Amounts.Shipping, &o.Amounts.Discount, &o.Amounts.Total,
		&o.ShippingAddress, &o.BillingAddress, &o.Notes, &o.TrackingNumber,
		&estimated, &delivered, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = payment.Status(paymentStatus)
	o.EstimatedDelivery = estimated
	o.DeliveredAt = delivered
	return o, err
}
