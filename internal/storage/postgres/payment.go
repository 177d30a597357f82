package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderflow/internal/domain/payment"
)

const (
	insertPaymentSQL = `INSERT INTO payments (id, order_id, payment_method, amount, status,
		transaction_id, gateway_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	deletePaymentSQL = `DELETE FROM payments WHERE id = $1`
)

var _ payment.Recorder = (*PaymentRepository)(nil)

// PaymentRepository stores payment intents.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Record inserts the intent. GatewayResponse must be a JSON document or empty.
func (r *PaymentRepository) Record(ctx context.Context, in *payment.Intent) error {
	var gateway any
	if len(in.GatewayResponse) > 0 {
		gateway = string(in.GatewayResponse)
	}
	if _, err := r.pool.Exec(ctx, insertPaymentSQL,
		in.ID, in.OrderID, string(in.Method), in.Amount, string(in.Status),
		in.TransactionID, gateway, in.CreatedAt,
	); err != nil {
		return errors.Wrapf(err, "record payment for order %d", in.OrderID)
	}
	return nil
}

func (r *PaymentRepository) Discard(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, deletePaymentSQL, id); err != nil {
		return errors.Wrapf(err, "discard payment %s", id)
	}
	return nil
}
