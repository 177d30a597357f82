package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderflow/internal/domain/order"
)

const (
	insertHistorySQL = `INSERT INTO order_status_history (order_id, status, note, actor_id, trace_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	listHistorySQL = `SELECT id, order_id, status, note, actor_id, trace_id, created_at
		FROM order_status_history WHERE order_id = $1 ORDER BY id`
)

var _ order.HistoryLedger = (*HistoryRepository)(nil)

// HistoryRepository is the append-only order status history.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository returns a HistoryRepository that uses the given pool.
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

func (r *HistoryRepository) Append(ctx context.Context, e *order.StatusEntry) error {
	return appendHistory(ctx, r.pool, e)
}

// List returns the entries of an order, oldest first.
func (r *HistoryRepository) List(ctx context.Context, orderID int64) ([]order.StatusEntry, error) {
	rows, err := r.pool.Query(ctx, listHistorySQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "list history of order %d", orderID)
	}
	entries, err := pgx.CollectRows(rows, scanStatusEntry)
	if err != nil {
		return nil, errors.Wrapf(err, "list history of order %d", orderID)
	}
	return entries, nil
}

func appendHistory(ctx context.Context, q dbtx, e *order.StatusEntry) error {
	if err := q.QueryRow(ctx, insertHistorySQL,
		e.OrderID, string(e.Status), e.Note, e.ActorID, e.TraceID, e.CreatedAt,
	).Scan(&e.ID); err != nil {
		return errors.Wrapf(err, "append %s to history of order %d", e.Status, e.OrderID)
	}
	return nil
}

func scanStatusEntry(row pgx.CollectableRow) (order.StatusEntry, error) {
	var (
		e      order.StatusEntry
		status string
	)
	err := row.Scan(&e.ID, &e.OrderID, &status, &e.Note, &e.ActorID, &e.TraceID, &e.CreatedAt)
	e.Status = order.Status(status)
	return e, err
}
