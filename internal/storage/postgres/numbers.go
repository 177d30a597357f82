package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderflow/internal/domain/order"
)

const nextOrderNumberSQL = `SELECT nextval('order_number_seq')`

// DefaultNumberPrefix starts every order number unless configured otherwise.
const DefaultNumberPrefix = "ORD"

var _ order.NumberGenerator = (*NumberSequence)(nil)

// NumberSequence issues human-readable order numbers from a database
// sequence, so they stay unique across processes.
type NumberSequence struct {
	pool   *pgxpool.Pool
	prefix string
}

// NewNumberSequence returns a NumberSequence using prefix, or
// DefaultNumberPrefix when prefix is empty.
func NewNumberSequence(pool *pgxpool.Pool, prefix string) *NumberSequence {
	if prefix == "" {
		prefix = DefaultNumberPrefix
	}
	return &NumberSequence{pool: pool, prefix: prefix}
}

func (s *NumberSequence) Next(ctx context.Context, now time.Time) (string, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, nextOrderNumberSQL).Scan(&n); err != nil {
		return "", errors.Wrap(err, "next order number")
	}
	return FormatNumber(s.prefix, now, n), nil
}

// FormatNumber renders <prefix>-<YYYYMMDD>-<seq>, the sequence zero padded to
// six digits.
func FormatNumber(prefix string, now time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%06d", prefix, now.UTC().Format("20060102"), seq)
}
