package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/orderflow/internal/domain/inventory"
)

type metrics struct {
	placed          metric.Int64Counter
	failed          metric.Int64Counter
	cancelled       metric.Int64Counter
	released        metric.Int64Counter
	releaseFailures metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var (
		m   metrics
		err error
	)
	if m.placed, err = meter.Int64Counter("orderflow.orders.placed",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "placed counter")
	}
	if m.failed, err = meter.Int64Counter("orderflow.orders.failed",
		metric.WithDescription("Order placements rejected or rolled back, by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "failed counter")
	}
	if m.cancelled, err = meter.Int64Counter("orderflow.orders.cancelled",
		metric.WithDescription("Orders cancelled"),
	); err != nil {
		return nil, errors.Wrap(err, "cancelled counter")
	}
	if m.released, err = meter.Int64Counter("orderflow.stock.released",
		metric.WithDescription("Units returned to stock by cancellations"),
		metric.WithUnit("{unit}"),
	); err != nil {
		return nil, errors.Wrap(err, "released counter")
	}
	if m.releaseFailures, err = meter.Int64Counter("orderflow.stock.release_failures",
		metric.WithDescription("Stock releases that failed after a committed cancellation"),
	); err != nil {
		return nil, errors.Wrap(err, "release failures counter")
	}
	return &m, nil
}

func (m *metrics) fail(ctx context.Context, err error) {
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", failureReason(err))))
}

func failureReason(err error) string {
	var (
		validationErr *ValidationError
		stockErr      *inventory.InsufficientStockError
		notFoundErr   *inventory.ProductNotFoundError
		inactiveErr   *inventory.ProductInactiveError
	)
	switch {
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.As(err, &notFoundErr):
		return "product_not_found"
	case errors.As(err, &inactiveErr):
		return "product_inactive"
	case errors.Is(err, ErrRequestInFlight):
		return "in_flight"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
