package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/domain/auth"
	"github.com/xenking/orderflow/internal/domain/inventory"
	"github.com/xenking/orderflow/internal/domain/payment"
	"github.com/xenking/orderflow/internal/saga"
)

const instrumentationName = "github.com/xenking/orderflow/internal/domain/order"

// Deps are the collaborators of Service. Publisher, Idempotency and the
// telemetry providers are optional.
type Deps struct {
	Ledger   inventory.Ledger
	Orders   Repository
	History  HistoryLedger
	Payments payment.Recorder
	Numbers  NumberGenerator

	Publisher   Publisher
	Idempotency IdempotencyStore
	// PlaceTimeout bounds a single placement when positive. It must stay
	// below the time an idempotency claim is held.
	PlaceTimeout time.Duration

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Service coordinates the inventory ledger, the order store, the payment
// recorder and the status history into the order lifecycle workflows.
type Service struct {
	ledger    inventory.Ledger
	orders    Repository
	history   HistoryLedger
	payments  payment.Recorder
	numbers   NumberGenerator
	publisher Publisher
	idem      IdempotencyStore

	placeTimeout  time.Duration
	completeRetry time.Duration

	tracer  trace.Tracer
	metrics *metrics
	now     func() time.Time
	newID   func() uuid.UUID
}

// NewService creates an order Service.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Ledger == nil:
		return nil, errors.New("ledger is required")
	case d.Orders == nil:
		return nil, errors.New("order repository is required")
	case d.History == nil:
		return nil, errors.New("history ledger is required")
	case d.Payments == nil:
		return nil, errors.New("payment recorder is required")
	case d.Numbers == nil:
		return nil, errors.New("number generator is required")
	}
	if d.TracerProvider == nil {
		d.TracerProvider = tracenoop.NewTracerProvider()
	}
	if d.MeterProvider == nil {
		d.MeterProvider = metricnoop.NewMeterProvider()
	}

	m, err := newMetrics(d.MeterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}

	return &Service{
		ledger:    d.Ledger,
		orders:    d.Orders,
		history:   d.History,
		payments:  d.Payments,
		numbers:   d.Numbers,
		publisher: d.Publisher,
		idem:      d.Idempotency,

		placeTimeout:  d.PlaceTimeout,
		completeRetry: 100 * time.Millisecond,

		tracer:  d.TracerProvider.Tracer(instrumentationName),
		metrics: m,
		now:     time.Now,
		newID:   uuid.New,
	}, nil
}

// Place creates a confirmed order for the requester. Either the order, its
// items, its payment intent and its first history entry all persist and the
// stock of every item is decremented, or nothing does.
func (s *Service) Place(ctx context.Context, actor auth.Identity, req PlaceRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Place",
		trace.WithAttributes(attribute.Int("order.items", len(req.Items))),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, "place order")
			s.metrics.fail(ctx, rerr)
		}
		span.End()
	}()

	req.PaymentMethod = payment.ParseMethod(string(req.PaymentMethod))
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if key := req.IdempotencyKey; key != "" && s.idem != nil {
		existing, claimed, err := s.idem.Claim(ctx, actor.UserID, key)
		if err != nil {
			return nil, errors.Wrap(err, "claim idempotency key")
		}
		if !claimed {
			zctx.From(ctx).Info("Replaying placed order",
				zap.String("idempotency_key", key),
				zap.Stringer("order_id", existing),
			)
			return s.orders.Get(ctx, existing, actor.UserID)
		}
		defer func() {
			s.settleIdempotencyKey(ctx, actor.UserID, key, rerr)
		}()
	}

	placeCtx := ctx
	if s.placeTimeout > 0 {
		var cancel context.CancelFunc
		placeCtx, cancel = context.WithTimeout(ctx, s.placeTimeout)
		defer cancel()
	}
	o, err := s.place(placeCtx, actor, &req)
	if err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" && s.idem != nil {
		s.completeIdempotencyKey(ctx, actor.UserID, req.IdempotencyKey, o.OrderID)
	}

	span.SetAttributes(attribute.String("order.number", o.Number))
	s.metrics.placed.Add(ctx, 1)
	zctx.From(ctx).Info("Order placed",
		zap.Stringer("order_id", o.OrderID),
		zap.String("order_number", o.Number),
		zap.String("total", o.Amounts.Total.StringFixed(2)),
	)
	s.publish(ctx, Event{Type: EventPlaced, Order: o, ActorID: actor.UserID, Note: NotePlaced, OccurredAt: o.CreatedAt})

	return o, nil
}

const completeAttempts = 3

// completeIdempotencyKey records the placed order for key. Until it succeeds
// the claim only lives for its pending TTL, after which a retry would place
// a second order, so failures are retried before giving up.
func (s *Service) completeIdempotencyKey(ctx context.Context, ownerID, key string, orderID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		if err = s.idem.Complete(ctx, ownerID, key, orderID); err == nil {
			return
		}
		if attempt < completeAttempts {
			time.Sleep(time.Duration(attempt) * s.completeRetry)
		}
	}
	zctx.From(ctx).Error("Failed to record idempotency key",
		zap.String("idempotency_key", key),
		zap.Stringer("order_id", orderID),
		zap.Error(err),
	)
}

func (s *Service) settleIdempotencyKey(ctx context.Context, ownerID, key string, err error) {
	if err == nil {
		return
	}
	if aerr := s.idem.Abandon(context.WithoutCancel(ctx), ownerID, key); aerr != nil {
		zctx.From(ctx).Warn("Failed to abandon idempotency key", zap.Error(aerr))
	}
}

// place runs the creation steps: one reservation per item in request order,
// then the order, the payment intent and the history entry. Completed steps
// are compensated in reverse order when a later one fails.
func (s *Service) place(ctx context.Context, actor auth.Identity, req *PlaceRequest) (*Order, error) {
	var (
		now      = s.now()
		reserved = make([]inventory.Reservation, 0, len(req.Items))
		o        *Order
		intent   *payment.Intent
	)

	steps := make([]saga.Step, 0, len(req.Items)+3)
	for _, it := range req.Items {
		steps = append(steps, saga.Step{
			Name: "reserve " + it.ProductID,
			Execute: func(ctx context.Context) error {
				snap, err := s.ledger.Reserve(ctx, it.ProductID, it.Quantity)
				if err != nil {
					return err
				}
				reserved = append(reserved, inventory.Reservation{Snapshot: snap, Quantity: it.Quantity})
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return s.ledger.Release(ctx, it.ProductID, it.Quantity)
			},
		})
	}

	steps = append(steps,
		saga.Step{
			Name: "persist order",
			Execute: func(ctx context.Context) error {
				number, err := s.numbers.Next(ctx, now)
				if err != nil {
					return errors.Wrap(err, "next order number")
				}
				built, err := Build(req, actor.UserID, reserved, Identity{OrderID: s.newID(), Number: number}, now)
				if err != nil {
					return err
				}
				if err := s.orders.Create(ctx, built); err != nil {
					return errors.Wrap(err, "create order")
				}
				o = built
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return s.orders.Delete(ctx, o.ID)
			},
		},
		saga.Step{
			Name: "record payment",
			Execute: func(ctx context.Context) error {
				intent = payment.NewIntent(o.ID, req.PaymentMethod, o.Amounts.Total, req.PaymentDetails, now)
				if err := s.payments.Record(ctx, intent); err != nil {
					return errors.Wrap(err, "record payment")
				}
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return s.payments.Discard(ctx, intent.ID)
			},
		},
		saga.Step{
			Name: "append history",
			Execute: func(ctx context.Context) error {
				e := NewStatusEntry(ctx, o.ID, StatusConfirmed, NotePlaced, actor.UserID, now)
				if err := s.history.Append(ctx, e); err != nil {
					return errors.Wrap(err, "append history")
				}
				return nil
			},
		},
	)

	if err := saga.Run(ctx, steps); err != nil {
		var stepErr *saga.StepError
		if errors.As(err, &stepErr) && len(stepErr.CompensationErrs) > 0 {
			zctx.From(ctx).Error("Order placement rolled back with errors",
				zap.String("step", stepErr.Step),
				zap.Errors("compensation_errors", stepErr.CompensationErrs),
			)
		}
		return nil, err
	}
	return o, nil
}

// Cancel cancels an order owned by the requester and returns its stock.
func (s *Service) Cancel(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Cancel",
		trace.WithAttributes(attribute.String("order.id", orderID.String())),
	)
	defer span.End()

	o, err := s.orders.Get(ctx, orderID, actor.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	updated, err := s.cancel(ctx, actor, o, NoteCancelledByUser)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel order")
		return nil, err
	}
	return updated, nil
}

// cancel commits the status change with its history entry first and only
// then releases stock, so stock never returns for a cancellation that did not
// persist. Release failures after the commit are logged and counted.
func (s *Service) cancel(ctx context.Context, actor auth.Identity, o *Order, note string) (*Order, error) {
	if !o.CanBeCancelled() {
		return nil, &InvalidTransitionError{From: o.Status, To: StatusCancelled}
	}

	now := s.now()
	updated, err := s.transition(ctx, o, StatusUpdate{
		ID:    o.ID,
		From:  o.Status,
		To:    StatusCancelled,
		Entry: NewStatusEntry(ctx, o.ID, StatusCancelled, note, actor.UserID, now),
		At:    now,
	})
	if err != nil {
		return nil, err
	}

	s.releaseStock(context.WithoutCancel(ctx), updated)
	s.metrics.cancelled.Add(ctx, 1)
	zctx.From(ctx).Info("Order cancelled",
		zap.Stringer("order_id", updated.OrderID),
		zap.String("order_number", updated.Number),
		zap.String("actor", actor.UserID),
	)
	s.publish(ctx, Event{Type: EventCancelled, Order: updated, ActorID: actor.UserID, Note: note, OccurredAt: now})

	return updated, nil
}

func (s *Service) releaseStock(ctx context.Context, o *Order) {
	lg := zctx.From(ctx)
	for _, it := range o.Items {
		if err := s.ledger.Release(ctx, it.ProductID, it.Quantity); err != nil {
			s.metrics.releaseFailures.Add(ctx, 1)
			lg.Error("Failed to release stock for cancelled order",
				zap.Stringer("order_id", o.OrderID),
				zap.String("product_id", it.ProductID),
				zap.Int("quantity", it.Quantity),
				zap.Error(err),
			)
			continue
		}
		s.metrics.released.Add(ctx, int64(it.Quantity))
	}
}

// transition applies a conditional status update. A concurrent change is
// reported as an InvalidTransitionError naming the status that won.
func (s *Service) transition(ctx context.Context, o *Order, u StatusUpdate) (*Order, error) {
	updated, err := s.orders.UpdateStatus(ctx, u)
	switch {
	case errors.Is(err, ErrStatusConflict):
		current, gerr := s.orders.Get(ctx, o.OrderID, "")
		if gerr != nil {
			return nil, errors.Wrap(gerr, "reload order")
		}
		return nil, &InvalidTransitionError{From: current.Status, To: u.To}
	case err != nil:
		return nil, errors.Wrap(err, "update order status")
	}
	updated.Items = o.Items
	return updated, nil
}

// AdvanceRequest moves an order forward in its lifecycle.
type AdvanceRequest struct {
	To                Status
	Note              string
	TrackingNumber    string
	EstimatedDelivery *time.Time
}

// Advance applies a staff status change. Cancelling through Advance releases
// stock exactly like Cancel.
func (s *Service) Advance(ctx context.Context, actor auth.Identity, orderID uuid.UUID, req AdvanceRequest) (*Order, error) {
	if !actor.IsStaff() {
		return nil, auth.ErrForbidden
	}
	ctx, span := s.tracer.Start(ctx, "order.Advance", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("order.status", string(req.To)),
	))
	defer span.End()

	o, err := s.orders.Get(ctx, orderID, "")
	if err != nil {
		return nil, err
	}

	if req.To == StatusCancelled {
		note := req.Note
		if note == "" {
			note = NoteCancelledStaff
		}
		return s.cancel(ctx, actor, o, note)
	}
	if !o.Status.CanTransition(req.To) {
		return nil, &InvalidTransitionError{From: o.Status, To: req.To}
	}
	if req.To == StatusShipped && isBlank(req.TrackingNumber) {
		return nil, &ValidationError{
			Kind:   KindMissingField,
			Field:  "tracking_number",
			Reason: "Shipped orders require a tracking number",
		}
	}

	now := s.now()
	note := req.Note
	if note == "" {
		note = fmt.Sprintf("Status changed to %s", req.To)
	}
	u := StatusUpdate{
		ID:                o.ID,
		From:              o.Status,
		To:                req.To,
		TrackingNumber:    req.TrackingNumber,
		EstimatedDelivery: req.EstimatedDelivery,
		Entry:             NewStatusEntry(ctx, o.ID, req.To, note, actor.UserID, now),
		At:                now,
	}
	if req.To == StatusDelivered {
		u.DeliveredAt = &now
	}

	updated, err := s.transition(ctx, o, u)
	if err != nil {
		return nil, err
	}
	zctx.From(ctx).Info("Order status changed",
		zap.Stringer("order_id", updated.OrderID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(updated.Status)),
	)
	s.publish(ctx, Event{Type: EventStatusChanged, Order: updated, ActorID: actor.UserID, Note: note, OccurredAt: now})
	return updated, nil
}

// Get returns an order visible to the requester. Staff see every order.
func (s *Service) Get(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*Order, error) {
	return s.orders.Get(ctx, orderID, ownerScope(actor))
}

// List returns the requester's orders, newest first.
func (s *Service) List(ctx context.Context, actor auth.Identity) ([]Order, error) {
	orders, err := s.orders.ListByOwner(ctx, actor.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// History returns the status history of an order visible to the requester,
// oldest first.
func (s *Service) History(ctx context.Context, actor auth.Identity, orderID uuid.UUID) ([]StatusEntry, error) {
	o, err := s.orders.Get(ctx, orderID, ownerScope(actor))
	if err != nil {
		return nil, err
	}
	entries, err := s.history.List(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list history")
	}
	return entries, nil
}

func ownerScope(actor auth.Identity) string {
	if actor.IsStaff() {
		return ""
	}
	return actor.UserID
}

// publish delivers e after its change committed. Failures are logged only:
// the order state is already durable.
func (s *Service) publish(ctx context.Context, e Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Failed to publish order event",
			zap.String("event", string(e.Type)),
			zap.Stringer("order_id", e.Order.OrderID),
			zap.Error(err),
		)
	}
}
