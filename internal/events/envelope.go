// Package events publishes order lifecycle events to a message broker.
package events

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/orderflow/internal/domain/order"
)

// EnvelopeVersion is bumped on incompatible payload changes.
const EnvelopeVersion = 1

// Envelope wraps every published event.
type Envelope struct {
	EventID       uuid.UUID
	EventType     order.EventType
	EventVersion  int
	OccurredAt    time.Time
	Producer      string
	TraceID       string
	CorrelationID string
	Payload       jx.Raw
}

// NewEnvelope wraps e for publishing. The correlation id is the public
// order id.
func NewEnvelope(ctx context.Context, producer string, e order.Event) Envelope {
	env := Envelope{
		EventID:       uuid.New(),
		EventType:     e.Type,
		EventVersion:  EnvelopeVersion,
		OccurredAt:    e.OccurredAt.UTC(),
		Producer:      producer,
		CorrelationID: e.Order.OrderID.String(),
		Payload:       encodePayload(e),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		env.TraceID = sc.TraceID().String()
	}
	return env
}

// Encode writes the envelope as a JSON object.
func (env Envelope) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("event_id")
	e.Str(env.EventID.String())
	e.FieldStart("event_type")
	e.Str(string(env.EventType))
	e.FieldStart("event_version")
	e.Int(env.EventVersion)
	e.FieldStart("occurred_at")
	e.Str(env.OccurredAt.Format(time.RFC3339Nano))
	e.FieldStart("producer")
	e.Str(env.Producer)
	if env.TraceID != "" {
		e.FieldStart("trace_id")
		e.Str(env.TraceID)
	}
	e.FieldStart("correlation_id")
	e.Str(env.CorrelationID)
	e.FieldStart("payload")
	e.Raw(env.Payload)
	e.ObjEnd()
}

// Bytes returns the JSON encoding of the envelope.
func (env Envelope) Bytes() []byte {
	var e jx.Encoder
	env.Encode(&e)
	return e.Bytes()
}

func encodePayload(ev order.Event) jx.Raw {
	o := ev.Order
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(o.OrderID.String())
	e.FieldStart("order_number")
	e.Str(o.Number)
	e.FieldStart("user_id")
	e.Str(o.OwnerID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("payment_status")
	e.Str(string(o.PaymentStatus))
	e.FieldStart("total_amount")
	e.Str(o.Amounts.Total.StringFixed(2))
	if o.TrackingNumber != "" {
		e.FieldStart("tracking_number")
		e.Str(o.TrackingNumber)
	}
	e.FieldStart("actor_id")
	e.Str(ev.ActorID)
	if ev.Note != "" {
		e.FieldStart("note")
		e.Str(ev.Note)
	}
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unit_price")
		e.Str(it.UnitPrice.StringFixed(2))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}
