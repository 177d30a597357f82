package events

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderflow/internal/domain/order"
	"github.com/xenking/orderflow/internal/domain/payment"
	"github.com/xenking/orderflow/internal/domain/pricing"
)

type mockWriter struct {
	msgs []kafka.Message
	err  error
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error { return nil }

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type mockChannel struct {
	published []published
	closed    bool
}

func (m *mockChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	m.published = append(m.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (m *mockChannel) Close() error {
	m.closed = true
	return nil
}

func testEvent(typ order.EventType) order.Event {
	o := &order.Order{
		OrderID:       uuid.MustParse("6f1c2a1e-8a63-4a43-9d7e-0d5a3b1f0c11"),
		Number:        "ORD-20260314-000007",
		OwnerID:       "user-1",
		Status:        order.StatusConfirmed,
		PaymentStatus: payment.StatusPending,
		Amounts:       pricing.Breakdown{Total: decimal.RequireFromString("1025.5")},
		Items: []order.Item{
			{ProductID: "laptop", Quantity: 2, UnitPrice: decimal.NewFromInt(500)},
			{ProductID: "mouse", Quantity: 1, UnitPrice: decimal.RequireFromString("25.5")},
		},
	}
	if typ == order.EventCancelled {
		o.Status = order.StatusCancelled
	}
	return order.Event{
		Type:       typ,
		Order:      o,
		ActorID:    "user-1",
		Note:       order.NotePlaced,
		OccurredAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

// decodeFields collects the top-level string and number fields of a JSON
// object, plus the raw payload.
func decodeFields(t *testing.T, b []byte) (map[string]string, []byte) {
	t.Helper()
	fields := make(map[string]string)
	var payload []byte
	err := jx.DecodeBytes(b).Obj(func(d *jx.Decoder, key string) error {
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			fields[key] = s
			return err
		case jx.Number:
			n, err := d.Num()
			fields[key] = n.String()
			return err
		default:
			raw, err := d.Raw()
			if key == "payload" {
				payload = append([]byte(nil), raw...)
			}
			return err
		}
	})
	require.NoError(t, err)
	return fields, payload
}

func TestEnvelope_Bytes(t *testing.T) {
	env := NewEnvelope(context.Background(), "orderflow", testEvent(order.EventPlaced))

	fields, payload := decodeFields(t, env.Bytes())
	assert.Equal(t, env.EventID.String(), fields["event_id"])
	assert.Equal(t, "order.placed", fields["event_type"])
	assert.Equal(t, "1", fields["event_version"])
	assert.Equal(t, "2026-03-14T09:30:00Z", fields["occurred_at"])
	assert.Equal(t, "orderflow", fields["producer"])
	assert.Equal(t, "6f1c2a1e-8a63-4a43-9d7e-0d5a3b1f0c11", fields["correlation_id"])
	assert.NotContains(t, fields, "trace_id")

	p, _ := decodeFields(t, payload)
	assert.Equal(t, "ORD-20260314-000007", p["order_number"])
	assert.Equal(t, "confirmed", p["status"])
	assert.Equal(t, "1025.50", p["total_amount"])
	assert.Equal(t, order.NotePlaced, p["note"])

	var quantities []int
	err := jx.DecodeBytes(payload).Obj(func(d *jx.Decoder, key string) error {
		if key != "items" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "quantity" {
					return d.Skip()
				}
				q, err := d.Int()
				quantities = append(quantities, q)
				return err
			})
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, quantities)
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaPublisher{w: w, producer: "orderflow"}

	require.NoError(t, p.Publish(context.Background(), testEvent(order.EventPlaced)))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "6f1c2a1e-8a63-4a43-9d7e-0d5a3b1f0c11", string(msg.Key))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "x-event-type", msg.Headers[0].Key)
	assert.Equal(t, "order.placed", string(msg.Headers[0].Value))
	assert.Equal(t, "1", string(msg.Headers[1].Value))

	fields, _ := decodeFields(t, msg.Value)
	assert.Equal(t, "order.placed", fields["event_type"])

	w.err = errors.New("leader not available")
	assert.Error(t, p.Publish(context.Background(), testEvent(order.EventPlaced)))
}

func TestAMQPPublisher_Publish(t *testing.T) {
	ch := &mockChannel{}
	p := &AMQPPublisher{ch: ch, exchange: "orders", producer: "orderflow"}

	require.NoError(t, p.Publish(context.Background(), testEvent(order.EventPlaced)))
	require.NoError(t, p.Publish(context.Background(), testEvent(order.EventCancelled)))
	require.Len(t, ch.published, 2)

	placed, cancelled := ch.published[0], ch.published[1]
	assert.Equal(t, "orders", placed.exchange)
	assert.Equal(t, "order.placed", placed.key)
	assert.Equal(t, amqp.Persistent, placed.msg.DeliveryMode)
	assert.Equal(t, "application/json", placed.msg.ContentType)
	assert.Equal(t, "6f1c2a1e-8a63-4a43-9d7e-0d5a3b1f0c11", placed.msg.CorrelationId)
	assert.Equal(t, "order.cancelled", cancelled.key)
	assert.Greater(t, cancelled.msg.Priority, placed.msg.Priority)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}
