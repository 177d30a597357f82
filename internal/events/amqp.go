package events

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xenking/orderflow/internal/domain/order"
)

const (
	priorityDefault   uint8 = 4
	priorityCancelled uint8 = 8
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var _ order.Publisher = (*AMQPPublisher)(nil)

// AMQPPublisher publishes events to a durable topic exchange with the event
// type as routing key. Cancellations carry a higher priority so consumers
// release holds first.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	producer string
}

// NewAMQPPublisher dials url and declares exchange.
func NewAMQPPublisher(url, exchange, producer string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, producer: producer}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e order.Event) error {
	env := NewEnvelope(ctx, p.producer, e)
	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Priority:      priorityDefault,
		MessageId:     env.EventID.String(),
		CorrelationId: env.CorrelationID,
		Timestamp:     env.OccurredAt,
		Type:          string(env.EventType),
		AppId:         env.Producer,
		Body:          env.Bytes(),
	}
	if e.Type == order.EventCancelled {
		msg.Priority = priorityCancelled
	}

	// Channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, string(env.EventType), false, false, msg); err != nil {
		return errors.Wrapf(err, "publish %s", env.EventType)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	chErr := p.ch.Close()
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return errors.Wrap(err, "close connection")
		}
	}
	if chErr != nil {
		return errors.Wrap(chErr, "close channel")
	}
	return nil
}
