package order

import (
	"context"
	"time"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventPlaced        EventType = "order.placed"
	EventCancelled     EventType = "order.cancelled"
	EventStatusChanged EventType = "order.status_changed"
)

// Event is published after a lifecycle change has been committed.
type Event struct {
	Type       EventType
	Order      *Order
	ActorID    string
	Note       string
	OccurredAt time.Time
}

// Publisher delivers lifecycle events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
