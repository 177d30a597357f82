package order

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Notes written to the status history by the built-in workflows.
const (
	NotePlaced          = "Order placed successfully"
	NoteCancelledByUser = "Cancelled by user"
	NoteCancelledStaff  = "Cancelled by staff"
)

// StatusEntry is one immutable row of an order's status history.
type StatusEntry struct {
	ID      int64
	OrderID int64
	Status  Status
	Note    string
	ActorID string
	// TraceID links the entry to the request trace, when one was active.
	TraceID   string
	CreatedAt time.Time
}

// HistoryLedger is the append-only status history store.
type HistoryLedger interface {
	Append(ctx context.Context, e *StatusEntry) error
	// List returns the entries of an order, oldest first.
	List(ctx context.Context, orderID int64) ([]StatusEntry, error)
}

// NewStatusEntry builds an entry stamped with the trace of ctx.
func NewStatusEntry(ctx context.Context, orderID int64, status Status, note, actorID string, now time.Time) *StatusEntry {
	e := &StatusEntry{
		OrderID:   orderID,
		Status:    status,
		Note:      note,
		ActorID:   actorID,
		CreatedAt: now,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		e.TraceID = sc.TraceID().String()
	}
	return e
}
