// Package order owns the order aggregate, its status machine and the
// orchestration of order placement and cancellation.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/payment"
	"github.com/xenking/orderflow/internal/domain/pricing"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

// ParseStatus returns the Status named by s.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	switch st {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return st, true
	default:
		return "", false
	}
}

// CanTransition reports whether the machine allows s -> to.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Address is a postal address. Field names follow the wire format.
type Address struct {
	FullName     string `json:"full_name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`
	Country      string `json:"country,omitempty"`
}

// MissingField returns the wire name of the first required field that is
// blank, or "" when the address is complete.
func (a Address) MissingField() string {
	required := [...]struct {
		name  string
		value string
	}{
		{"full_name", a.FullName},
		{"phone", a.Phone},
		{"address_line1", a.AddressLine1},
		{"city", a.City},
		{"state", a.State},
		{"pincode", a.Pincode},
	}
	for _, f := range required {
		if isBlank(f.value) {
			return f.name
		}
	}
	return ""
}

// Item is an immutable order line with the catalog snapshot taken at order time.
type Item struct {
	ID          int64
	ProductID   string
	ProductName string
	ProductSKU  string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
}

// Order is the order aggregate.
type Order struct {
	// ID is the internal storage identity.
	ID int64
	// OrderID is the external identifier. It is random and unrelated to Number.
	OrderID uuid.UUID
	// Number is the human readable order number.
	Number  string
	OwnerID string

	Status        Status
	PaymentStatus payment.Status
	Amounts       pricing.Breakdown

	ShippingAddress Address
	BillingAddress  Address
	Notes           string

	TrackingNumber    string
	EstimatedDelivery *time.Time
	DeliveredAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	Items []Item
}

// TotalItems is the sum of item quantities.
func (o *Order) TotalItems() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// CanBeCancelled reports whether the order may still be cancelled.
func (o *Order) CanBeCancelled() bool {
	return o.Status.CanTransition(StatusCancelled)
}

// ErrStatusConflict is returned by Repository.UpdateStatus when the stored
// status no longer equals StatusUpdate.From.
var ErrStatusConflict = errors.New("order status changed concurrently")

// StatusUpdate is a conditional status change. The history entry is written
// in the same transaction as the status.
type StatusUpdate struct {
	ID                int64
	From              Status
	To                Status
	TrackingNumber    string
	EstimatedDelivery *time.Time
	DeliveredAt       *time.Time
	Entry             *StatusEntry
	At                time.Time
}

// Repository persists orders.
type Repository interface {
	// Create stores the order with its items atomically and assigns IDs.
	Create(ctx context.Context, o *Order) error
	// Delete removes an order created by a failed placement. It is never
	// used for placed orders.
	Delete(ctx context.Context, id int64) error
	// Get returns the order with its items. A non-empty ownerID restricts
	// the lookup to that owner. Returns ErrNotFound.
	Get(ctx context.Context, orderID uuid.UUID, ownerID string) (*Order, error)
	// ListByOwner returns the owner's orders with items, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]Order, error)
	// UpdateStatus applies u if the stored status equals u.From and returns
	// the updated order without items. Returns ErrStatusConflict otherwise.
	UpdateStatus(ctx context.Context, u StatusUpdate) (*Order, error)
}

// NumberGenerator issues unique human readable order numbers.
type NumberGenerator interface {
	Next(ctx context.Context, now time.Time) (string, error)
}
