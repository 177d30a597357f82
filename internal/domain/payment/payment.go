// Package payment records the payment intent created with every order. It
// does not talk to payment gateways.
package payment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Method is a short payment method code such as "cod" or a gateway code.
type Method string

// MethodCashOnDelivery is collected by the courier at delivery.
const MethodCashOnDelivery Method = "cod"

// Status of a payment intent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Intent is the recorded intention to pay for an order.
type Intent struct {
	ID            uuid.UUID
	OrderID       int64
	Method        Method
	Amount        decimal.Decimal
	Status        Status
	TransactionID string
	// GatewayResponse is the caller supplied payment_details payload, stored
	// verbatim as JSON. Nil when absent.
	GatewayResponse []byte
	CreatedAt       time.Time
}

// Recorder persists payment intents. Discard exists only to compensate a
// failed order creation.
type Recorder interface {
	Record(ctx context.Context, intent *Intent) error
	Discard(ctx context.Context, id uuid.UUID) error
}

// ParseMethod normalizes a method code, defaulting to cash on delivery.
func ParseMethod(s string) Method {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return MethodCashOnDelivery
	}
	return Method(s)
}

// InitialStatus is completed for cash on delivery and pending otherwise.
func (m Method) InitialStatus() Status {
	if m == MethodCashOnDelivery {
		return StatusCompleted
	}
	return StatusPending
}

// NewIntent builds the intent recorded when an order is placed.
func NewIntent(orderID int64, method Method, amount decimal.Decimal, details []byte, now time.Time) *Intent {
	return &Intent{
		ID:              uuid.New(),
		OrderID:         orderID,
		Method:          method,
		Amount:          amount,
		Status:          method.InitialStatus(),
		GatewayResponse: details,
		CreatedAt:       now,
	}
}
