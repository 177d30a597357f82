package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when the order does not exist or is not visible to
// the requester.
var ErrNotFound = errors.New("order not found")

// ValidationKind classifies a ValidationError.
type ValidationKind string

const (
	KindEmptyOrder        ValidationKind = "empty_order"
	KindInvalidQuantity   ValidationKind = "invalid_quantity"
	KindIncompleteAddress ValidationKind = "incomplete_address"
	KindMissingField      ValidationKind = "missing_field"
	KindInvalidAmount     ValidationKind = "invalid_amount"
	KindAmountMismatch    ValidationKind = "amount_mismatch"
	KindInvalidValue      ValidationKind = "invalid_value"
)

// ValidationError names the single request field that is missing or invalid.
type ValidationError struct {
	Kind   ValidationKind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports an illegal status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	if e.To == StatusCancelled {
		return fmt.Sprintf("Order cannot be cancelled. Current status: %s", e.From)
	}
	return fmt.Sprintf("Order cannot move from %s to %s", e.From, e.To)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
