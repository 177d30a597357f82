package order

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/inventory"
	"github.com/xenking/orderflow/internal/domain/payment"
	"github.com/xenking/orderflow/internal/domain/pricing"
)

const maxPaymentMethodLen = 20

// ItemRequest is a requested order line. Optional overrides replace the
// reserved catalog snapshot.
type ItemRequest struct {
	ProductID   string
	Quantity    int
	ProductName *string
	ProductSKU  *string
	UnitPrice   decimal.NullDecimal
	TotalPrice  decimal.NullDecimal
}

// PlaceRequest is a validated-at-the-boundary order placement request.
type PlaceRequest struct {
	Items []ItemRequest

	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal

	ShippingAddress Address
	// BillingAddress defaults to ShippingAddress when nil.
	BillingAddress *Address

	PaymentMethod  payment.Method
	PaymentDetails []byte
	Notes          string

	// IdempotencyKey deduplicates retried requests of the same owner.
	IdempotencyKey string
}

// Validate checks the request shape. It has no side effects and runs before
// any stock is reserved.
func (r *PlaceRequest) Validate() error {
	if len(r.Items) == 0 {
		return &ValidationError{Kind: KindEmptyOrder, Field: "items", Reason: "Order must contain at least one item"}
	}
	for i, it := range r.Items {
		field := func(name string) string { return fmt.Sprintf("items[%d].%s", i, name) }
		if isBlank(it.ProductID) {
			return &ValidationError{Kind: KindMissingField, Field: field("product_id"), Reason: "Each item must have a product_id"}
		}
		if it.Quantity < 1 {
			return &ValidationError{Kind: KindInvalidQuantity, Field: field("quantity"), Reason: "Each item must have a valid quantity"}
		}
		if it.UnitPrice.Valid && it.UnitPrice.Decimal.IsNegative() {
			return negativeAmount(field("unit_price"))
		}
		if it.TotalPrice.Valid && it.TotalPrice.Decimal.IsNegative() {
			return negativeAmount(field("total_price"))
		}
	}

	amounts := [...]struct {
		name  string
		value decimal.Decimal
	}{
		{"subtotal", r.Subtotal},
		{"tax_amount", r.Tax},
		{"shipping_cost", r.Shipping},
		{"discount_amount", r.Discount},
		{"total_amount", r.Total},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			return negativeAmount(a.name)
		}
	}

	if missing := r.ShippingAddress.MissingField(); missing != "" {
		return &ValidationError{
			Kind:   KindIncompleteAddress,
			Field:  "shipping_address." + missing,
			Reason: "Shipping address must include " + missing,
		}
	}
	if r.BillingAddress != nil {
		if missing := r.BillingAddress.MissingField(); missing != "" {
			return &ValidationError{
				Kind:   KindIncompleteAddress,
				Field:  "billing_address." + missing,
				Reason: "Billing address must include " + missing,
			}
		}
	}

	if len(r.PaymentMethod) > maxPaymentMethodLen {
		return &ValidationError{
			Kind:   KindInvalidValue,
			Field:  "payment_method",
			Reason: fmt.Sprintf("Ensure this field has no more than %d characters", maxPaymentMethodLen),
		}
	}
	return nil
}

func negativeAmount(field string) error {
	return &ValidationError{Kind: KindInvalidAmount, Field: field, Reason: "Amount must not be negative"}
}

// Identity carries the identifiers assigned to a new order.
type Identity struct {
	OrderID uuid.UUID
	Number  string
}

// Build assembles a confirmed order from a validated request and the
// reservations made for its items, in request order. Amounts are derived
// from the line totals and must agree with the request within
// pricing.Tolerance.
func Build(req *PlaceRequest, ownerID string, reserved []inventory.Reservation, id Identity, now time.Time) (*Order, error) {
	if len(reserved) != len(req.Items) {
		return nil, errors.Errorf("have %d reservations for %d items", len(reserved), len(req.Items))
	}

	items := make([]Item, len(req.Items))
	lineTotals := make([]decimal.Decimal, len(req.Items))
	for i, it := range req.Items {
		snap := reserved[i].Snapshot
		if snap.ProductID != it.ProductID || reserved[i].Quantity != it.Quantity {
			return nil, errors.Errorf("reservation %d does not match item %s", i, it.ProductID)
		}

		item := Item{
			ProductID:   it.ProductID,
			ProductName: snap.Name,
			ProductSKU:  snap.SKU,
			Quantity:    it.Quantity,
			UnitPrice:   pricing.Round(snap.Price),
		}
		if it.ProductName != nil && !isBlank(*it.ProductName) {
			item.ProductName = *it.ProductName
		}
		if it.ProductSKU != nil && !isBlank(*it.ProductSKU) {
			item.ProductSKU = *it.ProductSKU
		}
		if it.UnitPrice.Valid {
			item.UnitPrice = pricing.Round(it.UnitPrice.Decimal)
		}
		item.TotalPrice = pricing.LineTotal(item.UnitPrice, item.Quantity)
		if it.TotalPrice.Valid {
			if !pricing.Equal(it.TotalPrice.Decimal, item.TotalPrice) {
				return nil, mismatch(fmt.Sprintf("items[%d].total_price", i), it.TotalPrice.Decimal, item.TotalPrice)
			}
			item.TotalPrice = pricing.Round(it.TotalPrice.Decimal)
		}

		items[i] = item
		lineTotals[i] = item.TotalPrice
	}

	amounts := pricing.Breakdown{
		Subtotal: pricing.Sum(lineTotals...),
		Tax:      pricing.Round(req.Tax),
		Shipping: pricing.Round(req.Shipping),
		Discount: pricing.Round(req.Discount),
	}
	if !pricing.Equal(req.Subtotal, amounts.Subtotal) {
		return nil, mismatch("subtotal", req.Subtotal, amounts.Subtotal)
	}
	expected := amounts.ExpectedTotal()
	if expected.IsNegative() {
		return nil, &ValidationError{
			Kind:   KindInvalidAmount,
			Field:  "discount_amount",
			Reason: "Discount exceeds the order amount",
		}
	}
	// The requested total must agree with the recomputed breakdown; the
	// stored total is always the recomputed one.
	amounts.Total = req.Total
	if !amounts.Consistent() {
		return nil, mismatch("total_amount", req.Total, expected)
	}
	amounts.Total = expected

	billing := req.ShippingAddress
	if req.BillingAddress != nil {
		billing = *req.BillingAddress
	}

	return &Order{
		OrderID:         id.OrderID,
		Number:          id.Number,
		OwnerID:         ownerID,
		Status:          StatusConfirmed,
		PaymentStatus:   payment.StatusPending,
		Amounts:         amounts,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  billing,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
		Items:           items,
	}, nil
}

func mismatch(field string, got, want decimal.Decimal) error {
	return &ValidationError{
		Kind:   KindAmountMismatch,
		Field:  field,
		Reason: fmt.Sprintf("Expected %s, got %s", want.StringFixed(2), got.StringFixed(2)),
	}
}
