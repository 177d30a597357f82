// Package inventory defines the stock ledger used to reserve and release
// product units for orders.
package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Snapshot is the catalog data captured at reservation time. It is never
// refreshed, so later catalog edits do not leak into placed orders.
type Snapshot struct {
	ProductID string
	Name      string
	SKU       string
	Price     decimal.Decimal
}

// Ledger adjusts product stock.
//
// Reserve must check existence, the active flag and availability and apply
// the decrement as one atomic step with respect to concurrent reservations of
// the same product. Release adds units back without preconditions; a missing
// product is logged, never reported as an error.
type Ledger interface {
	Reserve(ctx context.Context, productID string, quantity int) (Snapshot, error)
	Release(ctx context.Context, productID string, quantity int) error
}

// InsufficientStockError indicates the product has fewer units than requested.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

// ProductNotFoundError indicates the product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product with ID %s not found", e.ProductID)
}

// ProductInactiveError indicates the product exists but is not for sale.
type ProductInactiveError struct {
	ProductID string
}

func (e *ProductInactiveError) Error() string {
	return fmt.Sprintf("product %s is not available", e.ProductID)
}

// Reservation is a quantity of a product held for an order attempt.
type Reservation struct {
	Snapshot Snapshot
	Quantity int
}
