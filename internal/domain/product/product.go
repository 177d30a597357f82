package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the catalog entry orders reference. Stock is owned by the
// inventory ledger; it is exposed here read-only.
type Product struct {
	ID            string
	Name          string
	SKU           string
	Price         decimal.Decimal
	Category      string
	StockQuantity int
	Active        bool
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
}
