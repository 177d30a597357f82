// Package handler exposes the order service over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/xenking/orderflow/internal/domain/auth"
	"github.com/xenking/orderflow/internal/domain/coupon"
	"github.com/xenking/orderflow/internal/domain/order"
	"github.com/xenking/orderflow/internal/domain/product"
	"github.com/xenking/orderflow/pkg/httpmiddleware"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// OrderService is the order workflow API the handlers call.
type OrderService interface {
	Place(ctx context.Context, actor auth.Identity, req order.PlaceRequest) (*order.Order, error)
	Cancel(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*order.Order, error)
	Advance(ctx context.Context, actor auth.Identity, orderID uuid.UUID, req order.AdvanceRequest) (*order.Order, error)
	Get(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*order.Order, error)
	List(ctx context.Context, actor auth.Identity) ([]order.Order, error)
	History(ctx context.Context, actor auth.Identity, orderID uuid.UUID) ([]order.StatusEntry, error)
}

var _ OrderService = (*order.Service)(nil)

// Handler serves the /api routes.
type Handler struct {
	orders   OrderService
	coupons  coupon.Validator
	products product.Repository
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orders OrderService, coupons coupon.Validator, products product.Repository) *Handler {
	return &Handler{
		orders:   orders,
		coupons:  coupons,
		products: products,
	}
}

// Router returns the API routes. mws run inside the router, in order, so
// they can read the matched route pattern and the caller identity.
func (h *Handler) Router(mws ...httpmiddleware.Middleware) chi.Router {
	r := chi.NewRouter()
	for _, mw := range mws {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, httpmiddleware.Error{
			Status:  http.StatusNotFound,
			Kind:    "not_found",
			Message: "Resource not found",
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, httpmiddleware.Error{
			Status:  http.StatusMethodNotAllowed,
			Kind:    "method_not_allowed",
			Message: "Method not allowed",
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)

		r.Group(func(r chi.Router) {
			r.Use(requireIdentity)

			r.Post("/coupons/validate", h.validateCoupon)

			r.Get("/orders", h.listOrders)
			r.Post("/orders", h.placeOrder)
			r.Post("/orders/cancel", h.cancelOrder)
			r.Get("/orders/{order_id}", h.getOrder)
			r.Get("/orders/{order_id}/history", h.orderHistory)
			r.Post("/orders/{order_id}/status", h.advanceOrder)
		})
	})
	return r
}
