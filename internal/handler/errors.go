package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/domain/auth"
	"github.com/xenking/orderflow/internal/domain/coupon"
	"github.com/xenking/orderflow/internal/domain/inventory"
	"github.com/xenking/orderflow/internal/domain/order"
	"github.com/xenking/orderflow/internal/domain/product"
	"github.com/xenking/orderflow/pkg/httpmiddleware"
)

// mapError converts domain errors to API errors. Unknown errors become an
// opaque 500.
func mapError(err error) httpmiddleware.Error {
	var (
		validationErr *order.ValidationError
		transitionErr *order.InvalidTransitionError
		stockErr      *inventory.InsufficientStockError
		missingErr    *inventory.ProductNotFoundError
		inactiveErr   *inventory.ProductInactiveError
		minimumErr    *coupon.BelowMinimumError
	)
	switch {
	case errors.As(err, &validationErr):
		return httpmiddleware.Error{
			Status:  http.StatusBadRequest,
			Kind:    string(validationErr.Kind),
			Message: validationErr.Reason,
			Field:   validationErr.Field,
		}
	case errors.Is(err, auth.ErrUnauthenticated):
		return httpmiddleware.Error{Status: http.StatusUnauthorized, Kind: "unauthenticated", Message: auth.ErrUnauthenticated.Error()}
	case errors.Is(err, auth.ErrForbidden):
		return httpmiddleware.Error{Status: http.StatusForbidden, Kind: "forbidden", Message: auth.ErrForbidden.Error()}
	case errors.Is(err, order.ErrNotFound):
		return httpmiddleware.Error{Status: http.StatusNotFound, Kind: "order_not_found", Message: "Order not found"}
	case errors.As(err, &missingErr):
		return httpmiddleware.Error{Status: http.StatusNotFound, Kind: "product_not_found", Message: missingErr.Error()}
	case errors.Is(err, product.ErrNotFound):
		return httpmiddleware.Error{Status: http.StatusNotFound, Kind: "product_not_found", Message: "Product not found"}
	case errors.As(err, &stockErr):
		return httpmiddleware.Error{
			Status:  http.StatusConflict,
			Kind:    "insufficient_stock",
			Message: stockErr.Error(),
			Details: func(e *jx.Encoder) {
				strField(e, "product_id", stockErr.ProductID)
				e.FieldStart("requested")
				e.Int(stockErr.Requested)
				e.FieldStart("available")
				e.Int(stockErr.Available)
			},
		}
	case errors.As(err, &inactiveErr):
		return httpmiddleware.Error{Status: http.StatusConflict, Kind: "product_inactive", Message: inactiveErr.Error()}
	case errors.As(err, &transitionErr):
		return httpmiddleware.Error{Status: http.StatusConflict, Kind: "invalid_transition", Message: transitionErr.Error()}
	case errors.Is(err, order.ErrRequestInFlight):
		return httpmiddleware.Error{Status: http.StatusConflict, Kind: "request_in_flight", Message: "A request with this Idempotency-Key is still being processed"}
	case errors.Is(err, coupon.ErrCodeRequired):
		return httpmiddleware.Error{Status: http.StatusBadRequest, Kind: string(order.KindMissingField), Message: "Coupon code is required", Field: "code"}
	case errors.Is(err, coupon.ErrInvalidAmount):
		return httpmiddleware.Error{Status: http.StatusBadRequest, Kind: string(order.KindInvalidAmount), Message: "Order amount must not be negative", Field: "order_amount"}
	case errors.Is(err, coupon.ErrNotFound):
		return httpmiddleware.Error{Status: http.StatusNotFound, Kind: "coupon_not_found", Message: "Invalid coupon code"}
	case errors.Is(err, coupon.ErrExpired):
		return httpmiddleware.Error{Status: http.StatusUnprocessableEntity, Kind: "coupon_expired", Message: "Coupon is not valid or has expired"}
	case errors.Is(err, coupon.ErrInvalid):
		return httpmiddleware.Error{Status: http.StatusUnprocessableEntity, Kind: "coupon_invalid", Message: "Coupon is not valid or has expired"}
	case errors.As(err, &minimumErr):
		return httpmiddleware.Error{
			Status:  http.StatusUnprocessableEntity,
			Kind:    "below_minimum",
			Message: "Minimum order amount of " + minimumErr.Minimum.StringFixed(2) + " required",
		}
	default:
		return httpmiddleware.Error{Status: http.StatusInternalServerError, Kind: "internal", Message: "An internal error occurred"}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := mapError(err)
	if e.Status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Unexpected error", zap.Error(err))
	}
	httpmiddleware.WriteError(w, e)
}
