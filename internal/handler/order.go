package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	maxIdempotencyKeyLen = 255
)

func parseOrderID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, invalidValue("order_id", "\""+s+"\" is not a valid order id")
	}
	return id, nil
}

// placeOrder handles POST /api/orders.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	b, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := decodePlaceRequest(b)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.IdempotencyKey = r.Header.Get(idempotencyHeader)
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		writeError(w, r, invalidValue(idempotencyHeader, "Idempotency key is too long"))
		return
	}

	o, err := h.orders.Place(r.Context(), identity(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		strField(e, "message", "Order created successfully")
		strField(e, "order_id", o.OrderID.String())
		strField(e, "order_number", o.Number)
		e.FieldStart("order")
		encodeOrder(e, o)
		e.ObjEnd()
	})
}

// listOrders handles GET /api/orders.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context(), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("count")
		e.Int(len(orders))
		e.FieldStart("orders")
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// getOrder handles GET /api/orders/{order_id}.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(chi.URLParam(r, "order_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Get(r.Context(), identity(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

// cancelOrder handles POST /api/orders/cancel.
func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	b, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	raw, err := decodeCancelRequest(b)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := parseOrderID(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Cancel(r.Context(), identity(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		strField(e, "message", "Order cancelled successfully")
		e.FieldStart("order")
		encodeOrder(e, o)
		e.ObjEnd()
	})
}

// orderHistory handles GET /api/orders/{order_id}/history.
func (h *Handler) orderHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(chi.URLParam(r, "order_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.orders.History(r.Context(), identity(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		strField(e, "order_id", id.String())
		e.FieldStart("history")
		e.ArrStart()
		for _, entry := range entries {
			encodeStatusEntry(e, entry)
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// advanceOrder handles POST /api/orders/{order_id}/status. Staff only.
func (h *Handler) advanceOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(chi.URLParam(r, "order_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := decodeAdvanceRequest(b)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Advance(r.Context(), identity(r), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		strField(e, "message", "Order status updated to "+string(o.Status))
		e.FieldStart("order")
		encodeOrder(e, o)
		e.ObjEnd()
	})
}
