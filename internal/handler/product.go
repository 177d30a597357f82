package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// listProducts handles GET /api/products. Only active products are listed.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("products")
		e.ArrStart()
		for _, p := range products {
			e.ObjStart()
			strField(e, "id", p.ID)
			strField(e, "name", p.Name)
			strField(e, "sku", p.SKU)
			moneyField(e, "price", p.Price)
			strField(e, "category", p.Category)
			e.FieldStart("stock_quantity")
			e.Int(p.StockQuantity)
			e.FieldStart("in_stock")
			e.Bool(p.StockQuantity > 0)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}
