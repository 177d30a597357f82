package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// validateCoupon handles POST /api/coupons/validate. It never redeems the
// coupon.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	b, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code, amount, err := decodeCouponRequest(b)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.coupons.Validate(r.Context(), code, amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c := res.Coupon
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("valid")
		e.Bool(true)
		e.FieldStart("coupon")
		e.ObjStart()
		strField(e, "code", c.Code)
		strField(e, "name", c.Name)
		strField(e, "description", c.Description)
		strField(e, "discount_type", string(c.DiscountType))
		moneyField(e, "discount_value", c.DiscountValue)
		e.ObjEnd()
		moneyField(e, "discount_amount", res.Discount)
		moneyField(e, "final_amount", res.Final)
		e.ObjEnd()
	})
}
