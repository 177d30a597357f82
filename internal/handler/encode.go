package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/order"
)

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func strField(e *jx.Encoder, name, v string) {
	e.FieldStart(name)
	e.Str(v)
}

// moneyField writes an amount as a string with two decimals.
func moneyField(e *jx.Encoder, name string, v decimal.Decimal) {
	e.FieldStart(name)
	e.Str(v.StringFixed(2))
}

func timeField(e *jx.Encoder, name string, t time.Time) {
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339))
}

func optTimeField(e *jx.Encoder, name string, t *time.Time) {
	if t == nil {
		e.FieldStart(name)
		e.Null()
		return
	}
	timeField(e, name, *t)
}

func encodeAddress(e *jx.Encoder, a order.Address) {
	e.ObjStart()
	strField(e, "full_name", a.FullName)
	strField(e, "phone", a.Phone)
	strField(e, "address_line1", a.AddressLine1)
	if a.AddressLine2 != "" {
		strField(e, "address_line2", a.AddressLine2)
	}
	strField(e, "city", a.City)
	strField(e, "state", a.State)
	strField(e, "pincode", a.Pincode)
	if a.Country != "" {
		strField(e, "country", a.Country)
	}
	e.ObjEnd()
}

func encodeItem(e *jx.Encoder, it order.Item) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(it.ID)
	strField(e, "product_id", it.ProductID)
	strField(e, "product_name", it.ProductName)
	strField(e, "product_sku", it.ProductSKU)
	e.FieldStart("quantity")
	e.Int(it.Quantity)
	moneyField(e, "unit_price", it.UnitPrice)
	moneyField(e, "total_price", it.TotalPrice)
	e.ObjEnd()
}

// encodeOrder writes the order view with its items and derived fields.
func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	strField(e, "order_id", o.OrderID.String())
	strField(e, "order_number", o.Number)
	strField(e, "user_id", o.OwnerID)
	strField(e, "status", string(o.Status))
	strField(e, "payment_status", string(o.PaymentStatus))

	moneyField(e, "subtotal", o.Amounts.Subtotal)
	moneyField(e, "tax_amount", o.Amounts.Tax)
	moneyField(e, "shipping_cost", o.Amounts.Shipping)
	moneyField(e, "discount_amount", o.Amounts.Discount)
	moneyField(e, "total_amount", o.Amounts.Total)

	e.FieldStart("shipping_address")
	encodeAddress(e, o.ShippingAddress)
	e.FieldStart("billing_address")
	encodeAddress(e, o.BillingAddress)
	strField(e, "notes", o.Notes)

	strField(e, "tracking_number", o.TrackingNumber)
	optTimeField(e, "estimated_delivery", o.EstimatedDelivery)
	optTimeField(e, "delivered_at", o.DeliveredAt)
	timeField(e, "created_at", o.CreatedAt)
	timeField(e, "updated_at", o.UpdatedAt)

	e.FieldStart("can_be_cancelled")
	e.Bool(o.CanBeCancelled())
	e.FieldStart("total_items")
	e.Int(o.TotalItems())
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		encodeItem(e, it)
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeStatusEntry(e *jx.Encoder, s order.StatusEntry) {
	e.ObjStart()
	strField(e, "status", string(s.Status))
	strField(e, "note", s.Note)
	strField(e, "changed_by", s.ActorID)
	if s.TraceID != "" {
		strField(e, "trace_id", s.TraceID)
	}
	timeField(e, "created_at", s.CreatedAt)
	e.ObjEnd()
}
