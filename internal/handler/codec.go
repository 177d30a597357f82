package handler

import (
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/order"
	"github.com/xenking/orderflow/internal/domain/payment"
)

const (
	// Amounts are stored as NUMERIC(10,2): at most eight integer digits and
	// two decimal places.
	moneyScale        = 2
	moneyMaxIntDigits = 8
	maxMoneyLen       = 32
)

var errMalformed = &order.ValidationError{
	Kind:   order.KindInvalidValue,
	Field:  "body",
	Reason: "Malformed JSON request body",
}

func invalidValue(field, reason string) error {
	return &order.ValidationError{Kind: order.KindInvalidValue, Field: field, Reason: reason}
}

func missingField(field string) error {
	return &order.ValidationError{Kind: order.KindMissingField, Field: field, Reason: "This field is required"}
}

// readBody returns the request body, bounded by maxBodyBytes.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, invalidValue("body", "Request body is too large")
		}
		return nil, errors.Wrap(err, "read body")
	}
	return b, nil
}

// decodeObject runs fn for every field of the JSON object in b. Field level
// validation errors are kept; anything else reports a malformed body.
func decodeObject(b []byte, fn func(d *jx.Decoder, key string) error) error {
	if err := jx.DecodeBytes(b).Obj(fn); err != nil {
		var verr *order.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		return errMalformed
	}
	return nil
}

// decodeText reads a string, accepting numbers for fields such as phone and
// pincode. Null reads as "".
func decodeText(d *jx.Decoder, field string) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		if err := d.Skip(); err != nil {
			return "", err
		}
		return "", invalidValue(field, "Not a valid string")
	}
}

// decodeMoney accepts a JSON number or a numeric string. Null is not Valid.
func decodeMoney(d *jx.Decoder, field string) (decimal.NullDecimal, error) {
	var raw string
	switch d.Next() {
	case jx.Null:
		return decimal.NullDecimal{}, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = strings.TrimSpace(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = n.String()
	default:
		if err := d.Skip(); err != nil {
			return decimal.NullDecimal{}, err
		}
		return decimal.NullDecimal{}, invalidValue(field, "A valid number is required")
	}

	v, reason := parseMoney(raw)
	if reason != "" {
		return decimal.NullDecimal{}, invalidValue(field, reason)
	}
	return decimal.NewNullDecimal(v), nil
}

// parseMoney parses an amount that fits NUMERIC(10,2) and otherwise returns
// the reason it was rejected. Digits and exponent are bounded before any
// arithmetic: rounding or comparing 1e60000000 would first materialize a
// 60-million-digit integer.
func parseMoney(raw string) (decimal.Decimal, string) {
	if raw == "" || len(raw) > maxMoneyLen {
		return decimal.Decimal{}, "A valid number is required"
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, "A valid number is required"
	}
	if v.IsZero() {
		return decimal.Zero, ""
	}

	exp := int(v.Exponent())
	digits := len(strings.TrimPrefix(v.Coefficient().String(), "-"))
	// Position of the leading digit: 1 for 1..9, -1 for 0.01..0.09.
	magnitude := digits + exp
	switch {
	case magnitude > moneyMaxIntDigits:
		return decimal.Decimal{}, "Amount is too large"
	case magnitude < 1-moneyScale,
		exp < -moneyScale && !v.Equal(v.Truncate(moneyScale)):
		return decimal.Decimal{}, "Amount must have at most 2 decimal places"
	}
	return v, ""
}

func decodeAddress(d *jx.Decoder, field string) (*order.Address, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	if d.Next() != jx.Object {
		if err := d.Skip(); err != nil {
			return nil, err
		}
		return nil, invalidValue(field, "Address must be an object")
	}

	var a order.Address
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var dst *string
		switch key {
		case "full_name":
			dst = &a.FullName
		case "phone":
			dst = &a.Phone
		case "address_line1":
			dst = &a.AddressLine1
		case "address_line2":
			dst = &a.AddressLine2
		case "city":
			dst = &a.City
		case "state":
			dst = &a.State
		case "pincode":
			dst = &a.Pincode
		case "country":
			dst = &a.Country
		default:
			return d.Skip()
		}
		s, err := decodeText(d, field+"."+key)
		*dst = s
		return err
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func decodeItem(d *jx.Decoder, prefix string) (order.ItemRequest, error) {
	var it order.ItemRequest
	if d.Next() != jx.Object {
		if err := d.Skip(); err != nil {
			return it, err
		}
		return it, invalidValue(prefix, "Each item must be an object")
	}

	err := d.Obj(func(d *jx.Decoder, key string) error {
		field := prefix + "." + key
		switch key {
		case "product_id":
			s, err := decodeText(d, field)
			it.ProductID = s
			return err
		case "quantity":
			if d.Next() != jx.Number {
				if err := d.Skip(); err != nil {
					return err
				}
				return &order.ValidationError{Kind: order.KindInvalidQuantity, Field: field, Reason: "Each item must have a valid quantity"}
			}
			n, err := d.Num()
			if err != nil {
				return err
			}
			// Quantities are plain integers that fit the INTEGER stock column.
			q, err := strconv.ParseInt(n.String(), 10, 64)
			if err != nil || q < math.MinInt32 || q > math.MaxInt32 {
				return &order.ValidationError{Kind: order.KindInvalidQuantity, Field: field, Reason: "Each item must have a valid quantity"}
			}
			it.Quantity = int(q)
			return nil
		case "product_name", "product_sku":
			if d.Next() == jx.Null {
				return d.Null()
			}
			s, err := decodeText(d, field)
			if err != nil {
				return err
			}
			if key == "product_name" {
				it.ProductName = &s
			} else {
				it.ProductSKU = &s
			}
			return nil
		case "unit_price":
			v, err := decodeMoney(d, field)
			it.UnitPrice = v
			return err
		case "total_price":
			v, err := decodeMoney(d, field)
			it.TotalPrice = v
			return err
		default:
			return d.Skip()
		}
	})
	return it, err
}

// decodePlaceRequest parses the order creation body. subtotal, total_amount
// and shipping_address are required; the remaining amounts default to zero.
func decodePlaceRequest(b []byte) (order.PlaceRequest, error) {
	var (
		req             order.PlaceRequest
		subtotal, total decimal.NullDecimal
		shipping        *order.Address
	)
	optional := map[string]*decimal.Decimal{
		"tax_amount":      &req.Tax,
		"shipping_cost":   &req.Shipping,
		"discount_amount": &req.Discount,
	}
	err := decodeObject(b, func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			if d.Next() != jx.Array {
				if err := d.Skip(); err != nil {
					return err
				}
				return invalidValue("items", "Expected a list of items")
			}
			return d.Arr(func(d *jx.Decoder) error {
				it, err := decodeItem(d, "items["+strconv.Itoa(len(req.Items))+"]")
				if err != nil {
					return err
				}
				req.Items = append(req.Items, it)
				return nil
			})
		case "subtotal":
			v, err := decodeMoney(d, key)
			subtotal = v
			return err
		case "total_amount":
			v, err := decodeMoney(d, key)
			total = v
			return err
		case "tax_amount", "shipping_cost", "discount_amount":
			v, err := decodeMoney(d, key)
			if v.Valid {
				*optional[key] = v.Decimal
			}
			return err
		case "shipping_address":
			a, err := decodeAddress(d, key)
			shipping = a
			return err
		case "billing_address":
			a, err := decodeAddress(d, key)
			req.BillingAddress = a
			return err
		case "payment_method":
			s, err := decodeText(d, key)
			req.PaymentMethod = payment.Method(s)
			return err
		case "payment_details":
			if d.Next() == jx.Null {
				return d.Null()
			}
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			req.PaymentDetails = append([]byte(nil), raw...)
			return nil
		case "notes":
			s, err := decodeText(d, key)
			req.Notes = s
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return req, err
	}

	switch {
	case !subtotal.Valid:
		return req, missingField("subtotal")
	case !total.Valid:
		return req, missingField("total_amount")
	case shipping == nil:
		return req, missingField("shipping_address")
	}
	req.Subtotal = subtotal.Decimal
	req.Total = total.Decimal
	req.ShippingAddress = *shipping
	return req, nil
}

func decodeCancelRequest(b []byte) (string, error) {
	var id string
	err := decodeObject(b, func(d *jx.Decoder, key string) error {
		if key != "order_id" {
			return d.Skip()
		}
		s, err := decodeText(d, key)
		id = strings.TrimSpace(s)
		return err
	})
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", &order.ValidationError{Kind: order.KindMissingField, Field: "order_id", Reason: "order_id is required"}
	}
	return id, nil
}

func decodeAdvanceRequest(b []byte) (order.AdvanceRequest, error) {
	var (
		req    order.AdvanceRequest
		status string
	)
	err := decodeObject(b, func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := decodeText(d, key)
			status = s
			return err
		case "note":
			s, err := decodeText(d, key)
			req.Note = s
			return err
		case "tracking_number":
			s, err := decodeText(d, key)
			req.TrackingNumber = strings.TrimSpace(s)
			return err
		case "estimated_delivery":
			s, err := decodeText(d, key)
			if err != nil || s == "" {
				return err
			}
			t, perr := time.Parse(time.RFC3339, s)
			if perr != nil {
				return invalidValue(key, "Expected an RFC 3339 timestamp")
			}
			req.EstimatedDelivery = &t
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return req, err
	}
	if status == "" {
		return req, missingField("status")
	}
	st, ok := order.ParseStatus(strings.ToLower(strings.TrimSpace(status)))
	if !ok {
		return req, invalidValue("status", "\""+status+"\" is not a valid status")
	}
	req.To = st
	return req, nil
}

// decodeCouponRequest parses {code, order_amount}. A missing amount is zero.
func decodeCouponRequest(b []byte) (string, decimal.Decimal, error) {
	var (
		code   string
		amount decimal.NullDecimal
	)
	err := decodeObject(b, func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			s, err := decodeText(d, key)
			code = s
			return err
		case "order_amount":
			v, err := decodeMoney(d, key)
			amount = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return "", decimal.Zero, err
	}
	if !amount.Valid {
		return code, decimal.Zero, nil
	}
	return code, amount.Decimal, nil
}
