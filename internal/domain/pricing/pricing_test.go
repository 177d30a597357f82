package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLineTotal(t *testing.T) {
	tests := []struct {
		name  string
		price string
		qty   int
		want  string
	}{
		{name: "single unit", price: "19.99", qty: 1, want: "19.99"},
		{name: "no float drift", price: "0.10", qty: 3, want: "0.30"},
		{name: "many units", price: "1234.56", qty: 7, want: "8641.92"},
		{name: "free item", price: "0", qty: 5, want: "0"},
		{name: "rounds sub-cent prices", price: "0.333", qty: 3, want: "1.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LineTotal(d(tt.price), tt.qty)
			assert.True(t, d(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestClamp(t *testing.T) {
	assert.True(t, decimal.Zero.Equal(Clamp(d("-5"), d("100"))))
	assert.True(t, d("100").Equal(Clamp(d("150"), d("100"))))
	assert.True(t, d("42.50").Equal(Clamp(d("42.50"), d("100"))))
}

func TestBreakdown_Consistent(t *testing.T) {
	b := Breakdown{
		Subtotal: d("1000.00"),
		Tax:      d("180.00"),
		Shipping: d("50.00"),
		Discount: d("100.00"),
		Total:    d("1130.00"),
	}
	assert.True(t, b.Consistent())
	assert.True(t, d("1130.00").Equal(b.ExpectedTotal()))

	b.Total = d("1130.01")
	assert.True(t, b.Consistent(), "one cent is within tolerance")

	b.Total = d("1130.02")
	assert.False(t, b.Consistent())
}

func TestPercent(t *testing.T) {
	assert.True(t, d("100").Equal(Percent(d("1000"), d("10"))))
	assert.True(t, d("12.345").Equal(Percent(d("123.45"), d("10"))))
}
