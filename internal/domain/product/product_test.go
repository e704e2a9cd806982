package product

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProduct_EffectivePrice(t *testing.T) {
	d := decimal.RequireFromString

	tests := []struct {
		name     string
		price    decimal.Decimal
		discount decimal.NullDecimal
		want     decimal.Decimal
	}{
		{
			name:  "no discount price",
			price: d("100.00"),
			want:  d("100.00"),
		},
		{
			name:     "lower discount price wins",
			price:    d("100.00"),
			discount: decimal.NewNullDecimal(d("79.90")),
			want:     d("79.90"),
		},
		{
			name:     "discount equal to price is ignored",
			price:    d("100.00"),
			discount: decimal.NewNullDecimal(d("100.00")),
			want:     d("100.00"),
		},
		{
			name:     "higher discount price is ignored",
			price:    d("100.00"),
			discount: decimal.NewNullDecimal(d("120.00")),
			want:     d("100.00"),
		},
		{
			name:     "zero discount price is ignored",
			price:    d("100.00"),
			discount: decimal.NewNullDecimal(decimal.Zero),
			want:     d("100.00"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Product{ID: "p1", Price: tt.price, DiscountPrice: tt.discount}
			got := p.EffectivePrice()
			assert.True(t, tt.want.Equal(got), "expected %s, got %s", tt.want, got)
		})
	}
}

func TestProduct_InStock(t *testing.T) {
	p := Product{ID: "p1", Stock: 2}

	assert.True(t, p.InStock(1))
	assert.True(t, p.InStock(2))
	assert.False(t, p.InStock(3))
}
