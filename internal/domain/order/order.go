package order

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.New("order not found")

// Order is the immutable record of a completed checkout. Items is a copy of the
// cart lines at confirmation time and does not follow later cart changes.
type Order struct {
	ID          string
	Items       []cart.LineItem
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	ShippingFee decimal.Decimal
	Total       decimal.Decimal
	CouponCode  string
	CreatedAt   time.Time
}

// New snapshots items and their pricing into an order.
func New(id string, items []cart.LineItem, price pricing.Result, createdAt time.Time) *Order {
	return &Order{
		ID:          id,
		Items:       slices.Clone(items),
		Subtotal:    price.Subtotal,
		Discount:    price.Discount,
		ShippingFee: price.ShippingFee,
		Total:       price.Total,
		CouponCode:  price.CouponCode,
		CreatedAt:   createdAt,
	}
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	return &c
}

// StockLines returns the stock decrement requests for the order's items.
func StockLines(items []cart.LineItem) []stock.Line {
	lines := make([]stock.Line, len(items))
	for i, item := range items {
		lines[i] = stock.Line{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return lines
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
}
