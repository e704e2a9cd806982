package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
	// DiscountPrice is the promotional price. It is only honoured when it is
	// set, positive and lower than Price.
	DiscountPrice decimal.NullDecimal
	Stock         int
	Category      string
	Image         Image
}

// Image holds responsive image URLs for a product.
type Image struct {
	Thumbnail string
	Mobile    string
	Tablet    string
	Desktop   string
}

// EffectivePrice returns the unit price a shopper pays when adding the product
// to a cart.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice.Valid &&
		p.DiscountPrice.Decimal.IsPositive() &&
		p.DiscountPrice.Decimal.LessThan(p.Price) {
		return p.DiscountPrice.Decimal
	}
	return p.Price
}

// InStock reports whether at least qty units are currently available.
func (p Product) InStock(qty int) bool {
	return qty <= p.Stock
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
