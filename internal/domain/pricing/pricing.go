// Package pricing composes cart lines, an optional coupon and the shipping
// policy into order totals. Everything here is a pure function of its inputs.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

// ShippingPolicy charges FlatFee below FreeThreshold and nothing at or above
// it. The threshold is compared with the pre-discount subtotal.
type ShippingPolicy struct {
	FlatFee       decimal.Decimal
	FreeThreshold decimal.Decimal
}

// DefaultShippingPolicy returns the storefront's standard shipping policy.
func DefaultShippingPolicy() ShippingPolicy {
	return ShippingPolicy{
		FlatFee:       decimal.RequireFromString("29.90"),
		FreeThreshold: decimal.RequireFromString("299.00"),
	}
}

// ParseShippingPolicy builds a policy from decimal strings.
func ParseShippingPolicy(flatFee, freeThreshold string) (ShippingPolicy, error) {
	fee, err := decimal.NewFromString(flatFee)
	if err != nil {
		return ShippingPolicy{}, errors.Wrap(err, "parse flat fee")
	}
	threshold, err := decimal.NewFromString(freeThreshold)
	if err != nil {
		return ShippingPolicy{}, errors.Wrap(err, "parse free threshold")
	}
	if fee.IsNegative() || threshold.IsNegative() {
		return ShippingPolicy{}, errors.New("shipping amounts must not be negative")
	}
	return ShippingPolicy{FlatFee: fee, FreeThreshold: threshold}, nil
}

// FeeFor returns the shipping fee for a pre-discount subtotal.
func (p ShippingPolicy) FeeFor(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(p.FreeThreshold) {
		return decimal.Zero
	}
	return p.FlatFee
}

// Result is the derived pricing of a cart. It is never stored.
type Result struct {
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	ShippingFee decimal.Decimal
	Total       decimal.Decimal
	// CouponCode is the applied coupon, empty when none.
	CouponCode string
}

// FreeShipping reports whether the shipping fee was waived.
func (r Result) FreeShipping() bool {
	return r.ShippingFee.IsZero()
}

// Price computes subtotal, discount, shipping and total for items. An empty
// item list has a zero subtotal, which is below any positive free-shipping
// threshold, so it carries the flat fee.
func Price(items []cart.LineItem, applied *coupon.Coupon, policy ShippingPolicy) Result {
	subtotal := cart.Subtotal(items)

	var res Result
	res.Subtotal = subtotal.Round(2)
	res.Discount = decimal.Zero
	if applied != nil {
		res.Discount = coupon.DiscountFor(*applied, subtotal)
		res.CouponCode = applied.Code
	}

	res.ShippingFee = policy.FeeFor(subtotal).Round(2)

	net := subtotal.Sub(res.Discount)
	if net.IsNegative() {
		net = decimal.Zero
	}
	res.Total = net.Add(res.ShippingFee).Round(2)
	return res
}
