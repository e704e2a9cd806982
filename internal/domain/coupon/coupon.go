package coupon

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is not in the registry.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrMissingCoupon is returned when the submitted code is empty or blank.
	ErrMissingCoupon = errors.New("coupon code required")
	// ErrInvalidRate is returned when a discount rate falls outside [0, 1].
	ErrInvalidRate = errors.New("discount rate must be between 0 and 1")
)

var one = decimal.NewFromInt(1)

// Coupon is a named discount rule reducing the subtotal by a fixed rate.
// A zero rate is a valid coupon that yields no discount.
type Coupon struct {
	Code        string
	Rate        decimal.Decimal
	Description string
}

// Validate checks the coupon's code and rate.
func (c Coupon) Validate() error {
	if Normalize(c.Code) == "" {
		return ErrMissingCoupon
	}
	if c.Rate.IsNegative() || c.Rate.GreaterThan(one) {
		return errors.Wrapf(ErrInvalidRate, "coupon %s rate %s", c.Code, c.Rate)
	}
	return nil
}

// Normalize trims surrounding whitespace and upper-cases a code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DiscountFor returns subtotal * rate, floored at zero and capped at the
// subtotal, rounded to 2 decimal places.
func DiscountFor(c Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	amount := subtotal.Mul(c.Rate)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return decimal.Min(amount, subtotal).Round(2)
}

// Validator resolves a user-entered code into a Coupon.
type Validator interface {
	Validate(code string) (Coupon, error)
}

// Source provides coupon definitions from persistent storage.
type Source interface {
	ListCoupons(ctx context.Context) ([]Coupon, error)
}
