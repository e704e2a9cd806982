package coupon

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var _ Validator = (*Registry)(nil)

// Registry is an immutable set of coupons keyed by normalized code.
type Registry struct {
	byCode map[string]Coupon
}

// NewRegistry builds a Registry. Codes are normalized; a later coupon with the
// same normalized code replaces an earlier one.
func NewRegistry(coupons ...Coupon) (*Registry, error) {
	byCode := make(map[string]Coupon, len(coupons))
	for _, c := range coupons {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		c.Code = Normalize(c.Code)
		byCode[c.Code] = c
	}
	return &Registry{byCode: byCode}, nil
}

// DefaultCoupons returns the built-in storefront coupons.
func DefaultCoupons() []Coupon {
	return []Coupon{
		{Code: "WELCOME10", Rate: decimal.RequireFromString("0.10"), Description: "10% off your order"},
		{Code: "WELCOME20", Rate: decimal.RequireFromString("0.20"), Description: "20% off your order"},
		{Code: "FREESHIP", Rate: decimal.Zero, Description: "Free shipping promotion"},
	}
}

// Validate normalizes code and looks it up. Blank input yields
// ErrMissingCoupon, unknown codes ErrInvalidCoupon.
func (r *Registry) Validate(code string) (Coupon, error) {
	norm := Normalize(code)
	if norm == "" {
		return Coupon{}, ErrMissingCoupon
	}
	c, ok := r.byCode[norm]
	if !ok {
		return Coupon{}, ErrInvalidCoupon
	}
	return c, nil
}

// Codes returns the registered codes in sorted order.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.byCode))
	for code := range r.byCode {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

// Coupons returns the registered coupons ordered by code.
func (r *Registry) Coupons() []Coupon {
	out := make([]Coupon, 0, len(r.byCode))
	for _, code := range r.Codes() {
		out = append(out, r.byCode[code])
	}
	return out
}

// Len returns the number of registered coupons.
func (r *Registry) Len() int {
	return len(r.byCode)
}

// ParseRule parses a "CODE=RATE[:description]" rule as used in configuration.
func ParseRule(s string) (Coupon, error) {
	code, rest, ok := strings.Cut(s, "=")
	if !ok {
		return Coupon{}, errors.Errorf("coupon rule %q: expected CODE=RATE", s)
	}
	rateStr, desc, _ := strings.Cut(rest, ":")

	rate, err := decimal.NewFromString(strings.TrimSpace(rateStr))
	if err != nil {
		return Coupon{}, errors.Wrapf(err, "coupon rule %q: parse rate", s)
	}

	c := Coupon{
		Code:        Normalize(code),
		Rate:        rate,
		Description: strings.TrimSpace(desc),
	}
	if err := c.Validate(); err != nil {
		return Coupon{}, errors.Wrapf(err, "coupon rule %q", s)
	}
	return c, nil
}

// ParseRules parses every rule, skipping blank entries.
func ParseRules(rules []string) ([]Coupon, error) {
	out := make([]Coupon, 0, len(rules))
	for _, rule := range rules {
		if strings.TrimSpace(rule) == "" {
			continue
		}
		c, err := ParseRule(rule)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// LoadRegistry builds a Registry from base coupons overlaid with every
// source's coupons, in order.
func LoadRegistry(ctx context.Context, base []Coupon, sources ...Source) (*Registry, error) {
	all := slices.Clone(base)
	for _, src := range sources {
		coupons, err := src.ListCoupons(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list coupons")
		}
		all = append(all, coupons...)
	}
	return NewRegistry(all...)
}
