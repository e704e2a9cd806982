package checkout

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

var (
	// ErrEmptyCart is returned when checkout is attempted on a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrAlreadySubmitting is returned when a checkout is already in flight for the cart.
	ErrAlreadySubmitting = errors.New("checkout already in progress")
	// ErrStoreUnavailable is returned when the order store rejected the
	// confirmed order. Stock stays reserved under the order id for a retry.
	ErrStoreUnavailable = errors.New("order store unavailable")
	// ErrCheckoutPending is returned for cart edits while a failed checkout may
	// still hold stock. Resubmitting the cart resolves it.
	ErrCheckoutPending = errors.New("previous checkout is unresolved, resubmit the cart")
)

// Kind classifies checkout errors for the presentation layer.
type Kind string

const (
	KindInvalidQuantity   Kind = "invalid_quantity"
	KindInvalidCoupon     Kind = "invalid_coupon"
	KindMissingCoupon     Kind = "missing_coupon"
	KindEmptyCart         Kind = "empty_cart"
	KindAlreadySubmitting Kind = "already_submitting"
	KindCheckoutPending   Kind = "checkout_pending"
	KindInsufficientStock Kind = "insufficient_stock"
	KindLedgerUnavailable Kind = "ledger_unavailable"
	KindProductNotFound   Kind = "product_not_found"
	KindLineNotFound      Kind = "line_not_found"
	KindOrderNotFound     Kind = "order_not_found"
	KindStoreUnavailable  Kind = "store_unavailable"
	KindInternal          Kind = "internal"
)

// Retryable reports whether the shopper can resubmit unchanged input.
func (k Kind) Retryable() bool {
	switch k {
	case KindLedgerUnavailable, KindStoreUnavailable, KindAlreadySubmitting, KindCheckoutPending:
		return true
	default:
		return false
	}
}

// Error is the structured error surfaced to callers: a kind plus the
// offending product where one applies.
type Error struct {
	Kind      Kind
	ProductID string
	Err       error
}

func (e *Error) Error() string {
	if e.ProductID != "" {
		return fmt.Sprintf("%s: product %s: %v", e.Kind, e.ProductID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or "" for nil.
func KindOf(err error) Kind {
	if ce := Classify(err); ce != nil {
		return ce.Kind
	}
	return ""
}

// Classify folds domain errors into an *Error. It returns nil for nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	var isErr *stock.InsufficientStockError
	if errors.As(err, &isErr) {
		return &Error{Kind: KindInsufficientStock, ProductID: isErr.ProductID, Err: err}
	}

	var iqErr *cart.InvalidQuantityError
	if errors.As(err, &iqErr) {
		return &Error{Kind: KindInvalidQuantity, ProductID: iqErr.ProductID, Err: err}
	}

	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		return &Error{Kind: KindInvalidQuantity, Err: err}
	case errors.Is(err, cart.ErrLineNotFound):
		return &Error{Kind: KindLineNotFound, Err: err}
	case errors.Is(err, coupon.ErrMissingCoupon):
		return &Error{Kind: KindMissingCoupon, Err: err}
	case errors.Is(err, coupon.ErrInvalidCoupon):
		return &Error{Kind: KindInvalidCoupon, Err: err}
	case errors.Is(err, ErrEmptyCart):
		return &Error{Kind: KindEmptyCart, Err: err}
	case errors.Is(err, ErrAlreadySubmitting):
		return &Error{Kind: KindAlreadySubmitting, Err: err}
	case errors.Is(err, ErrCheckoutPending):
		return &Error{Kind: KindCheckoutPending, Err: err}
	case errors.Is(err, stock.ErrLedgerUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindLedgerUnavailable, Err: err}
	case errors.Is(err, ErrStoreUnavailable):
		return &Error{Kind: KindStoreUnavailable, Err: err}
	case errors.Is(err, product.ErrNotFound):
		return &Error{Kind: KindProductNotFound, Err: err}
	case errors.Is(err, order.ErrNotFound):
		return &Error{Kind: KindOrderNotFound, Err: err}
	default:
		return &Error{Kind: KindInternal, Err: err}
	}
}

func newError(kind Kind, productID string, err error) *Error {
	return &Error{Kind: kind, ProductID: productID, Err: err}
}
