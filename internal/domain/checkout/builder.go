// Package checkout turns a shopper's cart into a confirmed order: it guards
// against concurrent submission, commits stock all-or-nothing through the
// ledger and snapshots the priced cart into an immutable order.
package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

// DefaultLedgerTimeout bounds a single stock decrement call.
const DefaultLedgerTimeout = 3 * time.Second

// DefaultNotifyTimeout bounds the order confirmed notification.
const DefaultNotifyTimeout = 2 * time.Second

// State is the checkout state of a single cart.
type State int32

const (
	StateIdle State = iota
	StateSubmitting
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Notifier is told about every confirmed order. Delivery is best effort: a
// notifier error never fails a checkout.
type Notifier interface {
	OrderConfirmed(ctx context.Context, o *order.Order) error
}

// BuilderConfig holds the Builder's tunables and collaborators. Zero values
// fall back to defaults.
type BuilderConfig struct {
	Policy        pricing.ShippingPolicy
	LedgerTimeout time.Duration
	NotifyTimeout time.Duration
	Now           func() time.Time
	NewID         func() string
	Notifier      Notifier
	Metrics       *Metrics
	Tracer        trace.Tracer
}

// pendingReservation remembers the key of a decrement whose outcome is
// unknown, so a retry of the same lines cannot decrement twice.
type pendingReservation struct {
	key         string
	fingerprint string
}

// Builder is the Order Builder for one cart. At most one Submit runs at a
// time; the guard is taken before the ledger is contacted.
type Builder struct {
	ledger   stock.Ledger
	orders   order.Repository
	notifier Notifier
	metrics  *Metrics
	tracer   trace.Tracer

	policy        pricing.ShippingPolicy
	ledgerTimeout time.Duration
	notifyTimeout time.Duration
	now           func() time.Time
	newID         func() string

	mu      sync.Mutex
	state   State
	pending *pendingReservation
	lastErr *Error
}

// NewBuilder creates a Builder in the Idle state.
func NewBuilder(ledger stock.Ledger, orders order.Repository, cfg BuilderConfig) *Builder {
	b := &Builder{
		ledger:        ledger,
		orders:        orders,
		notifier:      cfg.Notifier,
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
		policy:        cfg.Policy,
		ledgerTimeout: cfg.LedgerTimeout,
		notifyTimeout: cfg.NotifyTimeout,
		now:           cfg.Now,
		newID:         cfg.NewID,
	}
	if b.policy == (pricing.ShippingPolicy{}) {
		b.policy = pricing.DefaultShippingPolicy()
	}
	if b.ledgerTimeout <= 0 {
		b.ledgerTimeout = DefaultLedgerTimeout
	}
	if b.notifyTimeout <= 0 {
		b.notifyTimeout = DefaultNotifyTimeout
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.newID == nil {
		b.newID = uuid.NewString
	}
	if b.tracer == nil {
		b.tracer = noop.NewTracerProvider().Tracer(InstrumentationName)
	}
	return b
}

// State returns the current checkout state.
func (b *Builder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastError returns the error of the most recent failed submission, if any.
func (b *Builder) LastError() *Error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Policy returns the shipping policy used for pricing.
func (b *Builder) Policy() pricing.ShippingPolicy {
	return b.policy
}

// Order loads a previously confirmed order.
func (b *Builder) Order(ctx context.Context, id string) (*order.Order, error) {
	o, err := b.orders.GetByID(ctx, id)
	if err != nil {
		return nil, Classify(err)
	}
	return o, nil
}

// Mutate runs fn unless a checkout is in flight or a failed one may still
// hold stock under its reservation key. Cart edits go through Mutate so that
// a submission's snapshot and its final clear see the same lines, and so that
// a retry reuses the pending key instead of decrementing a second time.
func (b *Builder) Mutate(fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateSubmitting {
		return newError(KindAlreadySubmitting, "", ErrAlreadySubmitting)
	}
	if b.pending != nil {
		return newError(KindCheckoutPending, "", ErrCheckoutPending)
	}
	return fn()
}

// Pending reports whether a failed checkout is awaiting its retry.
func (b *Builder) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending != nil
}

// begin moves the builder to Submitting. It reports the previous state and
// false when a submission is already running.
func (b *Builder) begin() (State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateSubmitting {
		return b.state, false
	}
	prev := b.state
	b.state = StateSubmitting
	return prev, true
}

func (b *Builder) restore(prev State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = prev
}

func (b *Builder) fail(ce *Error, keepPending *pendingReservation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateFailed
	b.lastErr = ce
	b.pending = keepPending
}

// reservationKey returns the pending key when lines match the last
// unresolved attempt, otherwise a fresh key.
func (b *Builder) reservationKey(fingerprint string) (key string, reused bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending != nil && b.pending.fingerprint == fingerprint {
		return b.pending.key, true
	}
	return b.newID(), false
}

// Submit checks out c with the applied coupon (nil for none).
//
// On success the order is stored, the cart is cleared and the builder is
// Confirmed. On failure the cart is untouched and the returned error is an
// *Error.
func (b *Builder) Submit(ctx context.Context, c *cart.Cart, applied *coupon.Coupon) (_ *order.Order, rerr error) {
	ctx, span := b.tracer.Start(ctx, "checkout.Submit")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	prev, ok := b.begin()
	if !ok {
		b.metrics.orderFailed(ctx, KindAlreadySubmitting)
		return nil, newError(KindAlreadySubmitting, "", ErrAlreadySubmitting)
	}

	items := c.Items()
	if len(items) == 0 {
		b.restore(prev)
		b.metrics.orderFailed(ctx, KindEmptyCart)
		return nil, newError(KindEmptyCart, "", ErrEmptyCart)
	}

	price := pricing.Price(items, applied, b.policy)
	lines := stock.Merge(order.StockLines(items))
	fingerprint := stock.Fingerprint(lines)
	key, reused := b.reservationKey(fingerprint)
	pending := &pendingReservation{key: key, fingerprint: fingerprint}

	lg := zctx.From(ctx).With(
		zap.String("order_id", key),
		zap.Int("lines", len(lines)),
		zap.Bool("retry", reused),
	)
	span.SetAttributes(
		attribute.String("order.id", key),
		attribute.Int("order.lines", len(lines)),
		attribute.Bool("order.retry", reused),
	)

	if err := b.decrement(ctx, key, lines); err != nil {
		ce := Classify(err)
		if ce.Kind == KindInsufficientStock {
			// Nothing was applied under this key.
			b.fail(ce, nil)
		} else {
			ce = newError(KindLedgerUnavailable, "", err)
			b.fail(ce, pending)
		}
		lg.Warn("Stock decrement failed", zap.String("kind", string(ce.Kind)), zap.Error(err))
		b.metrics.orderFailed(ctx, ce.Kind)
		return nil, ce
	}

	o, err := b.store(ctx, key, reused, items, price)
	if err != nil {
		ce := newError(KindStoreUnavailable, "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		b.fail(ce, pending)
		lg.Error("Store order", zap.Error(err))
		b.metrics.orderFailed(ctx, ce.Kind)
		return nil, ce
	}

	b.mu.Lock()
	b.state = StateConfirmed
	b.pending = nil
	b.lastErr = nil
	c.Clear()
	b.mu.Unlock()

	lg.Info("Order confirmed",
		zap.String("total", o.Total.StringFixed(2)),
		zap.String("coupon", o.CouponCode),
	)
	b.metrics.orderConfirmed(ctx)

	b.notify(ctx, lg, o)
	return o, nil
}

// notify runs after commit. It outlives the request's cancellation but not
// notifyTimeout; a failure is logged.
func (b *Builder) notify(ctx context.Context, lg *zap.Logger, o *order.Order) {
	if b.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.notifyTimeout)
	defer cancel()

	if err := b.notifier.OrderConfirmed(ctx, o.Clone()); err != nil {
		lg.Warn("Notify order confirmed", zap.Error(err))
	}
}

func (b *Builder) decrement(ctx context.Context, key string, lines []stock.Line) error {
	ctx, cancel := context.WithTimeout(ctx, b.ledgerTimeout)
	defer cancel()

	start := time.Now()
	err := b.ledger.Decrement(ctx, key, lines)
	b.metrics.ledgerDone(ctx, time.Since(start), err == nil)
	if err != nil {
		return errors.Wrap(err, "decrement stock")
	}
	return nil
}

// store persists the order. A retried key may already have an order from an
// attempt whose outcome was lost; that order is returned as is.
func (b *Builder) store(
	ctx context.Context,
	id string,
	reused bool,
	items []cart.LineItem,
	price pricing.Result,
) (*order.Order, error) {
	if reused {
		existing, err := b.orders.GetByID(ctx, id)
		switch {
		case err == nil:
			return existing, nil
		case !errors.Is(err, order.ErrNotFound):
			return nil, errors.Wrap(err, "lookup order")
		}
	}

	o := order.New(id, items, price, b.now().UTC())
	if err := b.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}
