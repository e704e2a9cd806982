package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestBuilder(ledger stock.Ledger, orders *mockOrderRepo, cfg BuilderConfig) *Builder {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return testNow }
	}
	if cfg.NewID == nil {
		cfg.NewID = seqIDs("order-1", "order-2", "order-3")
	}
	return NewBuilder(ledger, orders, cfg)
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	require.Error(t, err)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, kind, ce.Kind, "error: %v", err)
	return ce
}

func TestBuilder_Submit(t *testing.T) {
	ledger := newMockLedger(map[string]int{"A": 5, "B": 5})
	orders := newMockOrderRepo()
	notifier := &mockNotifier{}
	b := newTestBuilder(ledger, orders, BuilderConfig{Notifier: notifier})

	c := newTestCart(line("A", "100.00", 2), line("B", "9.95", 1))
	applied := &coupon.Coupon{Code: "WELCOME10", Rate: decimal.RequireFromString("0.10")}

	o, err := b.Submit(context.Background(), c, applied)
	require.NoError(t, err)

	assert.Equal(t, "order-1", o.ID)
	assert.Equal(t, testNow, o.CreatedAt)
	assert.Equal(t, "WELCOME10", o.CouponCode)
	assert.True(t, decimal.RequireFromString("209.95").Equal(o.Subtotal))
	assert.True(t, decimal.RequireFromString("21.00").Equal(o.Discount))
	assert.True(t, decimal.RequireFromString("29.90").Equal(o.ShippingFee))
	assert.True(t, decimal.RequireFromString("218.85").Equal(o.Total))

	assert.Equal(t, StateConfirmed, b.State())
	assert.True(t, c.IsEmpty())
	assert.Equal(t, 3, ledger.remaining("A"))
	assert.Equal(t, 4, ledger.remaining("B"))
	assert.Equal(t, 1, orders.count())
	assert.Equal(t, []string{"order-1"}, notifier.orders)
}

func TestBuilder_Submit_EmptyCart(t *testing.T) {
	ledger := newMockLedger(map[string]int{})
	b := newTestBuilder(ledger, newMockOrderRepo(), BuilderConfig{})

	_, err := b.Submit(context.Background(), cart.New(), nil)

	requireKind(t, err, KindEmptyCart)
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, StateIdle, b.State())
	assert.Empty(t, ledger.calls())
}

func TestBuilder_Submit_InsufficientStock(t *testing.T) {
	tests := []struct {
		name      string
		stock     map[string]int
		items     []cart.LineItem
		productID string
	}{
		{
			name:      "single line",
			stock:     map[string]int{"A": 1},
			items:     []cart.LineItem{line("A", "10.00", 2)},
			productID: "A",
		},
		{
			name:      "later line short",
			stock:     map[string]int{"A": 10, "B": 0},
			items:     []cart.LineItem{line("A", "10.00", 2), line("B", "5.00", 1)},
			productID: "B",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := make(map[string]int, len(tt.stock))
			for k, v := range tt.stock {
				before[k] = v
			}
			ledger := newMockLedger(tt.stock)
			orders := newMockOrderRepo()
			b := newTestBuilder(ledger, orders, BuilderConfig{})
			c := newTestCart(tt.items...)

			_, err := b.Submit(context.Background(), c, nil)

			ce := requireKind(t, err, KindInsufficientStock)
			assert.Equal(t, tt.productID, ce.ProductID)
			require.ErrorIs(t, err, stock.ErrInsufficientStock)
			assert.Equal(t, StateFailed, b.State())
			assert.Equal(t, len(tt.items), c.Len(), "cart must be untouched")
			for id, qty := range before {
				assert.Equal(t, qty, ledger.remaining(id), "stock for %s", id)
			}
			assert.Zero(t, orders.count())
		})
	}
}

func TestBuilder_Submit_AlreadySubmitting(t *testing.T) {
	ledger := newMockLedger(map[string]int{"A": 5})
	ledger.block = make(chan struct{})
	ledger.entered = make(chan struct{}, 1)
	orders := newMockOrderRepo()
	b := newTestBuilder(ledger, orders, BuilderConfig{LedgerTimeout: time.Minute})
	c := newTestCart(line("A", "10.00", 1))

	type result struct {
		id  string
		err error
	}
	first := make(chan result, 1)
	go func() {
		o, err := b.Submit(context.Background(), c, nil)
		if err != nil {
			first <- result{err: err}
			return
		}
		first <- result{id: o.ID}
	}()

	<-ledger.entered
	assert.Equal(t, StateSubmitting, b.State())

	_, err := b.Submit(context.Background(), c, nil)
	requireKind(t, err, KindAlreadySubmitting)

	err = b.Mutate(func() error { return c.Add(line("B", "1.00", 1)) })
	requireKind(t, err, KindAlreadySubmitting)

	close(ledger.block)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, "order-1", res.id)
	assert.Equal(t, 1, orders.count())
	assert.Equal(t, 4, ledger.remaining("A"))
}

func TestBuilder_Submit_ConcurrentCalls(t *testing.T) {
	ledger := newMockLedger(map[string]int{"A": 100})
	orders := newMockOrderRepo()
	b := newTestBuilder(ledger, orders, BuilderConfig{NewID: seqIDs("o1", "o2", "o3", "o4", "o5", "o6", "o7", "o8")})
	c := newTestCart(line("A", "10.00", 1))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Submit(context.Background(), c, nil)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			kind := KindOf(err)
			assert.Contains(t, []Kind{KindAlreadySubmitting, KindEmptyCart}, kind)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, orders.count())
	assert.Equal(t, 99, ledger.remaining("A"))
}

func TestBuilder_Submit_LedgerTimeoutRetryReusesKey(t *testing.T) {
	ledger := newMockLedger(map[string]int{"A": 3})
	ledger.block = make(chan struct{})
	orders := newMockOrderRepo()
	b := newTestBuilder(ledger, orders, BuilderConfig{LedgerTimeout: 10 * time.Millisecond})
	c := newTestCart(line("A", "10.00", 1))

	_, err := b.Submit(context.Background(), c, nil)
	requireKind(t, err, KindLedgerUnavailable)
	assert.Equal(t, StateFailed, b.State())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 3, ledger.remaining("A"))

	ledger.block = nil
	o, err := b.Submit(context.Background(), c, nil)
	require.NoError(t, err)

	assert.Equal(t, "order-1", o.ID)
	assert.Equal(t, []string{"order-1"}, ledger.calls())
	assert.Equal(t, 2, ledger.remaining("A"))
}

// lossyLedger applies the decrement but reports the ledger as unavailable
// once, like a response lost after commit.
type lossyLedger struct {
	*mockLedger
	lost bool
}

func (l *lossyLedger) Decrement(ctx context.Context, key string, lines []stock.Line) error {
	if err := l.mockLedger.Decrement(ctx, key, lines); err != nil {
		return err
	}
	if !l.lost {
		l.lost = true
		return errors.Wrap(stock.ErrLedgerUnavailable, "response lost")
	}
	return nil
}

func TestBuilder_Submit_RetryAfterLostResponse(t *testing.T) {
	inner := newMockLedger(map[string]int{"A": 3})
	ledger := &lossyLedger{mockLedger: inner}
	orders := newMockOrderRepo()
	b := newTestBuilder(ledger, orders, BuilderConfig{})
	c := newTestCart(line("A", "10.00", 2))

	_, err := b.Submit(context.Background(), c, nil)
	requireKind(t, err, KindLedgerUnavailable)
	assert.Equal(t, 1, inner.remaining("A"), "first attempt applied")

	o, err := b.Submit(context.Background(), c, nil)
	require.NoError(t, err)
	assert.Equal(t, "order-1", o.ID)
	assert.Equal(t, 1, inner.remaining("A"), "retry must not decrement twice")
	assert.Equal(t, []string{"order-1", "order-1"}, inner.calls())
}

func TestBuilder_Submit_PendingReservationLocksCart(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		fail  func(l *mockLedger, o *mockOrderRepo)
		heal  func(l *mockLedger, o *mockOrderRepo)
		after int // stock left right after the failed attempt
	}{
		{
			name:  "order store down after decrement",
			kind:  KindStoreUnavailable,
			fail:  func(_ *mockLedger, o *mockOrderRepo) { o.createErr = errors.New("connection refused") },
			heal:  func(_ *mockLedger, o *mockOrderRepo) { o.createErr = nil },
			after: 2,
		},
		{
			name:  "ledger unavailable",
			kind:  KindLedgerUnavailable,
			fail:  func(l *mockLedger, _ *mockOrderRepo) { l.err = stock.ErrLedgerUnavailable },
			heal:  func(l *mockLedger, _ *mockOrderRepo) { l.err = nil },
			after: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newMockLedger(map[string]int{"A": 3})
			orders := newMockOrderRepo()
			b := newTestBuilder(ledger, orders, BuilderConfig{})
			c := newTestCart(line("A", "10.00", 1))

			tt.fail(ledger, orders)
			_, err := b.Submit(context.Background(), c, nil)
			requireKind(t, err, tt.kind)
			assert.Equal(t, tt.after, ledger.remaining("A"))
			assert.True(t, b.Pending())

			for _, edit := range []func() error{
				func() error { return c.SetQuantity("A", 2) },
				func() error { c.Clear(); return nil },
			} {
				ce := requireKind(t, b.Mutate(edit), KindCheckoutPending)
				assert.True(t, ce.Kind.Retryable())
			}
			got, _ := c.Item("A")
			assert.Equal(t, 1, got.Quantity, "cart must keep the submitted lines")

			tt.heal(ledger, orders)
			o, err := b.Submit(context.Background(), c, nil)
			require.NoError(t, err)
			assert.Equal(t, "order-1", o.ID)
			assert.Equal(t, 2, ledger.remaining("A"), "one unit ordered, one unit taken")
			assert.False(t, b.Pending())

			require.NoError(t, b.Mutate(func() error { return c.Add(line("A", "10.00", 1)) }))
		})
	}
}

func TestBuilder_Submit_InsufficientOnRetryReleasesLock(t *testing.T) {
	ledger := newMockLedger(map[string]int{"A": 3})
	ledger.err = stock.ErrLedgerUnavailable
	b := newTestBuilder(ledger, newMockOrderRepo(), BuilderConfig{})
	c := newTestCart(line("A", "10.00", 2))

	_, err := b.Submit(context.Background(), c, nil)
	requireKind(t, err, KindLedgerUnavailable)

	// The first attempt never landed and the stock went to another shopper.
	ledger.err = nil
	ledger.stock["A"] = 1

	_, err = b.Submit(context.Background(), c, nil)
	requireKind(t, err, KindInsufficientStock)
	assert.False(t, b.Pending())
	require.NoError(t, b.Mutate(func() error { return c.SetQuantity("A", 1) }))
}

func TestBuilder_Submit_StoreUnavailable(t *testing.T) {
	ledger := newMockLedger(map[string]int{"A": 3})
	orders := newMockOrderRepo()
	orders.createErr = errors.New("connection refused")
	b := newTestBuilder(ledger, orders, BuilderConfig{})
	c := newTestCart(line("A", "10.00", 1))

	_, err := b.Submit(context.Background(), c, nil)
	requireKind(t, err, KindStoreUnavailable)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 2, ledger.remaining("A"))

	orders.createErr = nil
	o, err := b.Submit(context.Background(), c, nil)
	require.NoError(t, err)
	assert.Equal(t, "order-1", o.ID)
	assert.Equal(t, 2, ledger.remaining("A"))
	assert.Equal(t, 1, orders.count())
}

func TestBuilder_Submit_NotifierErrorIgnored(t *testing.T) {
	ledger := newMockLedger(map[string]int{"A": 1})
	notifier := &mockNotifier{err: errors.New("broker down")}
	b := newTestBuilder(ledger, newMockOrderRepo(), BuilderConfig{Notifier: notifier})

	_, err := b.Submit(context.Background(), newTestCart(line("A", "10.00", 1)), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"order-1"}, notifier.orders)
}

// stuckNotifier blocks until its context ends.
type stuckNotifier struct{}

func (stuckNotifier) OrderConfirmed(ctx context.Context, _ *order.Order) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestBuilder_Submit_SlowNotifierDoesNotHoldCheckout(t *testing.T) {
	ledger := newMockLedger(map[string]int{"A": 1})
	b := newTestBuilder(ledger, newMockOrderRepo(), BuilderConfig{
		Notifier:      stuckNotifier{},
		NotifyTimeout: 20 * time.Millisecond,
	})

	start := time.Now()
	o, err := b.Submit(context.Background(), newTestCart(line("A", "10.00", 1)), nil)
	require.NoError(t, err)
	assert.Equal(t, "order-1", o.ID)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateConfirmed, b.State())
}

func TestBuilder_Submit_SnapshotIndependentOfCart(t *testing.T) {
	ledger := newMockLedger(map[string]int{"A": 5, "B": 5})
	b := newTestBuilder(ledger, newMockOrderRepo(), BuilderConfig{})
	c := newTestCart(line("A", "10.00", 2))

	o, err := b.Submit(context.Background(), c, nil)
	require.NoError(t, err)
	want := []cart.LineItem{line("A", "10.00", 2)}

	require.NoError(t, b.Mutate(func() error { return c.Add(line("B", "3.00", 4)) }))
	require.NoError(t, b.Mutate(func() error { return c.Add(line("A", "10.00", 1)) }))

	if diff := cmp.Diff(want, o.Items, decimalEqual); diff != "" {
		t.Errorf("order items changed (-want +got):\n%s", diff)
	}
}

func TestBuilder_Submit_ResubmitAfterConfirm(t *testing.T) {
	ledger := newMockLedger(map[string]int{"A": 5})
	b := newTestBuilder(ledger, newMockOrderRepo(), BuilderConfig{})
	c := newTestCart(line("A", "10.00", 1))

	_, err := b.Submit(context.Background(), c, nil)
	require.NoError(t, err)

	_, err = b.Submit(context.Background(), c, nil)
	requireKind(t, err, KindEmptyCart)
	assert.Equal(t, StateConfirmed, b.State())

	require.NoError(t, b.Mutate(func() error { return c.Add(line("A", "10.00", 1)) }))
	o, err := b.Submit(context.Background(), c, nil)
	require.NoError(t, err)
	assert.Equal(t, "order-2", o.ID)
	assert.Equal(t, 3, ledger.remaining("A"))
}

func TestBuilder_Submit_LastUnitRace(t *testing.T) {
	ledger := newMockLedger(map[string]int{"A": 1})
	orders := newMockOrderRepo()
	builders := []*Builder{
		newTestBuilder(ledger, orders, BuilderConfig{NewID: seqIDs("alice")}),
		newTestBuilder(ledger, orders, BuilderConfig{NewID: seqIDs("bob")}),
	}

	errs := make([]error, len(builders))
	var wg sync.WaitGroup
	for i, b := range builders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = b.Submit(context.Background(), newTestCart(line("A", "10.00", 1)), nil)
		}()
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case KindOf(err) == KindInsufficientStock:
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
	assert.Equal(t, 0, ledger.remaining("A"))
	assert.Equal(t, 1, orders.count())
}

func TestBuilder_Submit_RecordsMetrics(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)

	ledger := newMockLedger(map[string]int{"A": 1})
	b := newTestBuilder(ledger, newMockOrderRepo(), BuilderConfig{Metrics: m})

	_, err = b.Submit(context.Background(), newTestCart(line("A", "10.00", 1)), nil)
	require.NoError(t, err)
	_, err = b.Submit(context.Background(), newTestCart(line("A", "10.00", 1)), nil)
	requireKind(t, err, KindInsufficientStock)
}
