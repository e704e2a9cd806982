package checkout

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

// View is a consistent read of a session: its lines, the applied coupon and
// the pricing computed from them.
type View struct {
	ID      string
	Items   []cart.LineItem
	Coupon  *coupon.Coupon
	Pricing pricing.Result
	State   State
}

// Session is one shopper's checkout context: a cart, the coupon applied to
// it and the Order Builder that turns both into an order.
type Session struct {
	id      string
	cart    *cart.Cart
	catalog product.Repository
	coupons coupon.Validator
	builder *Builder

	mu          sync.Mutex
	applied     *coupon.Coupon
	idempotency map[string]string
}

// NewSession creates an empty session.
func NewSession(id string, catalog product.Repository, coupons coupon.Validator, builder *Builder) *Session {
	return &Session{
		id:          id,
		cart:        cart.New(),
		catalog:     catalog,
		coupons:     coupons,
		builder:     builder,
		idempotency: make(map[string]string),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the checkout state of the session's builder.
func (s *Session) State() State {
	return s.builder.State()
}

func (s *Session) lookup(ctx context.Context, productID string) (*product.Product, error) {
	p, err := s.catalog.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, newError(KindProductNotFound, productID, err)
		}
		return nil, newError(KindInternal, productID, errors.Wrap(err, "get product"))
	}
	return p, nil
}

func checkAvailable(p *product.Product, qty int) error {
	if p.InStock(qty) {
		return nil
	}
	return newError(KindInsufficientStock, p.ID, &stock.InsufficientStockError{
		ProductID: p.ID,
		Requested: qty,
		Remaining: p.Stock,
	})
}

// AddItem adds qty units of a catalog product at its current effective price.
// The combined quantity in the cart may not exceed the catalog's stock.
func (s *Session) AddItem(ctx context.Context, productID string, qty int) (cart.LineItem, error) {
	if qty <= 0 {
		return cart.LineItem{}, newError(KindInvalidQuantity, productID,
			&cart.InvalidQuantityError{ProductID: productID, Quantity: qty})
	}

	p, err := s.lookup(ctx, productID)
	if err != nil {
		return cart.LineItem{}, err
	}
	item, err := cart.NewLineItem(p.ID, p.Name, p.EffectivePrice(), qty, p.Image.Thumbnail)
	if err != nil {
		return cart.LineItem{}, Classify(err)
	}

	var line cart.LineItem
	err = s.builder.Mutate(func() error {
		var existing int
		if l, ok := s.cart.Item(p.ID); ok {
			existing = l.Quantity
		}
		// Compared as a difference so a huge qty cannot overflow the sum.
		if qty > p.Stock-existing {
			return newError(KindInsufficientStock, p.ID, &stock.InsufficientStockError{
				ProductID: p.ID,
				Requested: qty,
				Remaining: max(p.Stock-existing, 0),
			})
		}
		if err := s.cart.Add(item); err != nil {
			return err
		}
		line, _ = s.cart.Item(p.ID)
		return nil
	})
	if err != nil {
		return cart.LineItem{}, Classify(err)
	}
	return line, nil
}

// SetQuantity replaces a line's quantity; zero or less removes the line.
func (s *Session) SetQuantity(ctx context.Context, productID string, qty int) error {
	var p *product.Product
	if qty > 0 {
		if _, ok := s.cart.Item(productID); !ok {
			return newError(KindLineNotFound, productID, cart.ErrLineNotFound)
		}
		var err error
		if p, err = s.lookup(ctx, productID); err != nil {
			return err
		}
	}

	err := s.builder.Mutate(func() error {
		if p != nil {
			if err := checkAvailable(p, qty); err != nil {
				return err
			}
		}
		return s.cart.SetQuantity(productID, qty)
	})
	if ce := Classify(err); ce != nil {
		if ce.ProductID == "" {
			ce.ProductID = productID
		}
		return ce
	}
	return nil
}

// RemoveItem deletes the product's line. It reports whether a line existed.
func (s *Session) RemoveItem(productID string) (bool, error) {
	var removed bool
	err := s.builder.Mutate(func() error {
		removed = s.cart.Remove(productID)
		return nil
	})
	if err != nil {
		return false, Classify(err)
	}
	return removed, nil
}

// Clear empties the cart. The applied coupon stays.
func (s *Session) Clear() error {
	err := s.builder.Mutate(func() error {
		s.cart.Clear()
		return nil
	})
	if err != nil {
		return Classify(err)
	}
	return nil
}

// ApplyCoupon validates code and makes it the session's coupon, replacing
// any previous one. A rejected code leaves the current coupon in place.
func (s *Session) ApplyCoupon(code string) (coupon.Coupon, error) {
	c, err := s.coupons.Validate(code)
	if err != nil {
		return coupon.Coupon{}, Classify(err)
	}

	err = s.builder.Mutate(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.applied = &c
		return nil
	})
	if err != nil {
		return coupon.Coupon{}, Classify(err)
	}
	return c, nil
}

// RemoveCoupon drops the applied coupon. It reports whether one was applied.
func (s *Session) RemoveCoupon() (bool, error) {
	var had bool
	err := s.builder.Mutate(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		had = s.applied != nil
		s.applied = nil
		return nil
	})
	if err != nil {
		return false, Classify(err)
	}
	return had, nil
}

// AppliedCoupon returns the coupon currently applied, if any.
func (s *Session) AppliedCoupon() (coupon.Coupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.applied == nil {
		return coupon.Coupon{}, false
	}
	return *s.applied, true
}

func (s *Session) appliedCopy() *coupon.Coupon {
	if c, ok := s.AppliedCoupon(); ok {
		return &c
	}
	return nil
}

// Pricing computes the totals for the current cart and coupon.
func (s *Session) Pricing() pricing.Result {
	return pricing.Price(s.cart.Items(), s.appliedCopy(), s.builder.Policy())
}

// View returns the session's lines, coupon and totals.
func (s *Session) View() View {
	items := s.cart.Items()
	applied := s.appliedCopy()
	return View{
		ID:      s.id,
		Items:   items,
		Coupon:  applied,
		Pricing: pricing.Price(items, applied, s.builder.Policy()),
		State:   s.builder.State(),
	}
}

// Submit checks out the cart with the applied coupon. A successful checkout
// empties the cart and drops the coupon.
func (s *Session) Submit(ctx context.Context) (*order.Order, error) {
	s.mu.Lock()
	submitted := s.applied
	s.mu.Unlock()

	var applied *coupon.Coupon
	if submitted != nil {
		c := *submitted
		applied = &c
	}
	o, err := s.builder.Submit(ctx, s.cart, applied)
	if err != nil {
		return nil, err
	}

	// A coupon applied after this checkout finished belongs to the next cart.
	s.mu.Lock()
	if s.applied == submitted {
		s.applied = nil
	}
	s.mu.Unlock()
	return o, nil
}

// SubmitOnce is Submit keyed by a client idempotency key. A key that already
// produced an order returns that order with replayed set, without another
// checkout. An empty key behaves like Submit.
func (s *Session) SubmitOnce(ctx context.Context, key string) (o *order.Order, replayed bool, err error) {
	if key == "" {
		o, err = s.Submit(ctx)
		return o, false, err
	}

	s.mu.Lock()
	orderID, ok := s.idempotency[key]
	s.mu.Unlock()
	if ok {
		o, err = s.builder.Order(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		return o, true, nil
	}

	o, err = s.Submit(ctx)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	s.idempotency[key] = o.ID
	s.mu.Unlock()
	return o, false, nil
}

// Order returns a confirmed order by id.
func (s *Session) Order(ctx context.Context, id string) (*order.Order, error) {
	return s.builder.Order(ctx, id)
}
