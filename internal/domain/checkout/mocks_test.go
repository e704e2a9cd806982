package checkout

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

// --- Mock implementations ---

// mockLedger is an all-or-nothing, key-idempotent in-memory ledger. When
// block is set, Decrement waits on it (or ctx) before doing anything.
type mockLedger struct {
	mu      sync.Mutex
	stock   map[string]int
	applied map[string]bool
	keys    []string
	err     error
	block   chan struct{}
	entered chan struct{}
}

func newMockLedger(stock map[string]int) *mockLedger {
	return &mockLedger{stock: stock, applied: make(map[string]bool)}
}

func (m *mockLedger) Decrement(ctx context.Context, key string, lines []stock.Line) error {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.keys = append(m.keys, key)
	if m.err != nil {
		return m.err
	}
	if m.applied[key] {
		return nil
	}
	for _, l := range lines {
		if m.stock[l.ProductID] < l.Quantity {
			return &stock.InsufficientStockError{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Remaining: m.stock[l.ProductID],
			}
		}
	}
	for _, l := range lines {
		m.stock[l.ProductID] -= l.Quantity
	}
	m.applied[key] = true
	return nil
}

func (m *mockLedger) remaining(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[id]
}

func (m *mockLedger) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

type mockOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]*order.Order
	createErr error
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[string]*order.Order)}
}

func (m *mockOrderRepo) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o.Clone(), nil
}

func (m *mockOrderRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type mockCatalog struct {
	byID   map[string]*product.Product
	getErr error
}

func newMockCatalog(products ...product.Product) *mockCatalog {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockCatalog{byID: byID}
}

func (m *mockCatalog) List(_ context.Context) ([]product.Product, error) {
	out := make([]product.Product, 0, len(m.byID))
	for _, p := range m.byID {
		out = append(out, *p)
	}
	return out, nil
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *mockCatalog) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, err := m.GetByID(ctx, id); err == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

type mockNotifier struct {
	mu     sync.Mutex
	orders []string
	err    error
}

func (m *mockNotifier) OrderConfirmed(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, o.ID)
	return m.err
}

// --- Helpers ---

func newTestProduct(id string, price string, stock int) product.Product {
	return product.Product{
		ID:       id,
		Name:     "Product " + id,
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		Category: "test",
		Image:    product.Image{Thumbnail: id + ".jpg"},
	}
}

func newTestCart(items ...cart.LineItem) *cart.Cart {
	c := cart.New()
	for _, item := range items {
		if err := c.Add(item); err != nil {
			panic(err)
		}
	}
	return c
}

func line(id, price string, qty int) cart.LineItem {
	return cart.LineItem{
		ProductID: id,
		Name:      "Product " + id,
		UnitPrice: decimal.RequireFromString(price),
		Quantity:  qty,
	}
}

func seqIDs(ids ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i%len(ids)]
		i++
		return id
	}
}
