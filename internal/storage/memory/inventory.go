// Package memory provides in-process implementations of the catalog, stock
// ledger and order store. They back the server when no database is
// configured and serve as fakes in tests.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

var (
	_ product.Repository = (*Inventory)(nil)
	_ stock.Ledger       = (*Inventory)(nil)
)

// Inventory is a product catalog whose stock levels are decremented through
// the stock.Ledger interface. All access is serialized by one mutex, which
// makes a multi-line decrement atomic.
type Inventory struct {
	mu       sync.RWMutex
	products map[string]product.Product
	applied  map[string]struct{}
}

// NewInventory returns an inventory holding copies of products.
func NewInventory(products []product.Product) *Inventory {
	inv := &Inventory{
		products: make(map[string]product.Product, len(products)),
		applied:  make(map[string]struct{}),
	}
	for _, p := range products {
		inv.products[p.ID] = p
	}
	return inv
}

// List returns all products ordered by ID.
func (inv *Inventory) List(_ context.Context) ([]product.Product, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	out := make([]product.Product, 0, len(inv.products))
	for _, p := range inv.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b product.Product) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// GetByID returns a copy of the product.
func (inv *Inventory) GetByID(_ context.Context, id string) (*product.Product, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	p, ok := inv.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// GetByIDs returns the products that exist among ids, in the order given.
func (inv *Inventory) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := inv.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Decrement applies every line or none. A key that was already applied is
// acknowledged without touching stock again.
func (inv *Inventory) Decrement(ctx context.Context, key string, lines []stock.Line) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(stock.ErrLedgerUnavailable, err.Error())
	}
	if key == "" {
		return errors.New("empty decrement key")
	}
	if err := stock.Validate(lines); err != nil {
		return err
	}
	lines = stock.Merge(lines)

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if _, ok := inv.applied[key]; ok {
		return nil
	}
	for _, l := range lines {
		p, ok := inv.products[l.ProductID]
		if !ok {
			return &stock.InsufficientStockError{ProductID: l.ProductID, Requested: l.Quantity}
		}
		if p.Stock < l.Quantity {
			return &stock.InsufficientStockError{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Remaining: p.Stock,
			}
		}
	}
	for _, l := range lines {
		p := inv.products[l.ProductID]
		p.Stock -= l.Quantity
		inv.products[l.ProductID] = p
	}
	inv.applied[key] = struct{}{}
	return nil
}

// Remaining returns the current stock of a product.
func (inv *Inventory) Remaining(id string) (int, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	p, ok := inv.products[id]
	return p.Stock, ok
}
