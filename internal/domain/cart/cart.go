// Package cart holds a shopper's in-progress selection of products.
//
// A Cart keeps at most one line per product, in insertion order. The subtotal
// is recomputed from the lines on every call and never cached.
package cart

import (
	"fmt"
	"math"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidQuantity is returned when a quantity is not a positive integer.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	// ErrInvalidItem is returned when a line item is missing its product or
	// carries a negative price.
	ErrInvalidItem = errors.New("invalid line item")
	// ErrLineNotFound is returned when a quantity change targets a product
	// that is not in the cart.
	ErrLineNotFound = errors.New("product not in cart")
)

// InvalidQuantityError indicates a non-positive quantity for a product, or
// one that would push the line past the largest representable quantity.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	if e.Quantity > 0 {
		return fmt.Sprintf("quantity %d for product %s exceeds the line limit", e.Quantity, e.ProductID)
	}
	return fmt.Sprintf("quantity must be greater than 0 for product %s, got %d", e.ProductID, e.Quantity)
}

// Is lets errors.Is match ErrInvalidQuantity.
func (e *InvalidQuantityError) Is(target error) bool {
	return target == ErrInvalidQuantity
}

// LineItem is one product entry in a cart, priced at the moment it was added.
type LineItem struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	Image     string
}

// NewLineItem validates and builds a LineItem.
func NewLineItem(productID, name string, unitPrice decimal.Decimal, qty int, image string) (LineItem, error) {
	item := LineItem{
		ProductID: productID,
		Name:      name,
		UnitPrice: unitPrice,
		Quantity:  qty,
		Image:     image,
	}
	if err := item.validate(); err != nil {
		return LineItem{}, err
	}
	return item, nil
}

func (l LineItem) validate() error {
	if l.ProductID == "" {
		return errors.Wrap(ErrInvalidItem, "product id required")
	}
	if l.UnitPrice.IsNegative() {
		return errors.Wrapf(ErrInvalidItem, "negative price for product %s", l.ProductID)
	}
	if l.Quantity <= 0 {
		return &InvalidQuantityError{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return nil
}

// Total returns unitPrice * quantity.
func (l LineItem) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is the Cart Store for a single shopper session. It is safe for
// concurrent use.
type Cart struct {
	mu    sync.RWMutex
	lines []LineItem
	index map[string]int
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{index: make(map[string]int)}
}

// Add inserts the item or, when a line for the same product exists, increases
// its quantity. The existing line keeps the price captured at its first add.
func (c *Cart) Add(item LineItem) error {
	if err := item.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.index[item.ProductID]; ok {
		existing := c.lines[i].Quantity
		if existing > math.MaxInt-item.Quantity {
			return &InvalidQuantityError{ProductID: item.ProductID, Quantity: item.Quantity}
		}
		c.lines[i].Quantity = existing + item.Quantity
		return nil
	}
	c.index[item.ProductID] = len(c.lines)
	c.lines = append(c.lines, item)
	return nil
}

// SetQuantity replaces the quantity of an existing line. A quantity of zero or
// less removes the line, so a line never sits at zero.
func (c *Cart) SetQuantity(productID string, qty int) error {
	if qty <= 0 {
		c.Remove(productID)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[productID]
	if !ok {
		return errors.Wrapf(ErrLineNotFound, "set quantity for %s", productID)
	}
	c.lines[i].Quantity = qty
	return nil
}

// Remove deletes the line for productID. Removing an absent product is a
// no-op; the return value reports whether a line was deleted.
func (c *Cart) Remove(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[productID]
	if !ok {
		return false
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	delete(c.index, productID)
	for j := i; j < len(c.lines); j++ {
		c.index[c.lines[j].ProductID] = j
	}
	return true
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lines = nil
	c.index = make(map[string]int)
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []LineItem {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]LineItem, len(c.lines))
	copy(out, c.lines)
	return out
}

// Item returns the line for productID, if present.
func (c *Cart) Item(productID string) (LineItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[productID]
	if !ok {
		return LineItem{}, false
	}
	return c.lines[i], true
}

// Len returns the number of distinct lines.
func (c *Cart) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lines)
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return c.Len() == 0
}

// TotalQuantity returns the number of units across all lines.
func (c *Cart) TotalQuantity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, l := range c.lines {
		total += l.Quantity
	}
	return total
}

// Subtotal returns the sum of unitPrice * quantity over all lines.
func (c *Cart) Subtotal() decimal.Decimal {
	return Subtotal(c.Items())
}

// Subtotal returns the sum of unitPrice * quantity over items.
func Subtotal(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.Total())
	}
	return sum
}
