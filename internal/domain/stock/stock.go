// Package stock defines the Stock Ledger: the authoritative, all-or-nothing
// decrement of inventory tied to a confirmed order.
package stock

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-faster/errors"
)

var (
	// ErrInsufficientStock matches any InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrLedgerUnavailable is returned when the ledger could not be reached or
	// did not answer in time. No decrement is known to have been applied.
	ErrLedgerUnavailable = errors.New("stock ledger unavailable")
)

// InsufficientStockError reports the product whose remaining stock could not
// cover the requested quantity.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Remaining int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, remaining %d",
		e.ProductID, e.Requested, e.Remaining)
}

// Is lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Line is a single product decrement request.
type Line struct {
	ProductID string
	Quantity  int
}

// Ledger decrements stock for a whole order atomically: either every line is
// applied or none is. Remaining stock never goes negative.
//
// key identifies the decrement. Calling Decrement again with a key that was
// already applied succeeds without decrementing twice, which makes retries
// after a timeout safe.
type Ledger interface {
	Decrement(ctx context.Context, key string, lines []Line) error
}

// Merge sums quantities per product and orders lines by product ID, giving
// every ledger the same lock order.
func Merge(lines []Line) []Line {
	byID := make(map[string]int, len(lines))
	for _, l := range lines {
		byID[l.ProductID] += l.Quantity
	}
	out := make([]Line, 0, len(byID))
	for id, qty := range byID {
		out = append(out, Line{ProductID: id, Quantity: qty})
	}
	slices.SortFunc(out, func(a, b Line) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return out
}

// Validate rejects empty requests and non-positive quantities.
func Validate(lines []Line) error {
	if len(lines) == 0 {
		return errors.New("no stock lines")
	}
	for _, l := range lines {
		if l.ProductID == "" {
			return errors.New("stock line without product id")
		}
		if l.Quantity <= 0 {
			return errors.Errorf("stock line %s: quantity must be greater than 0", l.ProductID)
		}
	}
	return nil
}

// Fingerprint returns a stable identity for a set of lines, used to decide
// whether a retry targets the same decrement.
func Fingerprint(lines []Line) string {
	var b strings.Builder
	for _, l := range Merge(lines) {
		fmt.Fprintf(&b, "%s:%d;", l.ProductID, l.Quantity)
	}
	return b.String()
}
