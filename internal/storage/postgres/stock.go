package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/stock"
)

const (
	insertReservationSQL = `INSERT INTO stock_reservations (key, lines) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING`

	decrementStockSQL = `UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`

	remainingStockSQL = `SELECT stock FROM products WHERE id = $1`
)

var _ stock.Ledger = (*StockLedger)(nil)

// StockLedger decrements products.stock inside one transaction per order.
// The guarded UPDATE never lets stock go negative; a row in
// stock_reservations makes the decrement idempotent per key.
type StockLedger struct {
	pool *pgxpool.Pool
}

// NewStockLedger returns a StockLedger that uses the given pool.
func NewStockLedger(pool *pgxpool.Pool) *StockLedger {
	return &StockLedger{pool: pool}
}

// Decrement applies all lines under key or none of them.
func (l *StockLedger) Decrement(ctx context.Context, key string, lines []stock.Line) error {
	if key == "" {
		return errors.New("empty decrement key")
	}
	if err := stock.Validate(lines); err != nil {
		return err
	}
	// Merged lines are sorted by product, so concurrent orders lock rows in
	// the same order.
	lines = stock.Merge(lines)

	_, err := withTx(ctx, l.pool, func(tx pgx.Tx) (struct{}, error) {
		tag, err := tx.Exec(ctx, insertReservationSQL, key, encodeLines(lines))
		if err != nil {
			return struct{}{}, errors.Wrap(err, "insert reservation")
		}
		if tag.RowsAffected() == 0 {
			// Applied by an earlier attempt.
			return struct{}{}, nil
		}

		for _, line := range lines {
			tag, err := tx.Exec(ctx, decrementStockSQL, line.ProductID, line.Quantity)
			if err != nil {
				return struct{}{}, errors.Wrapf(err, "decrement %s", line.ProductID)
			}
			if tag.RowsAffected() == 1 {
				continue
			}

			var remaining int
			err = tx.QueryRow(ctx, remainingStockSQL, line.ProductID).Scan(&remaining)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return struct{}{}, errors.Wrapf(err, "read stock %s", line.ProductID)
			}
			return struct{}{}, &stock.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Remaining: remaining,
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		var isErr *stock.InsufficientStockError
		if errors.As(err, &isErr) {
			return err
		}
		return errors.Wrap(stock.ErrLedgerUnavailable, err.Error())
	}
	return nil
}

// Remaining returns the stock of a product.
func (l *StockLedger) Remaining(ctx context.Context, productID string) (int, error) {
	var remaining int
	if err := l.pool.QueryRow(ctx, remainingStockSQL, productID).Scan(&remaining); err != nil {
		return 0, errors.Wrapf(err, "read stock %s", productID)
	}
	return remaining, nil
}

func encodeLines(lines []stock.Line) []byte {
	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, line := range lines {
			e.Obj(func(e *jx.Encoder) {
				e.Field("productId", func(e *jx.Encoder) { e.Str(line.ProductID) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(line.Quantity) })
			})
		}
	})
	return e.Bytes()
}
