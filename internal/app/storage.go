package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/db"
	"github.com/xenking/kart-checkout/internal/codec"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/stock"
	"github.com/xenking/kart-checkout/internal/storage/memory"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	"github.com/xenking/kart-checkout/pkg/health"
)

// storage is the set of backends the checkout runs on.
type storage struct {
	catalog product.Repository
	ledger  stock.Ledger
	orders  order.Repository
	coupons []coupon.Source
	// pinger is nil for in-memory storage.
	pinger health.Pinger
	close  func()
}

// openStorage connects to PostgreSQL when a database URL is configured and
// falls back to in-memory storage seeded from the embedded catalog.
func openStorage(ctx context.Context, lg *zap.Logger, databaseURL string) (*storage, error) {
	if databaseURL == "" {
		products, err := codec.UnmarshalProducts(db.Products)
		if err != nil {
			return nil, errors.Wrap(err, "parse embedded catalog")
		}
		lg.Warn("No database configured, using in-memory storage", zap.Int("products", len(products)))

		inv := memory.NewInventory(products)
		return &storage{
			catalog: inv,
			ledger:  inv,
			orders:  memory.NewOrderRepository(),
			close:   func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	lg.Info("Using PostgreSQL storage")

	return &storage{
		catalog: postgres.NewProductRepository(pool),
		ledger:  postgres.NewStockLedger(pool),
		orders:  postgres.NewOrderRepository(pool),
		coupons: []coupon.Source{postgres.NewCouponRepository(pool)},
		pinger:  pool,
		close:   pool.Close,
	}, nil
}
