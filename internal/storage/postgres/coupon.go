package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const (
	listCouponsSQL = `SELECT code, discount_rate, description FROM coupons WHERE active ORDER BY code`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_rate, description, active)
		VALUES (UPPER($1), $2, $3, TRUE)
		ON CONFLICT (code) DO UPDATE SET
			discount_rate = EXCLUDED.discount_rate,
			description = EXCLUDED.description,
			active = TRUE`

	deactivateCouponsSQL = `UPDATE coupons SET active = FALSE WHERE code = ANY($1) AND active`
)

var _ coupon.Source = (*CouponRepository)(nil)

// CouponRepository stores coupon definitions. Active rows feed the coupon
// registry at startup.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// ListCoupons returns every active coupon.
func (r *CouponRepository) ListCoupons(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (coupon.Coupon, error) {
		var c coupon.Coupon
		err := row.Scan(&c.Code, &c.Rate, &c.Description)
		return c, err
	})
}

// Upsert activates coupons, overwriting rate and description of existing
// codes.
func (r *CouponRepository) Upsert(ctx context.Context, coupons []coupon.Coupon) error {
	batch := &pgx.Batch{}
	for _, c := range coupons {
		if err := c.Validate(); err != nil {
			return err
		}
		batch.Queue(upsertCouponSQL, coupon.Normalize(c.Code), c.Rate, c.Description)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upsert coupons")
	}
	return nil
}

// Deactivate marks codes inactive and returns how many rows changed.
func (r *CouponRepository) Deactivate(ctx context.Context, codes []string) (int64, error) {
	normalized := make([]string, len(codes))
	for i, c := range codes {
		normalized[i] = coupon.Normalize(c)
	}
	tag, err := r.pool.Exec(ctx, deactivateCouponsSQL, normalized)
	if err != nil {
		return 0, errors.Wrap(err, "deactivate coupons")
	}
	return tag.RowsAffected(), nil
}
