package events

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

var _ checkout.Notifier = LogNotifier{}

// LogNotifier records confirmed orders in the request log. It is used when
// no Kafka brokers are configured.
type LogNotifier struct{}

// OrderConfirmed logs the order.
func (LogNotifier) OrderConfirmed(ctx context.Context, o *order.Order) error {
	zctx.From(ctx).Info("Order confirmed",
		zap.String("order_id", o.ID),
		zap.Int("lines", len(o.Items)),
		zap.String("total", o.Total.StringFixed(2)),
		zap.String("coupon", o.CouponCode),
	)
	return nil
}
