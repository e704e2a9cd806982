package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName names the checkout meter and tracer.
const InstrumentationName = "github.com/xenking/kart-checkout/internal/domain/checkout"

// Metrics records checkout outcomes. A nil *Metrics records nothing.
type Metrics struct {
	confirmed metric.Int64Counter
	failed    metric.Int64Counter
	ledger    metric.Float64Histogram
}

// NewMetrics registers the checkout instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(InstrumentationName)

	confirmed, err := meter.Int64Counter("checkout.orders.confirmed",
		metric.WithDescription("Orders confirmed by checkout"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "confirmed counter")
	}
	failed, err := meter.Int64Counter("checkout.orders.failed",
		metric.WithDescription("Checkout submissions that did not produce an order, by error kind"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed counter")
	}
	ledger, err := meter.Float64Histogram("checkout.ledger.duration",
		metric.WithDescription("Stock ledger decrement latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "ledger histogram")
	}

	return &Metrics{confirmed: confirmed, failed: failed, ledger: ledger}, nil
}

func (m *Metrics) orderConfirmed(ctx context.Context) {
	if m == nil {
		return
	}
	m.confirmed.Add(ctx, 1)
}

func (m *Metrics) orderFailed(ctx context.Context, kind Kind) {
	if m == nil {
		return
	}
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *Metrics) ledgerDone(ctx context.Context, took time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.ledger.Record(ctx, took.Seconds(), metric.WithAttributes(attribute.Bool("ok", ok)))
}
