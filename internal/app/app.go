package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/money"
	"github.com/xenking/kart-checkout/internal/events"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	policy, err := cfg.ShippingPolicy()
	if err != nil {
		return err
	}
	formatter, err := money.NewFormatter(cfg.Currency, cfg.Locale)
	if err != nil {
		return errors.Wrap(err, "money formatter")
	}
	baseCoupons, err := coupon.ParseRules(cfg.Coupons)
	if err != nil {
		return errors.Wrap(err, "coupon rules")
	}

	st, err := openStorage(ctx, lg, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.close()

	registry, err := coupon.LoadRegistry(ctx, baseCoupons, st.coupons...)
	if err != nil {
		return errors.Wrap(err, "load coupons")
	}
	lg.Info("Coupons loaded", zap.Strings("codes", registry.Codes()))

	healthSvc := health.New()
	healthSvc.Register(health.Liveness, health.Check{
		Name: "goroutines",
		Func: health.GoroutineCountCheck(10000),
	})
	if st.pinger != nil {
		healthSvc.Register(health.Readiness, health.Check{
			Name:    "postgres",
			Timeout: 5 * time.Second,
			Func:    health.PingCheck(st.pinger),
		})
	}

	notifier, closeNotifier := newNotifier(ctx, lg, cfg.Kafka, cfg.Checkout.NotifyTimeout)
	defer closeNotifier()

	metrics, err := checkout.NewMetrics(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "checkout metrics")
	}
	tracer := m.TracerProvider().Tracer(checkout.InstrumentationName)

	sessions := checkout.NewSessions(func(id string) *checkout.Session {
		b := checkout.NewBuilder(st.ledger, st.orders, checkout.BuilderConfig{
			Policy:        policy,
			LedgerTimeout: cfg.Checkout.LedgerTimeout,
			NotifyTimeout: cfg.Checkout.NotifyTimeout,
			Notifier:      notifier,
			Metrics:       metrics,
			Tracer:        tracer,
		})
		return checkout.NewSession(id, st.catalog, registry, b)
	}, cfg.Session.TTL)

	h := handler.New(handler.Config{
		ImageBaseURL: cfg.ImageBaseURL,
		Formatter:    formatter,
	}, st.catalog, st.orders, sessions)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Middleware(otelhttp.NewMiddleware("kart-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			)),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", handler.HeaderIdempotencyKey, httpmiddleware.HeaderRequestID},
				ExposeHeaders:    []string{httpmiddleware.HeaderRequestID, handler.HeaderReplayed, "Location"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			limiter.Middleware(),
			httpmiddleware.LogRequests(),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	healthSvc.Start(gctx, 10*time.Second)
	defer healthSvc.Stop()

	g.Go(func() error {
		return sessions.Run(gctx, cfg.Session.SweepInterval)
	})
	g.Go(func() error {
		return limiter.Run(gctx)
	})
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		healthSvc.SetReady(true)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

// newNotifier publishes order events to Kafka when brokers are configured and
// logs them otherwise.
func newNotifier(ctx context.Context, lg *zap.Logger, cfg KafkaConfig, timeout time.Duration) (checkout.Notifier, func()) {
	brokers := events.ParseBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return events.LogNotifier{}, func() {}
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := events.DialCheck(brokers)(dialCtx); err != nil {
		lg.Warn("Kafka unreachable at startup", zap.Error(err))
	}
	lg.Info("Publishing order events", zap.Strings("brokers", brokers), zap.String("topic", cfg.Topic))

	n := events.NewKafkaNotifier(events.NewWriter(brokers, cfg.Topic), timeout)
	return n, func() {
		if err := n.Close(); err != nil {
			lg.Error("Close kafka writer", zap.Error(err))
		}
	}
}
