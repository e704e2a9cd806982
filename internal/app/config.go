package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string   `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string   `usage:"PostgreSQL connection URL; empty runs on in-memory storage" flag:"database-url"`
	ImageBaseURL string   `default:"" usage:"Base URL for product images" flag:"image-base-url"`
	Currency     string   `default:"BRL" usage:"ISO 4217 store currency"`
	Locale       string   `default:"pt-BR" usage:"BCP 47 locale for formatted totals"`
	Coupons      []string `default:"WELCOME10=0.10:10% off your order,WELCOME20=0.20:20% off your order,FREESHIP=0:Free shipping promotion" usage:"Coupon rules CODE=RATE[:description]"`
	Shipping     ShippingConfig
	Checkout     CheckoutConfig
	Session      SessionConfig
	Kafka        KafkaConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// ShippingConfig controls the flat shipping fee and its waiver.
type ShippingConfig struct {
	FlatFee       string `default:"29.90" usage:"Flat shipping fee" flag:"shipping-fee"`
	FreeThreshold string `default:"299.00" usage:"Subtotal from which shipping is free" flag:"free-shipping-threshold"`
}

// CheckoutConfig controls the Order Builder.
type CheckoutConfig struct {
	LedgerTimeout time.Duration `default:"3s" usage:"Timeout of one stock ledger call" flag:"ledger-timeout"`
	NotifyTimeout time.Duration `default:"2s" usage:"Timeout of the order confirmed event publish" flag:"notify-timeout"`
}

// SessionConfig controls the shopper session registry.
type SessionConfig struct {
	TTL           time.Duration `default:"2h" usage:"Idle time after which a session is evicted" flag:"session-ttl"`
	SweepInterval time.Duration `default:"1m" usage:"Interval of the idle session janitor" flag:"session-sweep"`
}

// KafkaConfig enables order.confirmed events when Brokers is set.
type KafkaConfig struct {
	Brokers string `default:"" usage:"Comma separated Kafka brokers" flag:"kafka-brokers"`
	Topic   string `default:"kart.orders" usage:"Topic for order events" flag:"kafka-topic"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that aconfig cannot.
func (c *Config) Validate() error {
	if _, err := c.ShippingPolicy(); err != nil {
		return err
	}
	if c.Checkout.LedgerTimeout <= 0 {
		return errors.New("checkout ledger timeout must be positive")
	}
	if c.Checkout.NotifyTimeout <= 0 {
		return errors.New("checkout notify timeout must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return errors.New("session sweep interval must be positive")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// ShippingPolicy parses the shipping settings.
func (c *Config) ShippingPolicy() (pricing.ShippingPolicy, error) {
	p, err := pricing.ParseShippingPolicy(c.Shipping.FlatFee, c.Shipping.FreeThreshold)
	if err != nil {
		return pricing.ShippingPolicy{}, errors.Wrap(err, "shipping config")
	}
	return p, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Kafka.Brokers == "" {
		c.Kafka.Brokers = os.Getenv("KAFKA_BROKERS")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
}
