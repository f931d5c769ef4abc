package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/beanhouse/internal/domain/loyalty"
	"github.com/xenking/beanhouse/internal/domain/pricing"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (BEAN_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (BEAN_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Redis       RedisConfig
	Pricing     PricingConfig
	Loyalty     LoyaltyConfig
	Notify      NotifyConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// RedisConfig points order confirmations at a Pub/Sub channel. An empty URL
// logs confirmations instead of publishing them.
type RedisConfig struct {
	URL     string `default:"" usage:"Redis URL for order notifications (BEAN_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Channel string `default:"beanhouse:orders:created" usage:"Pub/Sub channel for order confirmations" flag:"redis-channel"`
}

// PricingConfig controls shipping. Amounts are in the store currency's
// smallest unit.
type PricingConfig struct {
	FreeShippingThreshold int64 `default:"300000" usage:"Subtotal above which shipping is free" flag:"free-shipping-threshold"`
	FlatShippingFee       int64 `default:"30000"  usage:"Shipping fee at or below the threshold" flag:"flat-shipping-fee"`
}

// LoyaltyConfig controls point conversion.
type LoyaltyConfig struct {
	EarnUnit   int64 `default:"10000" usage:"Payable amount that earns one point" flag:"earn-unit"`
	PointValue int64 `default:"1000"  usage:"Discount value of one redeemed point" flag:"point-value"`
}

// NotifyConfig bounds confirmation dispatch.
type NotifyConfig struct {
	Timeout time.Duration `default:"10s" usage:"Timeout for a single order confirmation" flag:"notify-timeout"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*"     usage:"Allowed CORS origins"`
	MaxAge  int      `default:"86400" usage:"Preflight cache duration in seconds" flag:"cors-max-age"`
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
		EnvPrefix: "BEAN",
		Files:     []string{"config.yaml", "/etc/beanhouse/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set BEAN_DATABASE_URL or DATABASE_URL")
	}
	if c.Pricing.FreeShippingThreshold < 0 || c.Pricing.FlatShippingFee < 0 {
		return errors.New("shipping amounts must not be negative")
	}
	if c.Loyalty.EarnUnit <= 0 || c.Loyalty.PointValue <= 0 {
		return errors.New("loyalty earn unit and point value must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's BEAN_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// PricingRules converts the shipping settings to domain rules.
func (c *Config) PricingRules() pricing.Config {
	return pricing.Config{
		FreeShippingThreshold: decimal.NewFromInt(c.Pricing.FreeShippingThreshold),
		FlatShippingFee:       decimal.NewFromInt(c.Pricing.FlatShippingFee),
	}
}

// LoyaltyRules converts the point settings to domain rules.
func (c *Config) LoyaltyRules() loyalty.Config {
	return loyalty.Config{
		EarnUnit:   decimal.NewFromInt(c.Loyalty.EarnUnit),
		PointValue: decimal.NewFromInt(c.Loyalty.PointValue),
	}
}
