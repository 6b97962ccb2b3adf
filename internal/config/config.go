package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const PROD_STRING = "prod"

// Config holds all application configuration loaded from environment.
type Config struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	ProdOrigins string `envconfig:"PROD_ORIGINS"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`

	DBDSN         string `envconfig:"DB_DSN" required:"true"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"true"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// Optional infrastructure. Empty disables the feature.
	RedisURL     string `envconfig:"REDIS_URL"`
	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"campsite.events"`

	StripeSecretKey     string        `envconfig:"STRIPE_SECRET_KEY" required:"true"`
	StripeWebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	CheckoutSuccessURL  string        `envconfig:"CHECKOUT_SUCCESS_URL" default:"http://localhost:3000/booking/success?session_id={CHECKOUT_SESSION_ID}"`
	CheckoutCancelURL   string        `envconfig:"CHECKOUT_CANCEL_URL" default:"http://localhost:3000/booking/cancelled"`
	Currency            string        `envconfig:"CURRENCY" default:"usd"`
	ServiceFeePercent   int64         `envconfig:"SERVICE_FEE_PERCENT" default:"10"`
	GatewayTimeout      time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
	GatewayMaxRetries   uint64        `envconfig:"GATEWAY_MAX_RETRIES" default:"2"`
	GatewayRetryBase    time.Duration `envconfig:"GATEWAY_RETRY_BASE" default:"200ms"`

	SweepSchedule string        `envconfig:"SWEEP_SCHEDULE" default:"@every 15m"`
	PendingExpiry time.Duration `envconfig:"PENDING_EXPIRY" default:"24h"`
}

// IsProduction reports whether APP_ENV selects the production profile.
func (c *Config) IsProduction() bool {
	return c.AppEnv == PROD_STRING
}

// Load loads configuration from .env (optional) and environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %v", err)
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.ServiceFeePercent < 0 || cfg.ServiceFeePercent > 100 {
		return nil, fmt.Errorf("SERVICE_FEE_PERCENT must be between 0 and 100, got %d", cfg.ServiceFeePercent)
	}
	if cfg.PendingExpiry <= 0 {
		return nil, fmt.Errorf("PENDING_EXPIRY must be positive, got %s", cfg.PendingExpiry)
	}

	return cfg, nil
}
