package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	ProviderPaystack = "paystack"
	ProviderStripe   = "stripe"
	ProviderSandbox  = "sandbox"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Missing REDIS_ADDR or PG_DSN select the in-memory implementations so the
// binary runs locally without extra setup.
type ServerConfig struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"5s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout     time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisGeoKey   string `envconfig:"REDIS_GEO_KEY" default:"washers:location"`

	PGDSN         string `envconfig:"PG_DSN"`
	RunMigrations bool   `envconfig:"MIGRATE"`

	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
	KafkaDLQTopic string   `envconfig:"KAFKA_DLQ_TOPIC" default:"settlements-dlq"`

	RabbitMQURL      string `envconfig:"RABBITMQ_URL"`
	RabbitMQExchange string `envconfig:"RABBITMQ_EXCHANGE" default:"wash-hup.events"`

	JWTSecret string `envconfig:"JWT_SECRET"`

	PushEndpoint string `envconfig:"PUSH_ENDPOINT"`
	PushKey      string `envconfig:"PUSH_KEY"`

	PaymentProvider    string          `envconfig:"PAYMENT_PROVIDER" default:"sandbox"`
	PaystackBaseURL    string          `envconfig:"PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	PaystackSecretKey  string          `envconfig:"PAYSTACK_SECRET_KEY"`
	StripeAPIKey       string          `envconfig:"STRIPE_API_KEY"`
	StripeWebhookKey   string          `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeFeePercent   decimal.Decimal `envconfig:"STRIPE_FEE_PERCENT" default:"10"`
	PaymentSuccessURL  string          `envconfig:"PAYMENT_SUCCESS_URL" default:"http://localhost:8080/payments/done"`
	PaymentCancelURL   string          `envconfig:"PAYMENT_CANCEL_URL" default:"http://localhost:8080/payments/cancelled"`
	SandboxBaseURL     string          `envconfig:"SANDBOX_BASE_URL" default:"http://localhost:8080"`
	SandboxSecret      string          `envconfig:"SANDBOX_SECRET" default:"sandbox"`
	Currency           string          `envconfig:"CURRENCY" default:"NGN"`
	IdempotencyTTL     time.Duration   `envconfig:"IDEMPOTENCY_TTL" default:"720h"`
	PaymentExpiry      time.Duration   `envconfig:"PAYMENT_EXPIRY" default:"24h"`
	SweepSchedule      string          `envconfig:"SWEEP_SCHEDULE" default:"@every 15m"`
	OutboxSweep        string          `envconfig:"OUTBOX_SWEEP_SCHEDULE" default:"@every 1m"`
	OutboxPollInterval time.Duration   `envconfig:"OUTBOX_POLL_INTERVAL" default:"2s"`

	SearchRadiusKm float64       `envconfig:"SEARCH_RADIUS_KM" default:"5"`
	OfferTTL       time.Duration `envconfig:"OFFER_TTL" default:"1h"`
	CodeTTL        time.Duration `envconfig:"CODE_TTL" default:"10m"`
	PriceCacheTTL  time.Duration `envconfig:"PRICE_CACHE_TTL" default:"1h"`

	OSRMEndpoint    string  `envconfig:"OSRM_ENDPOINT"`
	DefaultSpeedMps float64 `envconfig:"MATCHER_DEFAULT_SPEED_MPS" default:"8"`
	MatcherTopN     int     `envconfig:"MATCHER_TOP_N" default:"20"`
	RatingWeight    float64 `envconfig:"MATCHER_RATING_WEIGHT" default:"30"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// ConsumerConfig drives the settlement retry worker.
type ConsumerConfig struct {
	MetricsAddr   string        `envconfig:"METRICS_ADDR" default:":2112"`
	KafkaBrokers  []string      `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaDLQTopic string        `envconfig:"KAFKA_DLQ_TOPIC" default:"settlements-dlq"`
	KafkaGroup    string        `envconfig:"KAFKA_GROUP" default:"wash-hup-settlement-retry"`
	PGDSN         string        `envconfig:"PG_DSN"`
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	MaxAttempts   int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"5"`
	RetryBackoff  time.Duration `envconfig:"RETRY_BACKOFF" default:"1s"`
	MaxBackoff    time.Duration `envconfig:"RETRY_MAX_BACKOFF" default:"30s"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadServerConfig reads an optional .env file and then the environment.
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := load(&cfg); err != nil {
		return cfg, err
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.PaymentProvider = strings.ToLower(strings.TrimSpace(cfg.PaymentProvider))
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)
	return cfg, cfg.Validate()
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	var cfg ConsumerConfig
	if err := load(&cfg); err != nil {
		return cfg, err
	}
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)
	return cfg, cfg.Validate()
}

func load(spec any) error {
	// .env is a local convenience; real deployments set the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process("", spec); err != nil {
		return fmt.Errorf("failed to process config: %w", err)
	}
	return nil
}

func (c ServerConfig) Validate() error {
	var errs []error
	if c.SearchRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("SEARCH_RADIUS_KM must be > 0"))
	}
	if c.OfferTTL <= 0 || c.CodeTTL <= 0 || c.IdempotencyTTL <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_TTL, CODE_TTL and IDEMPOTENCY_TTL must be > 0"))
	}
	if c.MatcherTopN <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_TOP_N must be > 0"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	}
	switch c.PaymentProvider {
	case ProviderPaystack:
		if c.PaystackSecretKey == "" {
			errs = append(errs, fmt.Errorf("PAYSTACK_SECRET_KEY is required for paystack"))
		}
	case ProviderStripe:
		if c.StripeAPIKey == "" || c.StripeWebhookKey == "" {
			errs = append(errs, fmt.Errorf("STRIPE_API_KEY and STRIPE_WEBHOOK_SECRET are required for stripe"))
		}
		if c.StripeFeePercent.IsNegative() || c.StripeFeePercent.GreaterThan(decimal.NewFromInt(100)) {
			errs = append(errs, fmt.Errorf("STRIPE_FEE_PERCENT must be within 0..100"))
		}
	case ProviderSandbox:
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.PaymentProvider))
	}
	return errors.Join(errs...)
}

func (c ConsumerConfig) Validate() error {
	var errs []error
	if len(c.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS is required"))
	}
	if c.PGDSN == "" {
		errs = append(errs, fmt.Errorf("PG_DSN is required"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be > 0"))
	}
	return errors.Join(errs...)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
