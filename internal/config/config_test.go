package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unset removes key for the duration of the test; envconfig treats an empty
// but present variable as a value, not as missing.
func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadServerConfigDefaults(t *testing.T) {
	unset(t, "PAYMENT_PROVIDER", "KAFKA_BROKERS", "OFFER_TTL", "CODE_TTL", "SEARCH_RADIUS_KM", "HTTP_ADDR", "REDIS_GEO_KEY", "IDEMPOTENCY_TTL")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "washers:location", cfg.RedisGeoKey)
	assert.Equal(t, 5.0, cfg.SearchRadiusKm)
	assert.Equal(t, time.Hour, cfg.OfferTTL)
	assert.Equal(t, 10*time.Minute, cfg.CodeTTL)
	assert.Equal(t, 720*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, ProviderSandbox, cfg.PaymentProvider)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("OFFER_TTL", "30m")
	t.Setenv("PAYMENT_PROVIDER", "Stripe")
	t.Setenv("STRIPE_API_KEY", "sk_test")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec")
	t.Setenv("STRIPE_FEE_PERCENT", "12.5")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30*time.Minute, cfg.OfferTTL)
	assert.Equal(t, ProviderStripe, cfg.PaymentProvider)
	assert.Equal(t, "12.5", cfg.StripeFeePercent.String())
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadServerConfigBadDuration(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CODE_TTL", "soon")

	_, err := LoadServerConfig()
	assert.Error(t, err)
}

func TestServerConfigValidate(t *testing.T) {
	base := ServerConfig{
		SearchRadiusKm:  5,
		OfferTTL:        time.Hour,
		CodeTTL:         time.Minute,
		IdempotencyTTL:  time.Hour,
		MatcherTopN:     10,
		JWTSecret:       "x",
		PaymentProvider: ProviderSandbox,
	}
	require.NoError(t, base.Validate())

	cases := map[string]func(*ServerConfig){
		"radius":       func(c *ServerConfig) { c.SearchRadiusKm = 0 },
		"jwt":          func(c *ServerConfig) { c.JWTSecret = "" },
		"provider":     func(c *ServerConfig) { c.PaymentProvider = "cash" },
		"paystack key": func(c *ServerConfig) { c.PaymentProvider = ProviderPaystack },
		"stripe keys":  func(c *ServerConfig) { c.PaymentProvider = ProviderStripe },
		"ttl":          func(c *ServerConfig) { c.CodeTTL = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestConsumerConfigValidate(t *testing.T) {
	unset(t, "PG_DSN", "KAFKA_BROKERS", "RETRY_MAX_ATTEMPTS")
	_, err := LoadConsumerConfig()
	assert.ErrorContains(t, err, "PG_DSN")

	t.Setenv("PG_DSN", "postgres://localhost/wash")
	cfg, err := LoadConsumerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5, cfg.MaxAttempts)
}
