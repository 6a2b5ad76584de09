// Package cache wraps the short-lived key/value state of the workflow:
// verification codes, webhook idempotency markers and cached price bands.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/models"
)

// KV is the minimal TTL key/value contract. Get reports a missing key with
// found=false and a nil error.
type KV interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

const priceBandsKey = "service_prices"

func CodeKey(washerID, washID string) string { return "code:" + washerID + ":" + washID }

func ChargeMarkerKey(event, reference string) string { return event + ":" + reference }

// PriceBands returns cached bands, or calls load and caches the result for ttl.
func PriceBands(ctx context.Context, kv KV, ttl time.Duration, load func(context.Context) ([]models.PriceBand, error)) ([]models.PriceBand, error) {
	if raw, ok, err := kv.Get(ctx, priceBandsKey); err == nil && ok {
		var bands []models.PriceBand
		if err := json.Unmarshal([]byte(raw), &bands); err == nil {
			return bands, nil
		}
	}
	bands, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if len(bands) == 0 {
		return nil, apperr.NotFound("service prices")
	}
	if b, err := json.Marshal(bands); err == nil {
		_ = kv.Set(ctx, priceBandsKey, string(b), ttl)
	}
	return bands, nil
}

// InvalidatePriceBands drops the cached bands after an admin change.
func InvalidatePriceBands(ctx context.Context, kv KV) error {
	return kv.Del(ctx, priceBandsKey)
}
