package offers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/models"
)

const maxUpdateAttempts = 5

// RedisStore keeps one hash per washer: field = wash id, value = offer JSON.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Put(ctx context.Context, o models.Offer) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	k := key(o.WasherID)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, o.WashID, b)
		p.Expire(ctx, k, r.ttl)
		return nil
	})
	if err != nil {
		return apperr.Unavailable("store offer", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, washerID, washID string) (*models.Offer, error) {
	raw, err := r.client.HGet(ctx, key(washerID), washID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.NotFound("offer")
	}
	if err != nil {
		return nil, apperr.Unavailable("load offer", err)
	}
	return decode(raw)
}

func (r *RedisStore) GetAll(ctx context.Context, washerID string) ([]models.Offer, error) {
	all, err := r.client.HGetAll(ctx, key(washerID)).Result()
	if err != nil {
		return nil, apperr.Unavailable("load offers", err)
	}
	out := make([]models.Offer, 0, len(all))
	for _, raw := range all {
		o, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	sortOffers(out)
	return out, nil
}

// Update is an optimistic read-modify-write: WATCH the washer hash, apply fn,
// then write inside MULTI. A concurrent writer aborts the EXEC and we retry.
func (r *RedisStore) Update(ctx context.Context, washerID, washID string, fn func(*models.Offer) error) (*models.Offer, error) {
	k := key(washerID)
	var out *models.Offer
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, k, washID).Bytes()
		if errors.Is(err, redis.Nil) {
			return apperr.NotFound("offer")
		}
		if err != nil {
			return err
		}
		o, err := decode(raw)
		if err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
		o.UpdatedAt = time.Now().UTC()
		b, err := json.Marshal(o)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, k, washID, b)
			p.Expire(ctx, k, r.ttl)
			return nil
		})
		if err == nil {
			out = o
		}
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := r.client.Watch(ctx, txf, k)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, apperr.Unavailable("update offer", err)
	}
	return nil, apperr.Conflict("offer changed concurrently, retry")
}

func (r *RedisStore) Remove(ctx context.Context, washerID, washID string) (bool, error) {
	n, err := r.client.HDel(ctx, key(washerID), washID).Result()
	if err != nil {
		return false, apperr.Unavailable("remove offer", err)
	}
	return n == 1, nil
}

func decode(raw []byte) (*models.Offer, error) {
	var o models.Offer
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, apperr.Internal("decode offer", err)
	}
	return &o, nil
}
