package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/models"
)

// RedisIndex implements Index using Redis GEO commands on a single sorted set.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(client *redis.Client, key string) *RedisIndex {
	return &RedisIndex{client: client, key: key}
}

func (r *RedisIndex) SetAvailable(ctx context.Context, washerID string, at models.Coord) error {
	err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: at.Lon, Latitude: at.Lat, Name: washerID}).Err()
	if err != nil {
		return apperr.Unavailable("update washer location", err)
	}
	return nil
}

func (r *RedisIndex) SetUnavailable(ctx context.Context, washerID string) error {
	if err := r.client.ZRem(ctx, r.key, washerID).Err(); err != nil {
		return apperr.Unavailable("remove washer location", err)
	}
	return nil
}

func (r *RedisIndex) Query(ctx context.Context, at models.Coord, radiusKm float64) ([]Nearby, error) {
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  at.Lon,
			Latitude:   at.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, apperr.Unavailable("query washer locations", err)
	}
	out := make([]Nearby, 0, len(res))
	for _, g := range res {
		out = append(out, Nearby{
			WasherID:   g.Name,
			DistanceKm: g.Dist,
			Coord:      models.Coord{Lat: g.Latitude, Lon: g.Longitude},
		})
	}
	sortNearby(out)
	return out, nil
}
