package geo

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/example/wash-hup/internal/models"
)

// Index tracks available washers and answers radius queries.
type Index interface {
	SetAvailable(ctx context.Context, washerID string, at models.Coord) error
	SetUnavailable(ctx context.Context, washerID string) error
	// Query returns washers within radiusKm of at, nearest first.
	Query(ctx context.Context, at models.Coord, radiusKm float64) ([]Nearby, error)
}

type Nearby struct {
	WasherID   string       `json:"washer_id"`
	DistanceKm float64      `json:"distance_km"`
	Coord      models.Coord `json:"coord"`
}

// MemoryIndex is a naive scan over every available washer.
type MemoryIndex struct {
	mu      sync.RWMutex
	washers map[string]models.Coord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{washers: make(map[string]models.Coord)}
}

func (g *MemoryIndex) SetAvailable(_ context.Context, washerID string, at models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.washers[washerID] = at
	return nil
}

func (g *MemoryIndex) SetUnavailable(_ context.Context, washerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.washers, washerID)
	return nil
}

func (g *MemoryIndex) Query(_ context.Context, at models.Coord, radiusKm float64) ([]Nearby, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Nearby, 0)
	for id, c := range g.washers {
		d := Haversine(at.Lat, at.Lon, c.Lat, c.Lon) / 1000
		if d <= radiusKm {
			out = append(out, Nearby{WasherID: id, DistanceKm: d, Coord: c})
		}
	}
	sortNearby(out)
	return out, nil
}

// sortNearby orders by distance, then id so equal distances stay stable.
func sortNearby(n []Nearby) {
	sort.Slice(n, func(i, j int) bool {
		if n[i].DistanceKm != n[j].DistanceKm {
			return n[i].DistanceKm < n[j].DistanceKm
		}
		return n[i].WasherID < n[j].WasherID
	})
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
