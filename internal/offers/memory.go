package offers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/models"
)

type bucket struct {
	offers  map[string]models.Offer
	expires time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	buckets map[string]*bucket
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, buckets: make(map[string]*bucket)}
}

// WithClock swaps the time source, for tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

// live returns the washer's bucket, dropping it if expired. Caller holds mu.
func (m *MemoryStore) live(washerID string) *bucket {
	b, ok := m.buckets[washerID]
	if !ok {
		return nil
	}
	if !m.now().Before(b.expires) {
		delete(m.buckets, washerID)
		return nil
	}
	return b
}

func (m *MemoryStore) Put(_ context.Context, o models.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.live(o.WasherID)
	if b == nil {
		b = &bucket{offers: make(map[string]models.Offer)}
		m.buckets[o.WasherID] = b
	}
	b.offers[o.WashID] = o
	b.expires = m.now().Add(m.ttl)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, washerID, washID string) (*models.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b := m.live(washerID); b != nil {
		if o, ok := b.offers[washID]; ok {
			return &o, nil
		}
	}
	return nil, apperr.NotFound("offer")
}

func (m *MemoryStore) GetAll(_ context.Context, washerID string) ([]models.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Offer, 0)
	if b := m.live(washerID); b != nil {
		for _, o := range b.offers {
			out = append(out, o)
		}
	}
	sortOffers(out)
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, washerID, washID string, fn func(*models.Offer) error) (*models.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.live(washerID)
	if b == nil {
		return nil, apperr.NotFound("offer")
	}
	o, ok := b.offers[washID]
	if !ok {
		return nil, apperr.NotFound("offer")
	}
	if err := fn(&o); err != nil {
		return nil, err
	}
	o.UpdatedAt = m.now().UTC()
	b.offers[washID] = o
	b.expires = m.now().Add(m.ttl)
	return &o, nil
}

func (m *MemoryStore) Remove(_ context.Context, washerID, washID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.live(washerID)
	if b == nil {
		return false, nil
	}
	if _, ok := b.offers[washID]; !ok {
		return false, nil
	}
	delete(b.offers, washID)
	if len(b.offers) == 0 {
		delete(m.buckets, washerID)
	}
	return true, nil
}

func sortOffers(o []models.Offer) {
	sort.Slice(o, func(i, j int) bool {
		if !o[i].UpdatedAt.Equal(o[j].UpdatedAt) {
			return o[i].UpdatedAt.After(o[j].UpdatedAt)
		}
		return o[i].WashID < o[j].WashID
	})
}
