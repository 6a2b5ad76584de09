// Package negotiation drives a wash from booking through offer, price
// agreement, on-site verification, completion, payment and review.
package negotiation

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/cache"
	"github.com/example/wash-hup/internal/geo"
	"github.com/example/wash-hup/internal/matcher"
	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/offers"
	"github.com/example/wash-hup/internal/outbox"
	"github.com/example/wash-hup/internal/payments"
	"github.com/example/wash-hup/internal/storage"
)

type Config struct {
	SearchRadiusKm float64
	CodeTTL        time.Duration
	PriceCacheTTL  time.Duration
	Currency       string
}

func (c Config) withDefaults() Config {
	if c.SearchRadiusKm <= 0 {
		c.SearchRadiusKm = 5
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = 10 * time.Minute
	}
	if c.PriceCacheTTL <= 0 {
		c.PriceCacheTTL = time.Hour
	}
	if c.Currency == "" {
		c.Currency = "NGN"
	}
	return c
}

// Waker is poked after notifications are committed.
type Waker interface {
	Wake()
}

type Service struct {
	store   storage.Store
	offers  offers.Store
	geo     geo.Index
	kv      cache.KV
	gateway payments.Gateway
	ranker  *matcher.Ranker
	waker   Waker
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

type Deps struct {
	Store   storage.Store
	Offers  offers.Store
	Geo     geo.Index
	KV      cache.KV
	Gateway payments.Gateway
	Ranker  *matcher.Ranker
	Waker   Waker
}

func NewService(d Deps, cfg Config, logger *slog.Logger) *Service {
	r := d.Ranker
	if r == nil {
		r = &matcher.Ranker{RatingWeight: 30}
	}
	return &Service{
		store:   d.Store,
		offers:  d.Offers,
		geo:     d.Geo,
		kv:      d.KV,
		gateway: d.Gateway,
		ranker:  r,
		waker:   d.Waker,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// tx runs fn in a transaction and wakes the outbox once it commits.
func (s *Service) tx(ctx context.Context, fn func(storage.Repo) error) error {
	if err := s.store.WithTx(ctx, fn); err != nil {
		return err
	}
	s.wake()
	return nil
}

func (s *Service) wake() {
	if s.waker != nil {
		s.waker.Wake()
	}
}

// ownedWash loads a wash the client owns. Anyone else sees NotFound.
func ownedWash(ctx context.Context, r storage.Repo, clientID, washID string, lock bool) (*models.Wash, error) {
	w, err := loadWash(ctx, r, washID, lock)
	if err != nil {
		return nil, err
	}
	if !w.OwnedBy(clientID) {
		return nil, apperr.NotFound("wash")
	}
	return w, nil
}

// assignedWash loads a wash accepted by the washer.
func assignedWash(ctx context.Context, r storage.Repo, washerID, washID string, lock bool) (*models.Wash, error) {
	w, err := loadWash(ctx, r, washID, lock)
	if err != nil {
		return nil, err
	}
	if !w.AssignedTo(washerID) {
		return nil, apperr.NotFound("wash")
	}
	return w, nil
}

func loadWash(ctx context.Context, r storage.Repo, washID string, lock bool) (*models.Wash, error) {
	if lock {
		return r.GetWashForUpdate(ctx, washID)
	}
	return r.GetWash(ctx, washID)
}

// displayName falls back to the id when the profile is missing.
func displayName(ctx context.Context, r storage.Repo, id string) string {
	p, err := r.GetProfile(ctx, id)
	if err != nil || p.Base().Name == "" {
		return id
	}
	return p.Base().Name
}

func (s *Service) notify(ctx context.Context, r storage.Repo, to string, n notice, payload any) error {
	return outbox.Enqueue(ctx, r, to, n.event, n.title, n.message, payload)
}
