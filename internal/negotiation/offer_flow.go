package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/cache"
	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/observability"
	"github.com/example/wash-hup/internal/storage"
)

// SendOffer puts the wash in front of one washer.
func (s *Service) SendOffer(ctx context.Context, clientID, washID, washerID string) (*models.Offer, error) {
	w, err := ownedWash(ctx, s.store, clientID, washID, false)
	if err != nil {
		return nil, err
	}
	if w.Accepted {
		return nil, apperr.Conflict("wash already accepted")
	}
	if _, err := s.store.GetWasher(ctx, washerID); err != nil {
		return nil, err
	}
	loc, err := s.store.GetLocation(ctx, w.LocationID)
	if err != nil {
		return nil, err
	}

	o := models.Offer{
		WashID:    w.ID,
		ClientID:  clientID,
		WasherID:  washerID,
		WashType:  w.WashType,
		HasWater:  w.HasWater,
		HasBucket: w.HasBucket,
		Location:  loc.Label,
		Coord:     loc.Coord,
		Car:       w.Car,
		UpdatedAt: s.now(),
	}
	if err := s.offers.Put(ctx, o); err != nil {
		return nil, fmt.Errorf("store offer: %w", err)
	}

	err = s.tx(ctx, func(r storage.Repo) error {
		n := offerSent(displayName(ctx, r, washerID), displayName(ctx, r, clientID))
		return s.notify(ctx, r, washerID, n, o)
	})
	if err != nil {
		return nil, err
	}
	observability.OffersSent.Inc()
	s.logger.Info("offer sent", "wash_id", washID, "washer_id", washerID)
	return &o, nil
}

// UpcomingOffers lists every live offer addressed to the washer.
func (s *Service) UpcomingOffers(ctx context.Context, washerID string) ([]models.Offer, error) {
	return s.offers.GetAll(ctx, washerID)
}

// ServicePrices returns the current price bands, cached.
func (s *Service) ServicePrices(ctx context.Context) ([]models.PriceBand, error) {
	return cache.PriceBands(ctx, s.kv, s.cfg.PriceCacheTTL, s.store.LatestPriceBands)
}

// SetPriceBand records a new band for one wash type and drops the cache.
func (s *Service) SetPriceBand(ctx context.Context, b models.PriceBand) error {
	if !b.WashType.Valid() {
		return apperr.Validation("wash_type must be quick, smart or premium")
	}
	if !b.Min.IsPositive() || b.Max.LessThan(b.Min) {
		return apperr.Validation("price band must satisfy 0 < min <= max")
	}
	b.CreatedAt = s.now()
	if err := s.store.CreatePriceBand(ctx, &b); err != nil {
		return err
	}
	return cache.InvalidatePriceBands(ctx, s.kv)
}

func (s *Service) checkPrice(ctx context.Context, t models.WashType, p decimal.Decimal) error {
	bands, err := s.ServicePrices(ctx)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return models.CheckPrice(bands, t, p)
}

// ProposePrice sets the washer's price on their offer. A fresh proposal
// clears any earlier client acceptance.
func (s *Service) ProposePrice(ctx context.Context, washerID, washID string, price decimal.Decimal) (*models.Offer, error) {
	cur, err := s.offers.Get(ctx, washerID, washID)
	if err != nil {
		return nil, err
	}
	if err := s.checkPrice(ctx, cur.WashType, price); err != nil {
		return nil, err
	}
	o, err := s.offers.Update(ctx, washerID, washID, func(o *models.Offer) error {
		o.UpdatedAt = s.now()
		return o.ProposePrice(price)
	})
	if err != nil {
		return nil, err
	}

	err = s.tx(ctx, func(r storage.Repo) error {
		n := priceProposed(displayName(ctx, r, o.ClientID), displayName(ctx, r, washerID), price)
		return s.notify(ctx, r, o.ClientID, n, o)
	})
	if err != nil {
		return nil, err
	}
	observability.PriceProposals.Inc()
	s.logger.Info("price proposed", "wash_id", washID, "washer_id", washerID, "price", price.String())
	return o, nil
}

// AcceptPrice is the client agreeing to the price they were shown. If the
// washer has proposed a different price since, the acceptance is refused.
func (s *Service) AcceptPrice(ctx context.Context, clientID, washerID, washID string, price decimal.Decimal) (*models.Offer, error) {
	o, err := s.offers.Update(ctx, washerID, washID, func(o *models.Offer) error {
		if o.ClientID != clientID {
			return apperr.NotFound("offer")
		}
		o.UpdatedAt = s.now()
		return o.AcceptPrice(price)
	})
	if err != nil {
		return nil, err
	}

	err = s.tx(ctx, func(r storage.Repo) error {
		n := priceAccepted(displayName(ctx, r, washerID), displayName(ctx, r, clientID))
		return s.notify(ctx, r, washerID, n, o)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("price accepted", "wash_id", washID, "washer_id", washerID, "price", price.String())
	return o, nil
}

// AcceptOffer binds the washer and the agreed price to the wash. The offer
// is claimed first so only one caller can act on it; the locked wash row
// then decides between washers holding separate offers for the same wash.
func (s *Service) AcceptOffer(ctx context.Context, washerID, washID string) (*models.Wash, error) {
	o, err := s.offers.Get(ctx, washerID, washID)
	if err != nil {
		return nil, err
	}
	if err := o.ReadyForWasher(); err != nil {
		return nil, err
	}
	claimed, err := s.offers.Remove(ctx, washerID, washID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, apperr.Conflict("offer already claimed")
	}

	var out *models.Wash
	err = s.tx(ctx, func(r storage.Repo) error {
		w, err := loadWash(ctx, r, washID, true)
		if err != nil {
			return err
		}
		if err := w.Accept(washerID, *o.Price); err != nil {
			return err
		}
		if err := r.UpdateWash(ctx, w); err != nil {
			return err
		}
		out = w
		client, washer := displayName(ctx, r, w.ClientID), displayName(ctx, r, washerID)
		payload := map[string]string{"wash_id": w.ID, "washer_id": washerID, "price": w.Price.Decimal.String()}
		if err := s.notify(ctx, r, w.ClientID, offerAcceptedClient(client, washer), payload); err != nil {
			return err
		}
		return s.notify(ctx, r, washerID, offerAcceptedWasher(washer), payload)
	})
	if err != nil {
		if !errors.Is(err, apperr.ErrConflict) {
			if perr := s.offers.Put(ctx, *o); perr != nil {
				s.logger.Error("restore offer failed", "wash_id", washID, "washer_id", washerID, "err", perr)
			}
		}
		return nil, fmt.Errorf("accept offer: %w", err)
	}
	observability.OffersAccepted.Inc()
	s.logger.Info("offer accepted", "wash_id", washID, "washer_id", washerID, "price", out.Price.Decimal.String())
	return out, nil
}
