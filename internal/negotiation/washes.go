package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/matcher"
	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/observability"
	"github.com/example/wash-hup/internal/storage"
)

type CreateWashRequest struct {
	WashType  models.WashType `json:"wash_type"`
	HasWater  bool            `json:"has_water"`
	HasBucket bool            `json:"has_bucket"`
	Label     string          `json:"label"`
	Coord     models.Coord    `json:"coord"`
	Car       *models.Car     `json:"car,omitempty"`
}

func (r CreateWashRequest) validate() error {
	if !r.WashType.Valid() {
		return apperr.Validation("wash_type must be quick, smart or premium")
	}
	if !r.Coord.Valid() || (r.Coord.Lat == 0 && r.Coord.Lon == 0) {
		return apperr.Validation("location coordinates are required")
	}
	return nil
}

// CreateWash books a new wash at the given location.
func (s *Service) CreateWash(ctx context.Context, clientID string, req CreateWashRequest) (*models.Wash, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	loc := &models.Location{
		ID:        models.NewID(models.PrefixLocation),
		Label:     strings.TrimSpace(req.Label),
		Coord:     req.Coord,
		CreatedAt: now,
	}
	w := &models.Wash{
		ID:         models.NewID(models.PrefixWash),
		ClientID:   clientID,
		LocationID: loc.ID,
		WashType:   req.WashType,
		HasWater:   req.HasWater,
		HasBucket:  req.HasBucket,
		CreatedAt:  now,
	}
	if req.Car != nil {
		if err := w.AddCar(*req.Car); err != nil {
			return nil, err
		}
	}

	err := s.tx(ctx, func(r storage.Repo) error {
		p, err := r.GetProfile(ctx, clientID)
		if err != nil {
			return err
		}
		if _, ok := p.(models.OwnerProfile); !ok {
			return apperr.Forbidden("only car owners can book washes")
		}
		if err := r.CreateLocation(ctx, loc); err != nil {
			return err
		}
		if err := r.CreateWash(ctx, w); err != nil {
			return err
		}
		return s.notify(ctx, r, clientID, washCreated(p.Base().Name), map[string]string{"wash_id": w.ID})
	})
	if err != nil {
		return nil, fmt.Errorf("create wash: %w", err)
	}
	observability.WashesCreated.Inc()
	s.logger.Info("wash created", "wash_id", w.ID, "client_id", clientID, "wash_type", w.WashType)
	return w, nil
}

// AddCar attaches the car description once.
func (s *Service) AddCar(ctx context.Context, clientID, washID string, car models.Car) (*models.Wash, error) {
	var out *models.Wash
	err := s.store.WithTx(ctx, func(r storage.Repo) error {
		w, err := ownedWash(ctx, r, clientID, washID, true)
		if err != nil {
			return err
		}
		if err := w.AddCar(car); err != nil {
			return err
		}
		out = w
		return r.UpdateWash(ctx, w)
	})
	if err != nil {
		return nil, fmt.Errorf("add car: %w", err)
	}
	return out, nil
}

// Discover lists available washers around the wash, best first.
func (s *Service) Discover(ctx context.Context, clientID, washID string) ([]models.ProfileSummary, error) {
	w, err := ownedWash(ctx, s.store, clientID, washID, false)
	if err != nil {
		return nil, err
	}
	loc, err := s.store.GetLocation(ctx, w.LocationID)
	if err != nil {
		return nil, err
	}
	near, err := s.geo.Query(ctx, loc.Coord, s.cfg.SearchRadiusKm)
	if err != nil {
		return nil, fmt.Errorf("discover washers: %w", err)
	}
	cands := make([]matcher.Candidate, 0, len(near))
	for _, n := range near {
		wp, err := s.store.GetWasher(ctx, n.WasherID)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cands = append(cands, matcher.Candidate{Washer: *wp, Position: n.Coord, DistanceKm: n.DistanceKm})
	}
	return s.ranker.Rank(ctx, loc.Coord, cands), nil
}

// WashDetail is visible to the owner and to the assigned washer.
func (s *Service) WashDetail(ctx context.Context, userID, washID string) (*models.WashDetail, error) {
	w, err := s.store.GetWash(ctx, washID)
	if err != nil {
		return nil, err
	}
	if !w.OwnedBy(userID) && !w.AssignedTo(userID) {
		return nil, apperr.NotFound("wash")
	}
	d := &models.WashDetail{Wash: w, Progress: w.Progress()}
	if d.Location, err = s.store.GetLocation(ctx, w.LocationID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if w.WasherID != "" {
		if wp, err := s.store.GetWasher(ctx, w.WasherID); err == nil {
			sum := wp.Summary(0)
			d.Washer = &sum
		}
	}
	if _, err := s.store.GetReviewByWash(ctx, w.ID); err == nil {
		d.Reviewed = true
	}
	return d, nil
}

// ListWashes returns the caller's washes, optionally by progress label.
func (s *Service) ListWashes(ctx context.Context, userID string, role models.Role, progress string, page models.Page) ([]models.Wash, error) {
	f := models.WashFilter{Progress: progress, Page: page.Normalize()}
	switch role {
	case models.RoleOwner:
		f.ClientID = userID
	case models.RoleWasher:
		f.WasherID = userID
	case models.RoleAdmin:
	default:
		return nil, apperr.Forbidden("unknown role")
	}
	switch progress {
	case "", models.ProgressUpcoming, models.ProgressPending, models.ProgressOngoing, models.ProgressCompleted:
	default:
		return nil, apperr.Validation("unknown progress filter")
	}
	return s.store.ListWashes(ctx, f)
}

// SetAddress stores the washer's base address.
func (s *Service) SetAddress(ctx context.Context, washerID string, addr models.Address) (*models.WasherProfile, error) {
	if !addr.Coord.Valid() || (addr.Coord.Lat == 0 && addr.Coord.Lon == 0) {
		return nil, apperr.Validation("address coordinates are required")
	}
	var out *models.WasherProfile
	err := s.store.WithTx(ctx, func(r storage.Repo) error {
		wp, err := r.GetWasher(ctx, washerID)
		if err != nil {
			return err
		}
		wp.Address = &addr
		out = wp
		return r.SaveProfile(ctx, *wp)
	})
	if err != nil {
		return nil, err
	}
	if out.Available {
		if err := s.geo.SetAvailable(ctx, washerID, addr.Coord); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SetAvailability adds the washer to, or removes them from, the proximity
// index. Going available needs an address on file.
func (s *Service) SetAvailability(ctx context.Context, washerID string, available bool) error {
	wp, err := s.store.GetWasher(ctx, washerID)
	if err != nil {
		return err
	}
	if available && wp.Address == nil {
		return apperr.NotFound("address")
	}
	// the profile flag is written first; a failed index update puts it back
	if err := s.store.SetWasherAvailability(ctx, washerID, available); err != nil {
		return err
	}
	if available {
		err = s.geo.SetAvailable(ctx, washerID, wp.Address.Coord)
	} else {
		err = s.geo.SetUnavailable(ctx, washerID)
	}
	if err != nil {
		if rerr := s.store.SetWasherAvailability(ctx, washerID, wp.Available); rerr != nil {
			s.logger.Error("availability revert failed", "washer_id", washerID, "error", rerr)
		}
		return err
	}
	switch {
	case available && !wp.Available:
		observability.WashersOnline.Inc()
	case !available && wp.Available:
		observability.WashersOnline.Dec()
	}
	s.logger.Info("washer availability", "washer_id", washerID, "available", available)
	return nil
}
