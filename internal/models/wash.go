package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/wash-hup/internal/apperr"
)

type WashType string

const (
	WashQuick   WashType = "quick"
	WashSmart   WashType = "smart"
	WashPremium WashType = "premium"
)

func (t WashType) Valid() bool {
	switch t {
	case WashQuick, WashSmart, WashPremium:
		return true
	}
	return false
}

type Car struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Location struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Coord     Coord     `json:"coord"`
	CreatedAt time.Time `json:"created_at"`
}

// Progress labels shown to both sides of a wash.
const (
	ProgressUpcoming  = "upcoming"
	ProgressPending   = "pending"
	ProgressOngoing   = "ongoing"
	ProgressCompleted = "completed"
)

// Wash is the aggregate root of a negotiation. Flags only ever move forward:
// completed implies started, started implies verified, verified implies
// accepted, and accepted implies a washer is set.
type Wash struct {
	ID            string              `json:"id"`
	ClientID      string              `json:"client_id"`
	WasherID      string              `json:"washer_id,omitempty"`
	LocationID    string              `json:"location_id"`
	WashType      WashType            `json:"wash_type"`
	HasWater      bool                `json:"has_water"`
	HasBucket     bool                `json:"has_bucket"`
	Car           *Car                `json:"car,omitempty"`
	Price         decimal.NullDecimal `json:"price"`
	Accepted      bool                `json:"accepted"`
	IsVerified    bool                `json:"is_verified"`
	Started       bool                `json:"started"`
	Completed     bool                `json:"completed"`
	TimeStarted   *time.Time          `json:"time_started,omitempty"`
	TimeCompleted *time.Time          `json:"time_completed,omitempty"`
	ImageURL      string              `json:"image_url,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func (w *Wash) OwnedBy(clientID string) bool { return w.ClientID == clientID }

func (w *Wash) AssignedTo(washerID string) bool {
	return w.WasherID != "" && w.WasherID == washerID
}

func (w *Wash) AddCar(c Car) error {
	if w.Car != nil {
		return apperr.Conflict("car details already added")
	}
	if c.Type == "" || c.Name == "" {
		return apperr.Validation("car type and name are required")
	}
	w.Car = &c
	return nil
}

// Accept binds the washer and the negotiated price.
func (w *Wash) Accept(washerID string, price decimal.Decimal) error {
	if w.Completed {
		return apperr.Conflict("wash already completed")
	}
	if w.Accepted {
		return apperr.Conflict("wash already accepted")
	}
	if washerID == "" {
		return apperr.Validation("washer is required")
	}
	if !price.IsPositive() {
		return apperr.InvalidState("price not found")
	}
	w.WasherID = washerID
	w.Price = decimal.NewNullDecimal(price)
	w.Accepted = true
	return nil
}

func (w *Wash) Verify(now time.Time) error {
	if w.IsVerified {
		return apperr.Conflict("wash already verified")
	}
	if !w.Accepted {
		return apperr.InvalidState("wash not accepted")
	}
	w.IsVerified = true
	w.Started = true
	w.TimeStarted = &now
	return nil
}

func (w *Wash) Complete(now time.Time, imageURL string) error {
	if w.Completed {
		return apperr.Conflict("wash already completed")
	}
	if !w.Started {
		return apperr.InvalidState("wash not started")
	}
	w.Completed = true
	w.TimeCompleted = &now
	w.ImageURL = imageURL
	return nil
}

func (w *Wash) CanPay() error {
	if !w.Completed {
		return apperr.InvalidState("wash not completed")
	}
	if !w.Price.Valid {
		return apperr.InvalidState("price not found")
	}
	return nil
}

func (w *Wash) CanReview() error {
	if !w.Completed {
		return apperr.InvalidState("wash not completed")
	}
	return nil
}

func (w *Wash) Progress() string {
	switch {
	case w.Completed:
		return ProgressCompleted
	case w.Started:
		return ProgressOngoing
	case w.Accepted:
		return ProgressPending
	default:
		return ProgressUpcoming
	}
}

// CheckFlags reports a violation of the flag ordering.
func (w *Wash) CheckFlags() error {
	switch {
	case w.Completed && !w.Started:
		return apperr.InvalidState("completed wash was never started")
	case w.Started && !w.IsVerified:
		return apperr.InvalidState("started wash was never verified")
	case w.IsVerified && !w.Accepted:
		return apperr.InvalidState("verified wash was never accepted")
	case w.Accepted && w.WasherID == "":
		return apperr.InvalidState("accepted wash has no washer")
	}
	return nil
}

// WashFilter selects washes for list endpoints. Empty fields match anything.
type WashFilter struct {
	ClientID string
	WasherID string
	Progress string
	Page     Page
}

func (f WashFilter) Match(w *Wash) bool {
	if f.ClientID != "" && w.ClientID != f.ClientID {
		return false
	}
	if f.WasherID != "" && w.WasherID != f.WasherID {
		return false
	}
	if f.Progress != "" && w.Progress() != f.Progress {
		return false
	}
	return true
}

// WashDetail is the read model returned to either participant.
type WashDetail struct {
	Wash     *Wash           `json:"wash"`
	Location *Location       `json:"location,omitempty"`
	Washer   *ProfileSummary `json:"washer,omitempty"`
	Progress string          `json:"progress"`
	Reviewed bool            `json:"reviewed"`
}
