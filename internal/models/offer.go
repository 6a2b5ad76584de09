package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/wash-hup/internal/apperr"
)

// Offer is the in-flight negotiation between one client and one washer for a
// wash. It only lives in the offer store.
type Offer struct {
	WashID    string           `json:"wash_id"`
	ClientID  string           `json:"client_id"`
	WasherID  string           `json:"washer_id"`
	WashType  WashType         `json:"wash_type"`
	HasWater  bool             `json:"has_water"`
	HasBucket bool             `json:"has_bucket"`
	Location  string           `json:"location"`
	Coord     Coord            `json:"coord"`
	Car       *Car             `json:"car,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Accepted  bool             `json:"accepted"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ProposePrice sets a new price. Any earlier client acceptance no longer
// applies to the new amount.
func (o *Offer) ProposePrice(p decimal.Decimal) error {
	if !p.IsPositive() {
		return apperr.Validation("price must be positive")
	}
	o.Price = &p
	o.Accepted = false
	return nil
}

// AcceptPrice records the client's acceptance of expected. It fails with a
// conflict when the washer has repriced since the client last looked.
func (o *Offer) AcceptPrice(expected decimal.Decimal) error {
	if o.Price == nil {
		return apperr.InvalidState("price not found")
	}
	if !o.Price.Equal(expected) {
		return apperr.Conflict("price changed").WithDetails("current price is " + o.Price.String())
	}
	o.Accepted = true
	return nil
}

func (o *Offer) ReadyForWasher() error {
	if !o.Accepted || o.Price == nil {
		return apperr.InvalidState("price not accepted")
	}
	return nil
}

// PriceBand is the allowed price range for one wash type.
type PriceBand struct {
	WashType  WashType        `json:"wash_type"`
	Min       decimal.Decimal `json:"min"`
	Max       decimal.Decimal `json:"max"`
	CreatedAt time.Time       `json:"created_at"`
}

func (b PriceBand) Contains(p decimal.Decimal) bool {
	return p.GreaterThanOrEqual(b.Min) && p.LessThanOrEqual(b.Max)
}

// CheckPrice validates p against the band for t. Missing bands allow any price.
func CheckPrice(bands []PriceBand, t WashType, p decimal.Decimal) error {
	for _, b := range bands {
		if b.WashType != t {
			continue
		}
		if !b.Contains(p) {
			return apperr.Validation("price outside " + string(t) + " range").
				WithDetails(b.Min.String() + " - " + b.Max.String())
		}
		return nil
	}
	return nil
}
