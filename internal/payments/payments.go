// Package payments talks to the payment gateway: it opens checkout links for
// completed washes and turns signed webhook deliveries into charge events.
package payments

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/example/wash-hup/internal/models"
)

type InitRequest struct {
	Reference      string
	Email          string
	Amount         decimal.Decimal
	Currency       string
	WashID         string
	WasherID       string
	SubaccountCode string
}

type InitResult struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
}

// Gateway is one payment provider.
type Gateway interface {
	Name() string
	Initialize(ctx context.Context, req InitRequest) (*InitResult, error)
	// ParseWebhook authenticates a raw delivery and normalises it. Events
	// other than a settled charge come back with Succeeded() == false.
	ParseWebhook(body []byte, header http.Header) (*models.ChargeEvent, error)
}

// Gateway amounts travel in minor units (kobo, cents).
func toMinor(d decimal.Decimal) int64 { return d.Shift(2).Round(0).IntPart() }

func fromMinor(v int64) decimal.Decimal { return decimal.New(v, -2) }
