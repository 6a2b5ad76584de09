package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type Payment struct {
	ID               string          `json:"id"`
	WashID           string          `json:"wash_id"`
	ClientID         string          `json:"client_id"`
	WasherID         string          `json:"washer_id"`
	Reference        string          `json:"reference"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Provider         string          `json:"provider"`
	Status           PaymentStatus   `json:"status"`
	AuthorizationURL string          `json:"authorization_url,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Transaction credits a washer with the settled amount of one payment.
type Transaction struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	WashID    string          `json:"wash_id"`
	WasherID  string          `json:"washer_id"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Remittance is the platform share retained from one payment.
type Remittance struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	WashID    string          `json:"wash_id"`
	WasherID  string          `json:"washer_id"`
	Reference string          `json:"reference"`
	Gross     decimal.Decimal `json:"gross"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

type Wallet struct {
	WasherID       string          `json:"washer_id"`
	Balance        decimal.Decimal `json:"balance"`
	SubaccountCode string          `json:"subaccount_code,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ChargeEvent is a gateway confirmation normalised to major currency units.
type ChargeEvent struct {
	Provider  string          `json:"provider"`
	Event     string          `json:"event"`
	Reference string          `json:"reference"`
	Gross     decimal.Decimal `json:"gross"`
	Net       decimal.Decimal `json:"net"`
}

// PlatformFee is what the platform keeps from the charge.
func (e ChargeEvent) PlatformFee() decimal.Decimal {
	return e.Gross.Sub(e.Net)
}

// Earnings summarises a washer's ledger.
type Earnings struct {
	Wallet       Wallet          `json:"wallet"`
	// Total sums Transactions.
	Total        decimal.Decimal `json:"total"`
	Transactions []Transaction   `json:"transactions"`
}

// ChargeSuccess is the normalised event name of a settled charge.
const ChargeSuccess = "charge.success"

func (e ChargeEvent) Succeeded() bool { return e.Event == ChargeSuccess }
