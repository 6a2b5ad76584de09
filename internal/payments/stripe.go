package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/models"
)

const StripeSignatureHeader = "Stripe-Signature"

// StripeGateway opens Checkout sessions that transfer to the washer's
// connected account, keeping FeePercent as the application fee.
type StripeGateway struct {
	sessions      *session.Client
	webhookSecret string
	successURL    string
	cancelURL     string
	feePercent    decimal.Decimal
}

func NewStripeGateway(apiKey, webhookSecret, successURL, cancelURL string, feePercent decimal.Decimal) *StripeGateway {
	return &StripeGateway{
		sessions:      &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: apiKey},
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
		feePercent:    feePercent,
	}
}

func (s *StripeGateway) Name() string { return "stripe" }

func (s *StripeGateway) platformFee(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(s.feePercent).Div(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (s *StripeGateway) Initialize(ctx context.Context, req InitRequest) (*InitResult, error) {
	amount := toMinor(req.Amount)
	fee := s.platformFee(amount)

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(req.Reference),
		CustomerEmail:     stripe.String(req.Email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Car wash " + req.WashID),
				},
			},
		}},
	}
	if req.SubaccountCode != "" {
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(fee),
			TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripe.String(req.SubaccountCode),
			},
		}
	} else {
		fee = 0
	}
	params.Context = ctx
	params.AddMetadata("wash_id", req.WashID)
	params.AddMetadata("washer_id", req.WasherID)
	params.AddMetadata("platform_fee", strconv.FormatInt(fee, 10))

	cs, err := s.sessions.New(params)
	if err != nil {
		if serr, ok := err.(*stripe.Error); ok && serr.HTTPStatusCode < 500 {
			return nil, apperr.Validation(serr.Msg)
		}
		return nil, apperr.Unavailable("payment gateway error", err)
	}
	return &InitResult{AuthorizationURL: cs.URL, Reference: req.Reference}, nil
}

// ParseWebhook verifies the Stripe-Signature header and maps a completed
// Checkout session to a settled charge.
func (s *StripeGateway) ParseWebhook(body []byte, header http.Header) (*models.ChargeEvent, error) {
	if header.Get(StripeSignatureHeader) == "" {
		return nil, apperr.Authentication("missing signature")
	}
	ev, err := webhook.ConstructEventWithOptions(body, header.Get(StripeSignatureHeader), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, apperr.Authentication("invalid signature")
	}
	out := &models.ChargeEvent{Provider: s.Name(), Event: string(ev.Type)}
	if ev.Type != "checkout.session.completed" {
		return out, nil
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
		return nil, apperr.Validation("invalid checkout session")
	}
	if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return out, nil
	}
	fee, _ := strconv.ParseInt(cs.Metadata["platform_fee"], 10, 64)

	out.Event = models.ChargeSuccess
	out.Reference = cs.ClientReferenceID
	out.Gross = fromMinor(cs.AmountTotal)
	out.Net = fromMinor(cs.AmountTotal - fee)
	if out.Reference == "" {
		return nil, apperr.Validation("charge event missing reference")
	}
	return out, nil
}
