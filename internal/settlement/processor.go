// Package settlement turns confirmed gateway charges into ledger entries
// exactly once.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/cache"
	"github.com/example/wash-hup/internal/deadletter"
	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/observability"
	"github.com/example/wash-hup/internal/outbox"
	"github.com/example/wash-hup/internal/payments"
	"github.com/example/wash-hup/internal/storage"
)

// Waker is poked after notifications are committed.
type Waker interface {
	Wake()
}

type Processor struct {
	store     storage.Store
	kv        cache.KV
	gateways  map[string]payments.Gateway
	dlq       deadletter.Publisher
	waker     Waker
	markerTTL time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewProcessor(store storage.Store, kv cache.KV, dlq deadletter.Publisher, waker Waker, markerTTL time.Duration, logger *slog.Logger, gateways ...payments.Gateway) *Processor {
	if markerTTL <= 0 {
		markerTTL = 30 * 24 * time.Hour
	}
	p := &Processor{
		store:     store,
		kv:        kv,
		gateways:  make(map[string]payments.Gateway, len(gateways)),
		dlq:       dlq,
		waker:     waker,
		markerTTL: markerTTL,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, g := range gateways {
		p.gateways[g.Name()] = g
	}
	return p
}

// HandleWebhook authenticates a delivery from provider and processes it.
// Only signature and payload errors are returned; reconciliation failures
// are dead-lettered so the gateway is not asked to resend.
func (p *Processor) HandleWebhook(ctx context.Context, provider string, body []byte, header http.Header) error {
	g, ok := p.gateways[provider]
	if !ok {
		return apperr.NotFound("payment provider")
	}
	ev, err := g.ParseWebhook(body, header)
	if err != nil {
		p.logger.Warn("webhook rejected", "provider", provider, "err", err)
		return err
	}
	if !ev.Succeeded() {
		p.logger.Info("webhook ignored", "provider", provider, "event", ev.Event)
		return nil
	}
	return p.Process(ctx, *ev)
}

// Process applies ev unless its reference was already seen.
func (p *Processor) Process(ctx context.Context, ev models.ChargeEvent) error {
	key := cache.ChargeMarkerKey(models.ChargeSuccess, ev.Reference)
	fresh, err := p.kv.SetNX(ctx, key, p.now().Format(time.RFC3339), p.markerTTL)
	if err != nil {
		// the ledger transaction is idempotent on its own
		p.logger.Warn("idempotency marker unavailable", "reference", ev.Reference, "err", err)
		fresh = true
	}
	if !fresh {
		observability.DuplicateWebhooks.Inc()
		p.logger.Info("duplicate webhook ignored", "reference", ev.Reference)
		return nil
	}

	err = p.Settle(ctx, ev)
	switch {
	case err == nil, errors.Is(err, apperr.ErrConflict):
		return nil
	}

	f := deadletter.Failure{Event: ev, Reason: err.Error(), Attempts: 1, FailedAt: p.now()}
	if derr := p.dlq.Publish(ctx, f); derr != nil {
		// let the gateway redeliver instead of losing the event
		if kerr := p.kv.Del(ctx, key); kerr != nil {
			p.logger.Error("release idempotency marker", "reference", ev.Reference, "err", kerr)
		}
		return apperr.Unavailable("settlement failed and could not be queued", errors.Join(err, derr))
	}
	observability.DeadLettered.Inc()
	p.logger.Error("settlement failed, dead-lettered", "reference", ev.Reference, "err", err)
	return nil
}

// Settle reconciles one confirmed charge in a single transaction: payment
// completed, washer credited with the net amount, platform fee recorded.
// A reference that is already settled yields Conflict. A gross that differs
// from the payment amount is still settled, since the money has moved, but
// is logged and counted for reconciliation.
func (p *Processor) Settle(ctx context.Context, ev models.ChargeEvent) error {
	if ev.Reference == "" {
		return apperr.Validation("charge event missing reference")
	}
	if ev.Net.IsNegative() || ev.Net.GreaterThan(ev.Gross) {
		return apperr.Validation("net amount outside 0..gross")
	}

	start := time.Now()
	var pay *models.Payment
	err := p.store.WithTx(ctx, func(r storage.Repo) error {
		var err error
		pay, err = r.LockPaymentByReference(ctx, ev.Reference)
		if err != nil {
			return err
		}
		if pay.Status == models.PaymentCompleted {
			return apperr.Conflict("payment already settled")
		}
		w, err := r.GetWash(ctx, pay.WashID)
		if err != nil {
			return err
		}
		if _, err := r.GetLocation(ctx, w.LocationID); err != nil {
			return err
		}
		if err := r.UpdatePaymentStatus(ctx, pay.ID, models.PaymentCompleted); err != nil {
			return err
		}

		now := p.now()
		tx := &models.Transaction{
			ID:        models.NewID(models.PrefixTransaction),
			PaymentID: pay.ID,
			WashID:    pay.WashID,
			WasherID:  pay.WasherID,
			Reference: pay.Reference,
			Amount:    ev.Net,
			CreatedAt: now,
		}
		if err := r.CreateTransaction(ctx, tx); err != nil {
			return err
		}
		if _, err := r.LockWallet(ctx, pay.WasherID); err != nil {
			return err
		}
		if err := r.CreditWallet(ctx, pay.WasherID, ev.Net); err != nil {
			return err
		}
		rem := &models.Remittance{
			ID:        models.NewID(models.PrefixRemittance),
			PaymentID: pay.ID,
			WashID:    pay.WashID,
			WasherID:  pay.WasherID,
			Reference: pay.Reference,
			Gross:     ev.Gross,
			Amount:    ev.PlatformFee(),
			CreatedAt: now,
		}
		if err := r.CreateRemittance(ctx, rem); err != nil {
			return err
		}

		amount := pay.Amount.StringFixed(2)
		if err := outbox.Enqueue(ctx, r, pay.WasherID, models.EventPaymentSettled, "Payment received",
			fmt.Sprintf("Payment of %s %s for wash %s has been credited to your wallet.", pay.Currency, ev.Net.StringFixed(2), pay.WashID), tx); err != nil {
			return err
		}
		return outbox.Enqueue(ctx, r, pay.ClientID, models.EventPaymentSettled, "Payment successful",
			fmt.Sprintf("Your payment of %s %s for wash %s was successful.", pay.Currency, amount, pay.WashID),
			map[string]string{"wash_id": pay.WashID, "reference": pay.Reference})
	})
	observability.SettlementLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.Settlements.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return fmt.Errorf("settle %s: %w", ev.Reference, err)
	}
	observability.Settlements.WithLabelValues("ok").Inc()
	if !ev.Gross.Equal(pay.Amount) {
		observability.AmountMismatches.Inc()
		p.logger.Warn("charge amount differs from payment", "reference", ev.Reference, "payment_id", pay.ID,
			"expected", pay.Amount.String(), "gross", ev.Gross.String())
	}
	if p.waker != nil {
		p.waker.Wake()
	}
	p.logger.Info("payment settled", "reference", ev.Reference, "wash_id", pay.WashID, "washer_id", pay.WasherID,
		"gross", ev.Gross.String(), "net", ev.Net.String())
	return nil
}
