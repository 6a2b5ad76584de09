package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/payments"
	"github.com/example/wash-hup/internal/storage"
)

type PayResult struct {
	PaymentID        string `json:"payment_id"`
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"payment_link"`
}

func payResult(p *models.Payment) *PayResult {
	return &PayResult{PaymentID: p.ID, Reference: p.Reference, AuthorizationURL: p.AuthorizationURL}
}

// openPayment returns the wash's pending payment, or Conflict once paid.
// Failed attempts are ignored so the client can try again.
func openPayment(ctx context.Context, r storage.Repo, washID string) (*models.Payment, error) {
	list, err := r.ListPaymentsByWash(ctx, washID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		switch list[i].Status {
		case models.PaymentCompleted:
			return nil, apperr.Conflict("wash already paid")
		case models.PaymentPending:
			return &list[i], nil
		}
	}
	return nil, nil
}

// Pay opens a gateway checkout for a completed wash. Calling it again while
// a payment is pending returns the same link.
func (s *Service) Pay(ctx context.Context, clientID, washID string) (*PayResult, error) {
	w, err := ownedWash(ctx, s.store, clientID, washID, false)
	if err != nil {
		return nil, err
	}
	if err := w.CanPay(); err != nil {
		return nil, err
	}
	open, err := openPayment(ctx, s.store, washID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return payResult(open), nil
	}

	client, err := s.store.GetProfile(ctx, clientID)
	if err != nil {
		return nil, err
	}
	wallet, err := s.store.GetWallet(ctx, w.WasherID)
	if err != nil {
		return nil, err
	}

	ref := models.NewID(models.PrefixReference)
	res, err := s.gateway.Initialize(ctx, payments.InitRequest{
		Reference:      ref,
		Email:          client.Base().Email,
		Amount:         w.Price.Decimal,
		Currency:       s.cfg.Currency,
		WashID:         w.ID,
		WasherID:       w.WasherID,
		SubaccountCode: wallet.SubaccountCode,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize payment: %w", err)
	}

	now := s.now()
	p := &models.Payment{
		ID:               models.NewID(models.PrefixPayment),
		WashID:           w.ID,
		ClientID:         clientID,
		WasherID:         w.WasherID,
		Reference:        res.Reference,
		Amount:           w.Price.Decimal,
		Currency:         s.cfg.Currency,
		Provider:         s.gateway.Name(),
		Status:           models.PaymentPending,
		AuthorizationURL: res.AuthorizationURL,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	var existing *models.Payment
	err = s.store.WithTx(ctx, func(r storage.Repo) error {
		if _, err := r.GetWashForUpdate(ctx, w.ID); err != nil {
			return err
		}
		open, err := openPayment(ctx, r, w.ID)
		if err != nil {
			return err
		}
		if open != nil {
			existing = open
			return nil
		}
		return r.CreatePayment(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	if existing != nil {
		return payResult(existing), nil
	}
	s.logger.Info("payment initialized", "wash_id", w.ID, "reference", p.Reference, "provider", p.Provider, "amount", p.Amount.String())
	return payResult(p), nil
}

type ReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// Review records the client's single rating of a completed wash and
// refreshes the washer's average.
func (s *Service) Review(ctx context.Context, clientID, washID string, req ReviewRequest) (*models.Review, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, apperr.Validation("rating must be between 1 and 5")
	}
	comment := strings.TrimSpace(req.Comment)
	if len(comment) > 500 {
		return nil, apperr.Validation("comment must be at most 500 characters")
	}

	var rv *models.Review
	err := s.tx(ctx, func(r storage.Repo) error {
		w, err := ownedWash(ctx, r, clientID, washID, true)
		if err != nil {
			return err
		}
		if err := w.CanReview(); err != nil {
			return err
		}
		if _, err := r.GetReviewByWash(ctx, w.ID); err == nil {
			return apperr.Conflict("wash already reviewed")
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		rv = &models.Review{
			ID:        models.NewID(models.PrefixReview),
			WashID:    w.ID,
			ClientID:  clientID,
			WasherID:  w.WasherID,
			Rating:    req.Rating,
			Comment:   comment,
			CreatedAt: s.now(),
		}
		if err := r.CreateReview(ctx, rv); err != nil {
			return err
		}
		avg, _, err := r.ReviewStats(ctx, w.WasherID)
		if err != nil {
			return err
		}
		wp, err := r.GetWasher(ctx, w.WasherID)
		if err != nil {
			return err
		}
		if err := r.UpdateWasherStats(ctx, w.WasherID, avg, wp.TotalWashes); err != nil {
			return err
		}
		return s.notify(ctx, r, w.WasherID, reviewCreated(wp.Name, req.Rating), rv)
	})
	if err != nil {
		return nil, fmt.Errorf("review wash: %w", err)
	}
	s.logger.Info("review created", "wash_id", washID, "rating", req.Rating)
	return rv, nil
}

// RequestReview nudges the client of a completed, unreviewed wash.
func (s *Service) RequestReview(ctx context.Context, washerID, washID string) error {
	w, err := assignedWash(ctx, s.store, washerID, washID, false)
	if err != nil {
		return err
	}
	if err := w.CanReview(); err != nil {
		return err
	}
	if _, err := s.store.GetReviewByWash(ctx, w.ID); err == nil {
		return apperr.Conflict("wash already reviewed")
	}
	return s.tx(ctx, func(r storage.Repo) error {
		n := reviewRequested(displayName(ctx, r, w.ClientID), displayName(ctx, r, washerID))
		return s.notify(ctx, r, w.ClientID, n, map[string]string{"wash_id": w.ID})
	})
}

// SetupWallet opens the washer's wallet bound to a gateway subaccount.
func (s *Service) SetupWallet(ctx context.Context, washerID, subaccountCode string) (*models.Wallet, error) {
	if _, err := s.store.GetWasher(ctx, washerID); err != nil {
		return nil, err
	}
	w := &models.Wallet{
		WasherID:       washerID,
		Balance:        decimal.Zero,
		SubaccountCode: strings.TrimSpace(subaccountCode),
		UpdatedAt:      s.now(),
	}
	if err := s.store.CreateWallet(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Earnings is the wallet plus one page of credited transactions.
func (s *Service) Earnings(ctx context.Context, washerID string, page models.Page) (*models.Earnings, error) {
	w, err := s.store.GetWallet(ctx, washerID)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, washerID, page.Normalize())
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, t := range txs {
		total = total.Add(t.Amount)
	}
	return &models.Earnings{Wallet: *w, Total: total, Transactions: txs}, nil
}

func (s *Service) Remittances(ctx context.Context, washerID string, page models.Page) ([]models.Remittance, error) {
	return s.store.ListRemittances(ctx, washerID, page.Normalize())
}

func (s *Service) Notifications(ctx context.Context, userID string, page models.Page) ([]models.Notification, error) {
	return s.store.ListNotifications(ctx, userID, page.Normalize())
}
