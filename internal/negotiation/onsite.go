package negotiation

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/cache"
	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/observability"
	"github.com/example/wash-hup/internal/storage"
)

const (
	codeLength   = 12
	codeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	qrSize       = 256
)

// VerificationCode is shown by the washer on site, as text and as a QR PNG.
type VerificationCode struct {
	Code      string    `json:"code"`
	QRCode    []byte    `json:"qr_png"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newCode() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// GenerateCode issues a fresh code for the assigned washer, replacing any
// earlier one.
func (s *Service) GenerateCode(ctx context.Context, washerID, washID string) (*VerificationCode, error) {
	w, err := assignedWash(ctx, s.store, washerID, washID, false)
	if err != nil {
		return nil, err
	}
	if w.IsVerified {
		return nil, apperr.Conflict("wash already verified")
	}
	code, err := newCode()
	if err != nil {
		return nil, apperr.Internal("generate code", err)
	}
	png, err := qrcode.Encode(code, qrcode.Medium, qrSize)
	if err != nil {
		return nil, apperr.Internal("render qr code", err)
	}
	if err := s.kv.Set(ctx, cache.CodeKey(washerID, washID), code, s.cfg.CodeTTL); err != nil {
		return nil, apperr.Unavailable("store code", err)
	}
	s.logger.Info("verification code issued", "wash_id", washID, "washer_id", washerID)
	return &VerificationCode{Code: code, QRCode: png, ExpiresAt: s.now().Add(s.cfg.CodeTTL)}, nil
}

// VerifyOnSite starts the wash when the client submits the washer's code.
// A wrong or expired code changes nothing and may be retried.
func (s *Service) VerifyOnSite(ctx context.Context, clientID, washID, code string) (*models.Wash, error) {
	var (
		out *models.Wash
		key string
	)
	err := s.tx(ctx, func(r storage.Repo) error {
		w, err := ownedWash(ctx, r, clientID, washID, true)
		if err != nil {
			return err
		}
		if w.IsVerified {
			return apperr.Conflict("wash already verified")
		}
		if !w.Accepted {
			return apperr.InvalidState("wash not accepted")
		}
		key = cache.CodeKey(w.WasherID, w.ID)
		stored, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return apperr.Unavailable("load code", err)
		}
		if !ok || subtle.ConstantTimeCompare([]byte(stored), []byte(strings.TrimSpace(code))) != 1 {
			return apperr.InvalidState("invalid code")
		}
		if err := w.Verify(s.now()); err != nil {
			return err
		}
		if err := r.UpdateWash(ctx, w); err != nil {
			return err
		}
		out = w
		return s.notify(ctx, r, w.WasherID, washVerified(displayName(ctx, r, w.WasherID)), map[string]string{"wash_id": w.ID})
	})
	if err != nil {
		observability.Verifications.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return nil, fmt.Errorf("verify wash: %w", err)
	}
	observability.Verifications.WithLabelValues("ok").Inc()
	if err := s.kv.Del(ctx, key); err != nil {
		s.logger.Warn("drop used code", "wash_id", washID, "err", err)
	}
	s.logger.Info("wash verified", "wash_id", washID)
	return out, nil
}

// EndWash marks the wash done with a proof image and counts it for the washer.
func (s *Service) EndWash(ctx context.Context, washerID, washID, imageURL string) (*models.Wash, error) {
	var out *models.Wash
	err := s.tx(ctx, func(r storage.Repo) error {
		w, err := assignedWash(ctx, r, washerID, washID, true)
		if err != nil {
			return err
		}
		if err := w.Complete(s.now(), strings.TrimSpace(imageURL)); err != nil {
			return err
		}
		if err := r.UpdateWash(ctx, w); err != nil {
			return err
		}
		wp, err := r.GetWasher(ctx, washerID)
		if err != nil {
			return err
		}
		if err := r.UpdateWasherStats(ctx, washerID, wp.Rating, wp.TotalWashes+1); err != nil {
			return err
		}
		out = w
		return s.notify(ctx, r, w.ClientID, washCompleted(displayName(ctx, r, w.ClientID)), map[string]string{"wash_id": w.ID})
	})
	if err != nil {
		return nil, fmt.Errorf("end wash: %w", err)
	}
	s.logger.Info("wash completed", "wash_id", washID, "washer_id", washerID)
	return out, nil
}
