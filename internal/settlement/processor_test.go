package settlement

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/cache"
	"github.com/example/wash-hup/internal/deadletter"
	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/payments"
	"github.com/example/wash-hup/internal/storage"
)

const secret = "sk_test_webhook"

type failingDLQ struct{ calls int }

func (f *failingDLQ) Publish(context.Context, deadletter.Failure) error {
	f.calls++
	return errors.New("kafka down")
}

type fixture struct {
	proc  *Processor
	store *storage.MemoryStore
	kv    *cache.Memory
	dlq   *deadletter.LogSink
}

func newFixture(t *testing.T, withWallet bool) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		store: storage.NewMemoryStore(),
		kv:    cache.NewMemory(),
		dlq:   deadletter.NewLogSink(logger),
	}
	f.proc = NewProcessor(f.store, f.kv, f.dlq, nil, 0, logger,
		payments.NewPaystackClient("http://unused", secret))

	now := time.Now().UTC()
	require.NoError(t, f.store.CreateLocation(ctx, &models.Location{ID: "loc_1", Label: "Marina", Coord: models.Coord{Lat: 6.5, Lon: 3.4}, CreatedAt: now}))
	require.NoError(t, f.store.CreateWash(ctx, &models.Wash{
		ID: "wa_1", ClientID: "cl_1", WasherID: "wr_1", LocationID: "loc_1", WashType: models.WashQuick,
		Price:    decimal.NewNullDecimal(decimal.NewFromInt(10000)),
		Accepted: true, IsVerified: true, Started: true, Completed: true,
		TimeStarted: &now, TimeCompleted: &now, CreatedAt: now,
	}))
	require.NoError(t, f.store.CreatePayment(ctx, &models.Payment{
		ID: "pa_1", WashID: "wa_1", ClientID: "cl_1", WasherID: "wr_1", Reference: "ref-123",
		Amount: decimal.NewFromInt(10000), Currency: "NGN", Provider: "paystack",
		Status: models.PaymentPending, CreatedAt: now, UpdatedAt: now,
	}))
	if withWallet {
		require.NoError(t, f.store.CreateWallet(ctx, &models.Wallet{WasherID: "wr_1", Balance: decimal.Zero}))
	}
	return f
}

func signed(body []byte) http.Header {
	h := http.Header{}
	h.Set(payments.PaystackSignatureHeader, hex.EncodeToString(payments.Sign(secret, body)))
	return h
}

// gross 10000 and subaccount share 9000, in kobo.
var chargeBody = []byte(`{"event":"charge.success","data":{"reference":"ref-123","amount":1000000,"fees_split":{"subaccount":900000}}}`)

func (f *fixture) assertSettledOnce(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	txs, err := f.store.ListTransactions(ctx, "wr_1", models.Page{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, decimal.NewFromInt(9000).Equal(txs[0].Amount), txs[0].Amount.String())

	rems, err := f.store.ListRemittances(ctx, "wr_1", models.Page{})
	require.NoError(t, err)
	require.Len(t, rems, 1)
	assert.True(t, decimal.NewFromInt(1000).Equal(rems[0].Amount), rems[0].Amount.String())

	w, err := f.store.GetWallet(ctx, "wr_1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(9000).Equal(w.Balance), w.Balance.String())

	p, err := f.store.GetPaymentByReference(ctx, "ref-123")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, p.Status)
}

func TestDuplicateWebhookSettlesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	require.NoError(t, f.proc.HandleWebhook(ctx, "paystack", chargeBody, signed(chargeBody)))
	require.NoError(t, f.proc.HandleWebhook(ctx, "paystack", chargeBody, signed(chargeBody)))

	f.assertSettledOnce(t)
	assert.Empty(t, f.dlq.Failures())

	notes, err := f.store.ListNotifications(ctx, "cl_1", models.Page{})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.EventPaymentSettled, notes[0].Event)
}

func TestConcurrentDuplicatesSettleOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.proc.HandleWebhook(ctx, "paystack", chargeBody, signed(chargeBody)))
		}()
	}
	wg.Wait()
	f.assertSettledOnce(t)
}

func TestSettleWithoutMarkerIsStillIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	ev := models.ChargeEvent{Event: models.ChargeSuccess, Reference: "ref-123", Gross: decimal.NewFromInt(10000), Net: decimal.NewFromInt(9000)}

	require.NoError(t, f.proc.Settle(ctx, ev))
	err := f.proc.Settle(ctx, ev)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	f.assertSettledOnce(t)
}

func TestRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	err := f.proc.HandleWebhook(ctx, "paystack", chargeBody, http.Header{})
	assert.ErrorIs(t, err, apperr.ErrAuthentication)

	h := signed([]byte(`{"event":"charge.success"}`))
	err = f.proc.HandleWebhook(ctx, "paystack", chargeBody, h)
	assert.ErrorIs(t, err, apperr.ErrAuthentication)

	err = f.proc.HandleWebhook(ctx, "stripe", chargeBody, signed(chargeBody))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	txs, err := f.store.ListTransactions(ctx, "wr_1", models.Page{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestIgnoresOtherEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	body := []byte(`{"event":"transfer.failed","data":{"reference":"ref-123"}}`)

	require.NoError(t, f.proc.HandleWebhook(ctx, "paystack", body, signed(body)))
	p, err := f.store.GetPaymentByReference(ctx, "ref-123")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, p.Status)
}

func TestMissingWalletRollsBackAndDeadLetters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	require.NoError(t, f.proc.HandleWebhook(ctx, "paystack", chargeBody, signed(chargeBody)))

	p, err := f.store.GetPaymentByReference(ctx, "ref-123")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, p.Status, "no partial settlement")
	txs, err := f.store.ListTransactions(ctx, "wr_1", models.Page{})
	require.NoError(t, err)
	assert.Empty(t, txs)

	failures := f.dlq.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "ref-123", failures[0].Event.Reference)
	assert.Contains(t, failures[0].Reason, "wallet")

	// the retry worker replays once the wallet exists
	require.NoError(t, f.store.CreateWallet(ctx, &models.Wallet{WasherID: "wr_1", Balance: decimal.Zero}))
	require.NoError(t, f.proc.Settle(ctx, failures[0].Event))
	f.assertSettledOnce(t)
}

func TestUnknownReferenceDeadLetters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	body := []byte(`{"event":"charge.success","data":{"reference":"ref-404","amount":500,"fees":50}}`)

	require.NoError(t, f.proc.HandleWebhook(ctx, "paystack", body, signed(body)))
	require.Len(t, f.dlq.Failures(), 1)
	assert.Contains(t, f.dlq.Failures()[0].Reason, "payment not found")
}

func TestDeadLetterOutageReleasesMarker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	dlq := &failingDLQ{}
	f.proc.dlq = dlq

	err := f.proc.HandleWebhook(ctx, "paystack", chargeBody, signed(chargeBody))
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.Equal(t, 1, dlq.calls)

	_, found, err := f.kv.Get(ctx, cache.ChargeMarkerKey(models.ChargeSuccess, "ref-123"))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, f.store.CreateWallet(ctx, &models.Wallet{WasherID: "wr_1", Balance: decimal.Zero}))
	require.NoError(t, f.proc.HandleWebhook(ctx, "paystack", chargeBody, signed(chargeBody)))
	f.assertSettledOnce(t)
}

func TestSettleRejectsNetAboveGross(t *testing.T) {
	f := newFixture(t, true)
	err := f.proc.Settle(context.Background(), models.ChargeEvent{Reference: "ref-123", Gross: decimal.NewFromInt(10), Net: decimal.NewFromInt(11)})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSettleFlagsAmountMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	var logs bytes.Buffer
	f.proc.logger = slog.New(slog.NewTextHandler(&logs, nil))

	// the payment asked for 10000 but the gateway charged 8000
	err := f.proc.Settle(ctx, models.ChargeEvent{Event: models.ChargeSuccess, Reference: "ref-123",
		Gross: decimal.NewFromInt(8000), Net: decimal.NewFromInt(7200)})
	require.NoError(t, err)

	p, err := f.store.GetPaymentByReference(ctx, "ref-123")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, p.Status)
	w, err := f.store.GetWallet(ctx, "wr_1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(7200).Equal(w.Balance), w.Balance.String())
	rems, err := f.store.ListRemittances(ctx, "wr_1", models.Page{})
	require.NoError(t, err)
	require.Len(t, rems, 1)
	assert.True(t, decimal.NewFromInt(8000).Equal(rems[0].Gross))

	assert.Contains(t, logs.String(), "charge amount differs from payment")
	assert.Contains(t, logs.String(), "expected=10000")
	assert.Contains(t, logs.String(), "gross=8000")
}

func TestSettleMatchingAmountIsNotFlagged(t *testing.T) {
	f := newFixture(t, true)
	var logs bytes.Buffer
	f.proc.logger = slog.New(slog.NewTextHandler(&logs, nil))

	require.NoError(t, f.proc.HandleWebhook(context.Background(), "paystack", chargeBody, signed(chargeBody)))
	f.assertSettledOnce(t)
	assert.NotContains(t, logs.String(), "charge amount differs")
}
