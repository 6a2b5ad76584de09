package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/storage"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeDrainer struct {
	calls int
	err   error
}

func (f *fakeDrainer) DrainOnce(context.Context) (int, error) {
	f.calls++
	return 1, f.err
}

func payment(id, ref string, status models.PaymentStatus, created time.Time) *models.Payment {
	return &models.Payment{
		ID:        id,
		WashID:    "wa_" + id,
		Reference: ref,
		Amount:    decimal.NewFromInt(5000),
		Status:    status,
		CreatedAt: created,
	}
}

func TestExpirePaymentsFailsOnlyStalePending(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreatePayment(ctx, payment("pa_old", "ref-old", models.PaymentPending, now.Add(-48*time.Hour))))
	require.NoError(t, store.CreatePayment(ctx, payment("pa_new", "ref-new", models.PaymentPending, now.Add(-time.Hour))))
	require.NoError(t, store.CreatePayment(ctx, payment("pa_done", "ref-done", models.PaymentCompleted, now.Add(-72*time.Hour))))

	jobs := NewJobs(store, nil, 24*time.Hour, quiet)
	jobs.now = func() time.Time { return now }
	jobs.ExpirePayments()

	cases := map[string]models.PaymentStatus{
		"ref-old":  models.PaymentFailed,
		"ref-new":  models.PaymentPending,
		"ref-done": models.PaymentCompleted,
	}
	for ref, want := range cases {
		p, err := store.GetPaymentByReference(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, want, p.Status, ref)
	}
}

func TestDrainOutbox(t *testing.T) {
	d := &fakeDrainer{}
	jobs := NewJobs(storage.NewMemoryStore(), d, 0, quiet)
	jobs.DrainOutbox()
	d.err = errors.New("db down")
	jobs.DrainOutbox()
	assert.Equal(t, 2, d.calls)

	NewJobs(storage.NewMemoryStore(), nil, 0, quiet).DrainOutbox()
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	jobs := NewJobs(storage.NewMemoryStore(), nil, 0, quiet)
	s := NewScheduler(jobs, Schedule{Payments: "not a schedule"}, quiet)
	assert.Error(t, s.Start())
}

func TestSchedulerStartStop(t *testing.T) {
	jobs := NewJobs(storage.NewMemoryStore(), &fakeDrainer{}, 0, quiet)
	s := NewScheduler(jobs, Schedule{Payments: "@every 1h", Outbox: "@every 1m"}, quiet)
	require.NoError(t, s.Start())
	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
