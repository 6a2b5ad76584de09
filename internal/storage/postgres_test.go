package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/models"
)

func startPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "washhup",
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "password",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("host=%s port=%s user=postgres password=password dbname=washhup sslmode=disable", host, port.Port())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewPostgresStore(ctx, dsn, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresWashRoundTrip(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()
	w := seedWash(t, s)

	got, err := s.GetWash(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WashQuick, got.WashType)
	assert.False(t, got.Price.Valid)

	require.NoError(t, got.AddCar(models.Car{Type: "sedan", Name: "Civic", Color: "red"}))
	require.NoError(t, got.Accept("w1", decimal.NewFromInt(5000)))
	require.NoError(t, s.UpdateWash(ctx, got))

	again, err := s.GetWash(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "Civic", again.Car.Name)
	assert.True(t, again.Price.Decimal.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "w1", again.WasherID)

	_, err = s.GetWash(ctx, "wa_missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestPostgresProfileVariants(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()
	seedWash(t, s)

	p, err := s.GetProfile(ctx, "c1")
	require.NoError(t, err)
	_, isOwner := p.(models.OwnerProfile)
	assert.True(t, isOwner)

	_, err = s.GetWasher(ctx, "c1")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	require.NoError(t, s.SetWasherAvailability(ctx, "w1", true))
	wp, err := s.GetWasher(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, wp.Available)
}

func TestPostgresConcurrentCreditsSerialize(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()
	seedWash(t, s)
	require.NoError(t, s.CreateWallet(ctx, &models.Wallet{WasherID: "w1", Balance: decimal.Zero, UpdatedAt: time.Now()}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(r Repo) error {
				if _, err := r.LockWallet(ctx, "w1"); err != nil {
					return err
				}
				return r.CreditWallet(ctx, "w1", decimal.NewFromInt(100))
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	wallet, err := s.GetWallet(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(1000)), wallet.Balance.String())
}

func TestPostgresUniqueTransactionPerPayment(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()
	w := seedWash(t, s)
	now := time.Now().UTC()
	require.NoError(t, s.CreatePayment(ctx, &models.Payment{
		ID: "pa_1", WashID: w.ID, ClientID: "c1", WasherID: "w1", Reference: "ref-123",
		Amount: decimal.NewFromInt(10000), Currency: "NGN", Provider: "sandbox",
		Status: models.PaymentPending, CreatedAt: now, UpdatedAt: now,
	}))

	tx := &models.Transaction{ID: "pa_1", PaymentID: "pa_1", WashID: w.ID, WasherID: "w1", Reference: "ref-123", Amount: decimal.NewFromInt(9000), CreatedAt: now}
	require.NoError(t, s.CreateTransaction(ctx, tx))
	assert.True(t, errors.Is(s.CreateTransaction(ctx, tx), apperr.ErrConflict))
}
