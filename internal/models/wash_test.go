package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/wash-hup/internal/apperr"
)

func acceptedWash(t *testing.T) *Wash {
	t.Helper()
	w := &Wash{ID: "wa_1", ClientID: "c1", WashType: WashQuick}
	require.NoError(t, w.Accept("w1", decimal.NewFromInt(5000)))
	return w
}

func TestWashLifecycle(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	w := acceptedWash(t)
	assert.Equal(t, ProgressPending, w.Progress())
	assert.True(t, w.Price.Decimal.Equal(decimal.NewFromInt(5000)))

	require.NoError(t, w.Verify(now))
	assert.True(t, w.IsVerified)
	assert.True(t, w.Started)
	assert.Equal(t, ProgressOngoing, w.Progress())

	require.NoError(t, w.Complete(now.Add(time.Hour), "img/1.png"))
	assert.Equal(t, ProgressCompleted, w.Progress())
	assert.NoError(t, w.CanPay())
	assert.NoError(t, w.CanReview())
	assert.NoError(t, w.CheckFlags())
}

func TestWashGuards(t *testing.T) {
	now := time.Now()

	fresh := &Wash{ID: "wa_2", ClientID: "c1"}
	assert.True(t, errors.Is(fresh.Verify(now), apperr.ErrInvalidState))
	assert.True(t, errors.Is(fresh.Complete(now, ""), apperr.ErrInvalidState))
	assert.True(t, errors.Is(fresh.CanPay(), apperr.ErrInvalidState))
	assert.True(t, errors.Is(fresh.CanReview(), apperr.ErrInvalidState))
	assert.False(t, fresh.IsVerified)

	w := acceptedWash(t)
	assert.True(t, errors.Is(w.Accept("w2", decimal.NewFromInt(1)), apperr.ErrConflict))
	assert.Equal(t, "w1", w.WasherID)

	require.NoError(t, w.Verify(now))
	assert.True(t, errors.Is(w.Verify(now), apperr.ErrConflict))

	require.NoError(t, w.Complete(now, "a.png"))
	err := w.Complete(now, "b.png")
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, "a.png", w.ImageURL)
}

func TestCompletedWashRejectsEarlierTransitions(t *testing.T) {
	now := time.Now()
	w := acceptedWash(t)
	require.NoError(t, w.Verify(now))
	require.NoError(t, w.Complete(now, ""))
	before := *w

	assert.Error(t, w.Accept("w9", decimal.NewFromInt(10)))
	assert.Error(t, w.Verify(now))
	assert.Equal(t, before.Accepted, w.Accepted)
	assert.Equal(t, before.IsVerified, w.IsVerified)
	assert.Equal(t, before.Started, w.Started)
	assert.Equal(t, before.WasherID, w.WasherID)
}

func TestAddCarOnce(t *testing.T) {
	w := &Wash{}
	require.NoError(t, w.AddCar(Car{Type: "sedan", Name: "Corolla", Color: "blue"}))
	assert.True(t, errors.Is(w.AddCar(Car{Type: "suv", Name: "RAV4"}), apperr.ErrConflict))
	assert.Equal(t, "Corolla", w.Car.Name)
}

func TestCheckFlags(t *testing.T) {
	cases := []struct {
		name string
		w    Wash
		ok   bool
	}{
		{"fresh", Wash{}, true},
		{"accepted without washer", Wash{Accepted: true}, false},
		{"verified without accept", Wash{IsVerified: true}, false},
		{"started without verify", Wash{Accepted: true, WasherID: "w", Started: true}, false},
		{"completed without start", Wash{Accepted: true, WasherID: "w", IsVerified: true, Completed: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.w.CheckFlags()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
