package deadletter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/wash-hup/internal/models"
)

func TestDecodeRoundTrip(t *testing.T) {
	f := Failure{
		Event:    models.ChargeEvent{Provider: "paystack", Event: models.ChargeSuccess, Reference: "ref-1", Gross: decimal.NewFromInt(100), Net: decimal.NewFromInt(90)},
		Reason:   "wallet not found",
		Attempts: 2,
		FailedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	b, err := json.Marshal(f)
	require.NoError(t, err)

	got, err := Decode(kafka.Message{Value: b})
	require.NoError(t, err)
	assert.Equal(t, "ref-1", got.Event.Reference)
	assert.True(t, got.Event.Net.Equal(decimal.NewFromInt(90)))
	assert.Equal(t, 2, got.Attempts)

	_, err = Decode(kafka.Message{Value: []byte("{")})
	assert.Error(t, err)
}

func TestLogSink(t *testing.T) {
	s := NewLogSink(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Publish(context.Background(), Failure{Event: models.ChargeEvent{Reference: "r"}}))
	require.Len(t, s.Failures(), 1)
}
