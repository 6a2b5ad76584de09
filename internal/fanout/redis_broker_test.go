package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/testenv"
)

func TestRedisBrokerSubscribesEveryChannelBeforeReturning(t *testing.T) {
	client := testenv.Redis(t)
	ctx := context.Background()
	b := NewRedisBroker(client)

	chans := append(RoleChannels(models.RoleWasher), ParticipantChannel("wr_1"))
	sub, err := b.Subscribe(ctx, chans...)
	require.NoError(t, err)
	defer sub.Close()

	names := make([]string, len(chans))
	for i, c := range chans {
		names[i] = string(c)
	}
	counts, err := client.PubSubNumSub(ctx, names...).Result()
	require.NoError(t, err)
	for _, n := range names {
		assert.EqualValues(t, 1, counts[n], n)
	}

	// the last channel is live as soon as Subscribe returns
	require.NoError(t, b.Publish(ctx, ParticipantChannel("wr_1"), []byte(`{"type":"offer"}`)))
	select {
	case m := <-sub.Messages():
		assert.Equal(t, ParticipantChannel("wr_1"), m.Channel)
		assert.JSONEq(t, `{"type":"offer"}`, string(m.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("message on the last subscribed channel was not delivered")
	}
}
