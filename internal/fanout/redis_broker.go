package fanout

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/example/wash-hup/internal/apperr"
)

// RedisBroker relays through Redis pub/sub so every server process sees
// every published event.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, ch Channel, payload []byte) error {
	if err := b.client.Publish(ctx, string(ch), payload).Err(); err != nil {
		return apperr.Unavailable("publish "+string(ch), err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, chans ...Channel) (Subscription, error) {
	names := make([]string, len(chans))
	for i, c := range chans {
		names[i] = string(c)
	}
	ps := b.client.Subscribe(ctx, names...)
	// one confirmation per channel, so no early publish is missed
	for range names {
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, apperr.Unavailable("subscribe", err)
		}
	}
	s := &redisSub{ps: ps, out: make(chan Message, 64), done: make(chan struct{})}
	go s.pump()
	return s, nil
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan Message
	done chan struct{}
	once sync.Once
}

// pump ends when Close closes the PubSub channel or the reader goes away.
func (s *redisSub) pump() {
	defer close(s.out)
	for m := range s.ps.Channel() {
		select {
		case s.out <- Message{Channel: Channel(m.Channel), Payload: []byte(m.Payload)}:
		case <-s.done:
			return
		}
	}
}

func (s *redisSub) Messages() <-chan Message { return s.out }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
