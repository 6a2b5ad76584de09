package fanout

import (
	"context"
	"sync"

	"github.com/example/wash-hup/internal/models"
)

type Channel string

const (
	ChannelAll           Channel = "all"
	ChannelOwners        Channel = "owners"
	ChannelWashers       Channel = "washers"
	ChannelAdmins        Channel = "admins"
	ChannelOwnersWashers Channel = "owners_washers"
)

// ParticipantChannel carries events addressed to one participant, wherever
// their socket lives.
func ParticipantChannel(userID string) Channel { return Channel("participant:" + userID) }

// RoleChannels lists the shared channels a connection of role listens on.
func RoleChannels(role models.Role) []Channel {
	switch role {
	case models.RoleOwner:
		return []Channel{ChannelAll, ChannelOwners, ChannelOwnersWashers}
	case models.RoleWasher:
		return []Channel{ChannelAll, ChannelWashers, ChannelOwnersWashers}
	case models.RoleAdmin:
		return []Channel{ChannelAll, ChannelAdmins}
	}
	return nil
}

type Message struct {
	Channel Channel
	Payload []byte
}

// Broker relays payloads between server processes.
type Broker interface {
	Publish(ctx context.Context, ch Channel, payload []byte) error
	Subscribe(ctx context.Context, chans ...Channel) (Subscription, error)
}

type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// MemoryBroker is a single-process broker. Slow subscribers lose messages
// rather than block publishers.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[Channel]map[*memSub]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[Channel]map[*memSub]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, ch Channel, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[ch] {
		select {
		case s.ch <- Message{Channel: ch, Payload: payload}:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, chans ...Channel) (Subscription, error) {
	s := &memSub{b: b, ch: make(chan Message, 64), chans: chans}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range chans {
		if b.subs[c] == nil {
			b.subs[c] = make(map[*memSub]struct{})
		}
		b.subs[c][s] = struct{}{}
	}
	return s, nil
}

// Subscribers reports how many live subscriptions listen on ch.
func (b *MemoryBroker) Subscribers(ch Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ch])
}

type memSub struct {
	b     *MemoryBroker
	ch    chan Message
	chans []Channel
	once  sync.Once
}

func (s *memSub) Messages() <-chan Message { return s.ch }

func (s *memSub) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		for _, c := range s.chans {
			delete(s.b.subs[c], s)
			if len(s.b.subs[c]) == 0 {
				delete(s.b.subs, c)
			}
		}
		close(s.ch)
	})
	return nil
}
