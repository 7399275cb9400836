package memstore

import (
	"context"
	"sync"

	"github.com/driftpro/chatcore/chat"
)

const subscriptionBuffer = 64

// Broker fans published messages out to in-process subscribers. A slow
// subscriber misses events rather than blocking publishers; it catches up
// with Load from the last sequence number it saw.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

// NewBroker returns a Broker with no subscribers.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*subscription]struct{})}
}

// PublishMessage notifies every subscriber of m's chat.
func (b *Broker) PublishMessage(_ context.Context, m chat.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[m.ChatID] {
		select {
		case s.events <- m.Seq:
		default:
		}
	}
	return nil
}

// SubscribeChat follows chatID until the subscription is closed.
func (b *Broker) SubscribeChat(_ context.Context, chatID string) (chat.Subscription, error) {
	s := &subscription{b: b, chatID: chatID, events: make(chan int64, subscriptionBuffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[chatID] == nil {
		b.subs[chatID] = make(map[*subscription]struct{})
	}
	b.subs[chatID][s] = struct{}{}
	return s, nil
}

type subscription struct {
	b      *Broker
	chatID string
	events chan int64
	once   sync.Once
}

func (s *subscription) Events() <-chan int64 {
	return s.events
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		delete(s.b.subs[s.chatID], s)
		if len(s.b.subs[s.chatID]) == 0 {
			delete(s.b.subs, s.chatID)
		}
		close(s.events)
	})
	return nil
}
