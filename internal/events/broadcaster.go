package events

import (
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 64

// Subscriber receives live events. It is closed on Unsubscribe or CloseAll.
type Subscriber chan Event

// Broadcaster fans emitted events out to live subscribers such as
// websocket clients. Delivery never blocks the emitter: a subscriber whose
// buffer is full misses the event and the drop is counted.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[Subscriber]struct{}
	dropped atomic.Int64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[Subscriber]struct{})}
}

func (b *Broadcaster) Subscribe() Subscriber {
	sub := make(Subscriber, subscriberBuffer)
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes it. Unknown subscribers are ignored.
func (b *Broadcaster) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub)
	}
}

// CloseAll removes and closes every subscriber.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub)
	}
}

func (b *Broadcaster) broadcast(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}
