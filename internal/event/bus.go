package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Bus routes published events to subscribers.
//
// The retrace event set is small and closed, so topics are matched
// exactly (no wildcards) and handlers run inline in the publisher's
// goroutine. That inline delivery is load-bearing: the session
// coordinator relies on "resumed" being fully observed before the
// following "paused" is published.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]*subscription
	byID map[string]*subscription

	published atomic.Uint64
	delivered atomic.Uint64
	filtered  atomic.Uint64
	errCount  atomic.Uint64
	panics    atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Topic][]*subscription),
		byID: make(map[string]*subscription),
	}
}

// Subscribe registers a handler for a topic.
// Handlers on the same topic run in priority order; equal priorities
// run in subscription order.
func (b *Bus) Subscribe(t Topic, h Handler, opts ...SubscriptionOption) (Subscription, error) {
	if t == "" {
		return nil, ErrEmptyTopic
	}
	if h == nil {
		return nil, ErrNilHandler
	}

	sub := newSubscription(uuid.NewString(), t, h, opts...)

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[t]
	// Insert keeping the list sorted by priority, preserving
	// subscription order among equal priorities.
	idx := len(list)
	for i, existing := range list {
		if sub.config.Priority < existing.config.Priority {
			idx = i
			break
		}
	}
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = sub
	b.subs[t] = list
	b.byID[sub.id] = sub

	return sub, nil
}

// SubscribeFunc registers a plain function for a topic.
func (b *Bus) SubscribeFunc(t Topic, fn func(ctx context.Context, ev Event) error, opts ...SubscriptionOption) (Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	return b.Subscribe(t, HandlerFunc(fn), opts...)
}

// Unsubscribe cancels and removes a subscription by id.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byID[id]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.Cancel()
	delete(b.byID, id)
	b.removeLocked(sub)
	return nil
}

// removeLocked removes a subscription from its topic list.
// Caller must hold b.mu.
func (b *Bus) removeLocked(sub *subscription) {
	list := b.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			b.subs[sub.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.topic]) == 0 {
		delete(b.subs, sub.topic)
	}
}

// Publish delivers an event to every active subscriber of the topic,
// synchronously, before returning. Handler errors and panics are
// counted but do not interrupt delivery to later subscribers.
func (b *Bus) Publish(ctx context.Context, t Topic, payload any) error {
	if t == "" {
		return ErrEmptyTopic
	}

	b.published.Add(1)
	ev := Event{
		ID:      uuid.NewString(),
		Topic:   t,
		Payload: payload,
		Time:    time.Now(),
	}

	b.mu.RLock()
	snapshot := make([]*subscription, len(b.subs[t]))
	copy(snapshot, b.subs[t])
	b.mu.RUnlock()

	for _, sub := range snapshot {
		deliver, filtered := sub.shouldDeliver(ev)
		if filtered {
			b.filtered.Add(1)
		}
		if !deliver {
			continue
		}
		b.deliver(ctx, sub, ev)
		if sub.config.Once {
			_ = b.Unsubscribe(sub.id)
		}
	}
	return nil
}

// deliver runs a single handler, isolating panics.
func (b *Bus) deliver(ctx context.Context, sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
		}
	}()

	b.delivered.Add(1)
	if err := sub.handler.Handle(ctx, ev); err != nil {
		b.errCount.Add(1)
	}
}

// Stats returns a snapshot of bus activity counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	live := len(b.byID)
	b.mu.RUnlock()

	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		Filtered:      b.filtered.Load(),
		Errors:        b.errCount.Load(),
		Panics:        b.panics.Load(),
		Subscriptions: live,
	}
}
