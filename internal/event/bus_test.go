package event

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestBus_PublishDelivers(t *testing.T) {
	bus := NewBus()

	var got []Event
	_, err := bus.SubscribeFunc(TopicPaused, func(_ context.Context, ev Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	payload := Paused{Point: "p100", Time: 12.5, HasFrames: true}
	if err := bus.Publish(context.Background(), TopicPaused, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].Topic != TopicPaused {
		t.Errorf("expected topic %q, got %q", TopicPaused, got[0].Topic)
	}
	p, ok := got[0].Payload.(Paused)
	if !ok {
		t.Fatalf("expected Paused payload, got %T", got[0].Payload)
	}
	if p.Point != "p100" || p.Time != 12.5 || !p.HasFrames {
		t.Errorf("unexpected payload: %+v", p)
	}
	if got[0].ID == "" {
		t.Error("expected non-empty event ID")
	}
}

func TestBus_SynchronousOrdering(t *testing.T) {
	bus := NewBus()

	var order []Topic
	for _, topic := range []Topic{TopicResumed, TopicPaused} {
		topic := topic
		_, err := bus.SubscribeFunc(topic, func(_ context.Context, ev Event) error {
			order = append(order, ev.Topic)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	// Publish resumed then paused from the same goroutine; subscribers
	// must observe them in exactly that order.
	_ = bus.Publish(context.Background(), TopicResumed, Resumed{})
	_ = bus.Publish(context.Background(), TopicPaused, Paused{Point: "p1"})

	if len(order) != 2 || order[0] != TopicResumed || order[1] != TopicPaused {
		t.Fatalf("expected [resumed paused], got %v", order)
	}
}

func TestBus_PriorityOrder(t *testing.T) {
	bus := NewBus()

	var order []string
	subscribe := func(name string, p Priority) {
		_, err := bus.SubscribeFunc(TopicPaused, func(_ context.Context, _ Event) error {
			order = append(order, name)
			return nil
		}, WithPriority(p))
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	subscribe("low", PriorityLow)
	subscribe("high", PriorityHigh)
	subscribe("normal-a", PriorityNormal)
	subscribe("normal-b", PriorityNormal)

	_ = bus.Publish(context.Background(), TopicPaused, Paused{})

	expected := []string{"high", "normal-a", "normal-b", "low"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d deliveries, got %d", len(expected), len(order))
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("position %d: expected %s, got %s", i, expected[i], order[i])
		}
	}
}

func TestBus_Filter(t *testing.T) {
	bus := NewBus()

	var count int
	_, err := bus.SubscribeFunc(TopicPaused, func(_ context.Context, _ Event) error {
		count++
		return nil
	}, WithFilter(func(ev Event) bool {
		p, ok := ev.Payload.(Paused)
		return ok && p.HasFrames
	}))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	_ = bus.Publish(context.Background(), TopicPaused, Paused{Point: "p1", HasFrames: false})
	_ = bus.Publish(context.Background(), TopicPaused, Paused{Point: "p2", HasFrames: true})

	if count != 1 {
		t.Errorf("expected 1 delivery after filtering, got %d", count)
	}
	if bus.Stats().Filtered != 1 {
		t.Errorf("expected 1 filtered, got %d", bus.Stats().Filtered)
	}
}

func TestBus_Once(t *testing.T) {
	bus := NewBus()

	var count int
	sub, err := bus.SubscribeFunc(TopicResumed, func(_ context.Context, _ Event) error {
		count++
		return nil
	}, WithOnce())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	_ = bus.Publish(context.Background(), TopicResumed, Resumed{})
	_ = bus.Publish(context.Background(), TopicResumed, Resumed{})

	if count != 1 {
		t.Errorf("expected 1 delivery for once subscription, got %d", count)
	}
	if sub.State() != SubscriptionStateCancelled {
		t.Errorf("expected cancelled state, got %s", sub.State())
	}
	if bus.Stats().Subscriptions != 0 {
		t.Errorf("expected 0 live subscriptions, got %d", bus.Stats().Subscriptions)
	}
}

func TestBus_PauseResume(t *testing.T) {
	bus := NewBus()

	var count int
	sub, err := bus.SubscribeFunc(TopicPaused, func(_ context.Context, _ Event) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	sub.Pause()
	_ = bus.Publish(context.Background(), TopicPaused, Paused{})
	if count != 0 {
		t.Errorf("expected no delivery while paused, got %d", count)
	}

	sub.Resume()
	_ = bus.Publish(context.Background(), TopicPaused, Paused{})
	if count != 1 {
		t.Errorf("expected 1 delivery after resume, got %d", count)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	var count int
	sub, err := bus.SubscribeFunc(TopicPaused, func(_ context.Context, _ Event) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Unsubscribe(sub.ID()); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	_ = bus.Publish(context.Background(), TopicPaused, Paused{})

	if count != 0 {
		t.Errorf("expected no delivery after unsubscribe, got %d", count)
	}
	if err := bus.Unsubscribe(sub.ID()); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestBus_PanicIsolation(t *testing.T) {
	bus := NewBus()

	_, err := bus.SubscribeFunc(TopicPaused, func(_ context.Context, _ Event) error {
		panic("handler exploded")
	}, WithPriority(PriorityHigh))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	var delivered bool
	_, err = bus.SubscribeFunc(TopicPaused, func(_ context.Context, _ Event) error {
		delivered = true
		return nil
	}, WithPriority(PriorityLow))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	_ = bus.Publish(context.Background(), TopicPaused, Paused{})

	if !delivered {
		t.Error("expected delivery to continue after panic")
	}
	if bus.Stats().Panics != 1 {
		t.Errorf("expected 1 recorded panic, got %d", bus.Stats().Panics)
	}
}

func TestBus_HandlerErrorCounted(t *testing.T) {
	bus := NewBus()

	_, err := bus.SubscribeFunc(TopicPaused, func(_ context.Context, _ Event) error {
		return errors.New("handler failed")
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	_ = bus.Publish(context.Background(), TopicPaused, Paused{})

	stats := bus.Stats()
	if stats.Errors != 1 {
		t.Errorf("expected 1 handler error, got %d", stats.Errors)
	}
	if stats.Delivered != 1 {
		t.Errorf("expected 1 delivery, got %d", stats.Delivered)
	}
}

func TestBus_EmptyTopic(t *testing.T) {
	bus := NewBus()

	if _, err := bus.SubscribeFunc("", func(_ context.Context, _ Event) error { return nil }); !errors.Is(err, ErrEmptyTopic) {
		t.Errorf("expected ErrEmptyTopic from Subscribe, got %v", err)
	}
	if err := bus.Publish(context.Background(), "", nil); !errors.Is(err, ErrEmptyTopic) {
		t.Errorf("expected ErrEmptyTopic from Publish, got %v", err)
	}
}

func TestBus_NilHandler(t *testing.T) {
	bus := NewBus()

	if _, err := bus.Subscribe(TopicPaused, nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}
	if _, err := bus.SubscribeFunc(TopicPaused, nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	_, err := bus.SubscribeFunc(TopicConsoleMessage, func(_ context.Context, _ Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	const publishers = 8
	const perPublisher = 50

	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				_ = bus.Publish(context.Background(), TopicConsoleMessage, ConsoleMessage{Text: "x"})
			}
		}()
	}
	wg.Wait()

	if count != publishers*perPublisher {
		t.Errorf("expected %d deliveries, got %d", publishers*perPublisher, count)
	}
	if bus.Stats().Published != publishers*perPublisher {
		t.Errorf("expected %d published, got %d", publishers*perPublisher, bus.Stats().Published)
	}
}
