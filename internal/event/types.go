// Package event provides the typed publish/subscribe surface for retrace.
//
// Delivery is synchronous: Publish runs every matching handler in the
// caller's goroutine, in priority order, before returning. Callers that
// mutate state and then publish are therefore guaranteed that subscribers
// observe the mutated state, and that two sequential Publish calls are
// observed in order by every subscriber.
package event

import (
	"context"
	"time"
)

// Topic identifies an event stream using dot notation (e.g. "session.paused").
type Topic string

// String returns the topic as a string.
func (t Topic) String() string {
	return string(t)
}

// Event is a published occurrence delivered to subscribers.
type Event struct {
	// ID is a unique identifier assigned at publish time.
	ID string

	// Topic is the stream this event was published on.
	Topic Topic

	// Payload carries the typed event data (one of the structs in events.go).
	Payload any

	// Time is when the event was published.
	Time time.Time
}

// Priority determines handler execution order within a topic.
// Lower values execute first.
type Priority int

// Standard priority levels.
const (
	// PriorityHigh runs before normal-priority handlers.
	PriorityHigh Priority = 0

	// PriorityNormal is the default priority.
	PriorityNormal Priority = 100

	// PriorityLow runs after normal-priority handlers.
	PriorityLow Priority = 200
)

// Handler processes a delivered event.
type Handler interface {
	// Handle is called once per delivered event.
	// Returning an error does not stop delivery to other subscribers;
	// errors are counted in the bus stats.
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle calls the function.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// FilterFunc decides whether an event should be delivered to a subscription.
type FilterFunc func(ev Event) bool

// Stats holds counters describing bus activity.
type Stats struct {
	// Published is the total number of Publish calls.
	Published uint64

	// Delivered is the total number of handler invocations.
	Delivered uint64

	// Filtered is the number of deliveries suppressed by a filter.
	Filtered uint64

	// Errors is the number of handler invocations that returned an error.
	Errors uint64

	// Panics is the number of recovered handler panics.
	Panics uint64

	// Subscriptions is the current number of live subscriptions.
	Subscriptions int
}
