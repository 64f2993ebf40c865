package event

import "errors"

// Sentinel errors returned by the bus.
var (
	// ErrEmptyTopic is returned when subscribing or publishing with an empty topic.
	ErrEmptyTopic = errors.New("event: empty topic")

	// ErrNilHandler is returned when subscribing with a nil handler.
	ErrNilHandler = errors.New("event: nil handler")

	// ErrSubscriptionNotFound is returned when unsubscribing an unknown id.
	ErrSubscriptionNotFound = errors.New("event: subscription not found")
)
