package tracking

import "context"

// EventPublisher is the interface the order-management side calls when a work
// order transitions to en-route. Publish never returns an error: delivery is
// fail-open, and any transport failure is logged by the implementation rather
// than surfaced to the caller's state-transition logic.
type EventPublisher interface {
	Publish(ctx context.Context, event *TrackingEvent)
}

// MessageSource is a long-lived subscription to the broker channel. Messages
// delivers raw payloads in broker order; the channel is closed when the
// subscription ends.
type MessageSource interface {
	Messages() <-chan []byte
	Close() error
}
