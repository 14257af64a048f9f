package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Subscriber is a tracking.MessageSource over a Redis Pub/Sub subscription.
// Payloads are forwarded in broker delivery order.
type Subscriber struct {
	pubsub    *redis.PubSub
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

// NewSubscriber subscribes to channel and starts forwarding payloads. The
// initial subscription is confirmed before returning, so a misconfigured
// broker fails at startup rather than silently delivering nothing.
func NewSubscriber(ctx context.Context, client *redis.Client, channel string, logger zerolog.Logger) (*Subscriber, error) {
	ps := client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to broker channel %q: %w", channel, err)
	}

	s := &Subscriber{
		pubsub: ps,
		out:    make(chan []byte),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "BrokerSubscriber").Str("channel", channel).Logger(),
	}

	go s.forwardFrom(ps.Channel())
	s.logger.Info().Msg("Subscribed to broker channel.")
	return s, nil
}

// forwardFrom pumps payloads from in to the output channel. A pending send
// is abandoned when the subscriber is closed, so the goroutine never outlives
// Close even if the consumer stopped reading first.
func (s *Subscriber) forwardFrom(in <-chan *redis.Message) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}
}

// Messages returns the stream of raw payloads. The channel closes when the
// subscription is closed.
func (s *Subscriber) Messages() <-chan []byte {
	return s.out
}

// Close terminates the subscription and releases the forwarding goroutine.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.pubsub.Close()
}
