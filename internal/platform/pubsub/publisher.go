// Package pubsub contains the Redis Pub/Sub adapters for the broker channel.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Rief3550/go-tracking-relay/pkg/tracking"
)

// redisPublisher is the slice of go-redis the publisher needs. Narrowed so
// tests can substitute a mock.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

var _ tracking.EventPublisher = (*Publisher)(nil)

// Publisher pushes tracking events onto the broker channel. It implements
// tracking.EventPublisher and is fail-open by contract: the order service's
// state transition must never be blocked or rolled back by a delivery
// failure, so every error ends in the log and a counter, never in the caller.
type Publisher struct {
	client  redisPublisher
	channel string
	logger  zerolog.Logger
	now     func() time.Time

	failed atomic.Int64
}

// NewPublisher creates a publisher for the given channel. The client connects
// lazily on first use and is reused for the process lifetime; it is
// constructed once at startup and passed in, never a package global.
func NewPublisher(client redisPublisher, channel string, logger zerolog.Logger) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if channel == "" {
		return nil, fmt.Errorf("broker channel cannot be empty")
	}
	return &Publisher{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "EventPublisher").Str("channel", channel).Logger(),
		now:     time.Now,
	}, nil
}

// Publish serializes event and PUBLISHes it on the broker channel. The
// emission timestamp is stamped here when the caller left it unset. Publish
// never fails observably.
func (p *Publisher) Publish(ctx context.Context, event *tracking.TrackingEvent) {
	stamped := *event
	if stamped.Timestamp == "" {
		stamped.Timestamp = p.now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(&stamped)
	if err != nil {
		p.recordFailure(err, stamped.OrderID, "marshal")
		return
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.recordFailure(err, stamped.OrderID, "publish")
		return
	}

	p.logger.Debug().Str("order", stamped.OrderID).Msg("Event published to broker.")
}

// FailedDeliveries returns the number of deliveries swallowed so far.
func (p *Publisher) FailedDeliveries() int64 {
	return p.failed.Load()
}

func (p *Publisher) recordFailure(err error, orderID, stage string) {
	p.failed.Add(1)
	p.logger.Error().
		Err(err).
		Str("order", orderID).
		Str("stage", stage).
		Msg("Event delivery failed. Continuing without it.")
}
