// Package pipeline consumes events from the broker channel and fans them out
// to matching live sessions.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Rief3550/go-tracking-relay/internal/realtime"
	"github.com/Rief3550/go-tracking-relay/pkg/tracking"
)

// Broadcaster runs the subscription loop: each payload from the source is
// decoded, validated, and delivered to every session whose scope matches.
// A malformed payload is logged and dropped; one bad message never terminates
// the loop. Delivery is best-effort per session: a failed send evicts that
// session and closes its transport, but the remaining sessions still receive
// the event.
type Broadcaster struct {
	source   tracking.MessageSource
	registry *realtime.Registry
	logger   zerolog.Logger

	wg sync.WaitGroup
}

// NewBroadcaster creates a broadcaster over source and registry.
func NewBroadcaster(source tracking.MessageSource, registry *realtime.Registry, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		source:   source,
		registry: registry,
		logger:   logger.With().Str("component", "Broadcaster").Logger(),
	}
}

// Start launches the subscription loop. It returns immediately; the loop runs
// until the source's channel closes or ctx is cancelled. With a nil source
// (direct-ingest-only deployments) there is no loop to run.
func (b *Broadcaster) Start(ctx context.Context) {
	if b.source == nil {
		b.logger.Info().Msg("No broker source configured. Skipping broadcast loop.")
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.logger.Info().Msg("Broadcast loop starting...")
		for {
			select {
			case <-ctx.Done():
				b.logger.Info().Msg("Broadcast loop stopping: context cancelled.")
				return
			case payload, ok := <-b.source.Messages():
				if !ok {
					b.logger.Info().Msg("Broadcast loop stopping: source closed.")
					return
				}
				b.dispatch(payload)
			}
		}
	}()
}

// Stop closes the source and waits for the loop to drain.
func (b *Broadcaster) Stop() error {
	if b.source == nil {
		return nil
	}
	err := b.source.Close()
	b.wg.Wait()
	return err
}

// Dispatch decodes, validates, and fans out one event payload. It is the
// single delivery path for both broker messages and directly ingested events.
// The returned error covers decoding and validation only; per-session send
// failures evict that session without failing the dispatch.
func (b *Broadcaster) Dispatch(payload []byte) error {
	var event tracking.TrackingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("malformed event payload: %w", err)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid tracking event: %w", err)
	}

	log := b.logger.With().Str("order", event.OrderID).Logger()
	delivered := 0
	b.registry.ForEachMatching(eventTopics(&event), func(session *realtime.Session) {
		if err := session.Send(payload); err != nil {
			log.Warn().Err(err).Str("session", session.ID).Msg("Send failed. Evicting session.")
			b.registry.Remove(session.ID)
			_ = session.Close()
			return
		}
		delivered++
	})
	log.Debug().Int("delivered", delivered).Msg("Event broadcast.")
	return nil
}

func (b *Broadcaster) dispatch(payload []byte) {
	if err := b.Dispatch(payload); err != nil {
		b.logger.Error().Err(err).Bytes("payload", payload).Msg("Dropping broker message.")
	}
}

// eventTopics returns the topics an event carries: its order, and its crew
// when one is assigned. Narrow-scoped sessions match against these.
func eventTopics(event *tracking.TrackingEvent) []string {
	topics := []string{"order:" + event.OrderID}
	if event.CrewID != nil && *event.CrewID != "" {
		topics = append(topics, "crew:"+*event.CrewID)
	}
	return topics
}
