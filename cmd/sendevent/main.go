// Command sendevent publishes a single tracking event, exercising the same
// delivery path the order service uses when a work order goes en route.
// Deployments with a broker publish on its channel; BROKER_ADDR left empty
// with DIRECT_URL set uses the point-to-point fallback instead.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rief3550/go-tracking-relay/internal/platform/pubsub"
	"github.com/Rief3550/go-tracking-relay/internal/platform/push"
	"github.com/Rief3550/go-tracking-relay/pkg/tracking"
	"github.com/Rief3550/go-tracking-relay/relayservice/config"
)

func main() {
	orderID := flag.String("order", "", "work order id (required)")
	crewID := flag.String("crew", "", "crew id (optional)")
	address := flag.String("address", "", "target address (required)")
	lat := flag.Float64("lat", 0, "target latitude (optional, requires -lng)")
	lng := flag.Float64("lng", 0, "target longitude (optional, requires -lat)")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "sendevent").Logger()

	if *orderID == "" || *address == "" {
		logger.Fatal().Msg("-order and -address are required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	event := &tracking.TrackingEvent{
		OrderID:        *orderID,
		TargetLocation: tracking.TargetLocation{Address: *address},
	}
	if *crewID != "" {
		event.CrewID = crewID
	}
	if *lat != 0 || *lng != 0 {
		event.TargetLocation.Lat = lat
		event.TargetLocation.Lng = lng
	}

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create publisher")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	publisher.Publish(ctx, event)

	logger.Info().Str("order", *orderID).Msg("Event emitted.")
}

// newPublisher picks the configured delivery path: the broker channel by
// default, the direct-call fallback when only DIRECT_URL is set.
func newPublisher(cfg *config.AppConfig, logger zerolog.Logger) (tracking.EventPublisher, error) {
	if cfg.BrokerAddr == "" && cfg.DirectURL != "" {
		return push.NewDirectPublisher(nil, cfg.DirectURL, logger)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.BrokerAddr})
	return pubsub.NewPublisher(client, cfg.BrokerChannel, logger)
}
