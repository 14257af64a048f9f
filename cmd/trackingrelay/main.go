package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rief3550/go-tracking-relay/internal/app"
	"github.com/Rief3550/go-tracking-relay/internal/auth"
	"github.com/Rief3550/go-tracking-relay/internal/platform/presence"
	"github.com/Rief3550/go-tracking-relay/internal/platform/pubsub"
	"github.com/Rief3550/go-tracking-relay/internal/realtime"
	"github.com/Rief3550/go-tracking-relay/pkg/tracking"
	"github.com/Rief3550/go-tracking-relay/relayservice"
	"github.com/Rief3550/go-tracking-relay/relayservice/config"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "go-tracking-relay").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.AcceptedPurposes(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create token verifier")
	}

	// One broker client, created here and passed to every component that
	// needs it. go-redis connects lazily on first use. An empty broker
	// address runs the relay without Redis: events arrive only through the
	// direct ingest endpoint, and presence tracking is off.
	var (
		presenceStore realtime.PresenceStore
		source        tracking.MessageSource
	)
	if cfg.BrokerAddr != "" {
		brokerClient := redis.NewClient(&redis.Options{Addr: cfg.BrokerAddr})

		if cfg.PresenceTTL > 0 {
			store, err := presence.NewRedisStore(brokerClient, cfg.PresenceTTL, logger)
			if err != nil {
				logger.Fatal().Err(err).Msg("Failed to create presence store")
			}
			presenceStore = store
		}

		subscriber, err := pubsub.NewSubscriber(ctx, brokerClient, cfg.BrokerChannel, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to subscribe to broker channel")
		}
		source = subscriber
	} else {
		logger.Info().Msg("No broker configured. Serving direct ingest only.")
	}

	registry := realtime.NewRegistry(uuid.NewString(), presenceStore, logger)

	service, err := relayservice.New(cfg, verifier, registry, source, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create relay service")
	}

	app.Run(ctx, logger, service)
}
