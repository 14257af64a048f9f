// Package relayservice assembles the relay's long-lived components: the
// connection gateway, the broadcast loop, and the heartbeat supervisor.
package relayservice

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Rief3550/go-tracking-relay/internal/auth"
	"github.com/Rief3550/go-tracking-relay/internal/pipeline"
	"github.com/Rief3550/go-tracking-relay/internal/realtime"
	"github.com/Rief3550/go-tracking-relay/pkg/tracking"
	"github.com/Rief3550/go-tracking-relay/relayservice/config"
)

// Service bundles the relay's three concurrent units behind one Start and
// Shutdown. All of them share state only through the session registry.
type Service struct {
	gateway     *realtime.ConnectionManager
	broadcaster *pipeline.Broadcaster
	supervisor  *realtime.HeartbeatSupervisor

	cancelBackground context.CancelFunc
	logger           zerolog.Logger
}

// New wires up the service from its explicitly constructed dependencies.
// source may be nil for deployments fed only through the direct ingest
// endpoint; the broadcaster then serves as the dispatch path alone.
func New(
	cfg *config.AppConfig,
	verifier *auth.Verifier,
	registry *realtime.Registry,
	source tracking.MessageSource,
	logger zerolog.Logger,
) (*Service, error) {
	supervisor, err := realtime.NewHeartbeatSupervisor(registry, cfg.PingInterval, cfg.PingTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeat supervisor: %w", err)
	}

	broadcaster := pipeline.NewBroadcaster(source, registry, logger)
	return &Service{
		gateway:     realtime.NewConnectionManager(cfg.HTTPAddr, verifier, registry, broadcaster, logger),
		broadcaster: broadcaster,
		supervisor:  supervisor,
		logger:      logger,
	}, nil
}

// Start launches the broadcast loop and the heartbeat supervisor, then runs
// the gateway server. It blocks until the server stops.
func (s *Service) Start(ctx context.Context) error {
	background, cancel := context.WithCancel(ctx)
	s.cancelBackground = cancel

	s.broadcaster.Start(background)
	go s.supervisor.Run(background)

	return s.gateway.Start(ctx)
}

// Shutdown stops the components in dependency order: close the broker
// subscription and stop the supervisor, then stop accepting handshakes and
// close the remaining sessions.
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down relay service...")
	var finalErr error

	if err := s.broadcaster.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("Broker subscription close failed.")
		finalErr = err
	}

	if s.cancelBackground != nil {
		s.cancelBackground()
	}

	if err := s.gateway.Shutdown(ctx); err != nil {
		finalErr = err
	}

	s.logger.Info().Msg("Relay service shut down.")
	return finalErr
}
