package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Rief3550/go-tracking-relay/internal/auth"
)

// EventSink accepts one raw event payload for fan-out to live sessions. The
// broadcaster implements it; the gateway's ingest endpoint feeds it.
type EventSink interface {
	Dispatch(payload []byte) error
}

// maxEventBytes bounds a directly ingested event payload.
const maxEventBytes = 64 * 1024

// ConnectionManager is the connection gateway: it accepts WebSocket
// handshakes, constrained-client HTTP pings, and directly posted events,
// authenticates clients through the token verifier, and registers successful
// WebSocket sessions with the registry. It runs its own HTTP server.
type ConnectionManager struct {
	server   *http.Server
	upgrader websocket.Upgrader
	verifier *auth.Verifier
	registry *Registry
	sink     EventSink
	logger   zerolog.Logger
}

// NewConnectionManager wires up the gateway on addr.
func NewConnectionManager(
	addr string,
	verifier *auth.Verifier,
	registry *Registry,
	sink EventSink,
	logger zerolog.Logger,
) *ConnectionManager {
	cm := &ConnectionManager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: restrict to the dashboard origins once they are fixed
				return true
			},
		},
		verifier: verifier,
		registry: registry,
		sink:     sink,
		logger:   logger.With().Str("component", "ConnectionManager").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", cm.healthHandler)
	mux.Handle("POST /api/ping", verifier.Middleware(http.HandlerFunc(cm.pingHandler)))
	mux.HandleFunc("GET /ws", cm.connectHandler)
	mux.HandleFunc("POST /events/work-order-en-camino", cm.ingestHandler)
	cm.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return cm
}

// Start runs the HTTP server until it is shut down.
func (cm *ConnectionManager) Start(ctx context.Context) error {
	cm.logger.Info().Str("addr", cm.server.Addr).Msg("Gateway server starting...")
	if err := cm.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting new handshakes, then closes every remaining
// session so their read loops unblock.
func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.logger.Info().Msg("Shutting down gateway...")
	var finalErr error

	if err := cm.server.Shutdown(ctx); err != nil {
		cm.logger.Error().Err(err).Msg("Gateway server shutdown failed.")
		finalErr = err
	}

	for _, session := range cm.registry.Drain() {
		if err := session.Close(); err != nil {
			cm.logger.Debug().Err(err).Str("session", session.ID).Msg("Error closing session on shutdown.")
		}
	}

	cm.logger.Info().Msg("Gateway shut down.")
	return finalErr
}

func (cm *ConnectionManager) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// pingHandler is the HTTP entry for clients that cannot hold a persistent
// connection. Authentication already happened in the middleware; the domain
// side of the ping belongs to the order service.
func (cm *ConnectionManager) pingHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	cm.logger.Debug().Str("subject", claims.SubjectID).Msg("Ping received.")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"subject": claims.SubjectID})
}

// ingestHandler receives events posted straight from the order service,
// bypassing the broker. The payload goes through the same dispatch path as a
// broker message, so validation and scope matching behave identically.
func (cm *ConnectionManager) ingestHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if err := cm.sink.Dispatch(payload); err != nil {
		cm.logger.Warn().Err(err).Msg("Rejected ingested event.")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// connectHandler authenticates a WebSocket handshake and hands the resulting
// session to the registry. Browsers cannot set headers on a handshake, so the
// token arrives as a query parameter; any verification failure closes the
// handshake before a session exists.
func (cm *ConnectionManager) connectHandler(w http.ResponseWriter, r *http.Request) {
	claims := cm.verifier.VerifyOptional(r.URL.Query().Get("token"))
	if claims == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = ScopeAll
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cm.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}

	session := NewSession(uuid.NewString(), *claims, scope, NewWebSocketTransport(conn))
	cm.registry.Register(session)
	defer func() {
		cm.registry.Remove(session.ID)
		if err := session.Close(); err != nil {
			cm.logger.Debug().Err(err).Str("session", session.ID).Msg("Error closing connection.")
		}
	}()

	cm.logger.Info().
		Str("session", session.ID).
		Str("subject", claims.SubjectID).
		Msg("Observer connected via WebSocket.")

	conn.SetPongHandler(func(string) error {
		cm.registry.Touch(session.ID)
		return nil
	})

	// Read loop: inbound frames count as activity, and a read error means the
	// client disconnected.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		cm.registry.Touch(session.ID)
	}

	cm.logger.Info().Str("session", session.ID).Str("subject", claims.SubjectID).Msg("Observer disconnected.")
}
