package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rief3550/go-tracking-relay/pkg/tracking"
)

// PresenceStore records which relay instance currently holds a subject's live
// connection. Optional: pass nil to NewRegistry to disable presence tracking.
type PresenceStore interface {
	Set(ctx context.Context, subjectID string, info tracking.ConnectionInfo) error
	Delete(ctx context.Context, subjectID string) error
}

// Registry is the single synchronization boundary for session state. It owns
// the canonical map from session ID to Session; connection handlers, the
// broadcaster, and the heartbeat supervisor all operate through its methods.
// Membership is the source of truth for liveness: a session absent from the
// registry has its transport already closed or closing.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	presence   PresenceStore
	instanceID string
	logger     zerolog.Logger
}

// NewRegistry creates an empty registry. presence may be nil.
func NewRegistry(instanceID string, presence PresenceStore, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		presence:   presence,
		instanceID: instanceID,
		logger:     logger.With().Str("component", "SessionRegistry").Logger(),
	}
}

// Register adds session to the registry and records presence for its subject.
func (r *Registry) Register(session *Session) {
	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	r.logger.Info().
		Str("session", session.ID).
		Str("subject", session.Identity.SubjectID).
		Str("scope", session.Scope).
		Msg("Session registered.")

	if r.presence != nil {
		info := tracking.ConnectionInfo{
			ServerInstanceID: r.instanceID,
			ConnectedAt:      time.Now().Unix(),
		}
		if err := r.presence.Set(context.Background(), session.Identity.SubjectID, info); err != nil {
			r.logger.Error().Err(err).Str("subject", session.Identity.SubjectID).Msg("Failed to set presence.")
		}
	}
}

// Remove deletes the session with sessionID. Removing an unknown ID is a
// no-op: eviction is idempotent. The caller is responsible for closing the
// transport.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	r.logger.Info().
		Str("session", sessionID).
		Str("subject", session.Identity.SubjectID).
		Msg("Session removed.")

	if r.presence != nil {
		if err := r.presence.Delete(context.Background(), session.Identity.SubjectID); err != nil {
			r.logger.Error().Err(err).Str("subject", session.Identity.SubjectID).Msg("Failed to delete presence.")
		}
	}
}

// Touch records inbound activity for sessionID: the session is alive and its
// lastSeenAt moves forward. Unknown IDs are ignored.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	session.lastSeenAt = time.Now()
	session.state = stateAlive
}

// ForEachMatching invokes fn with every session whose scope matches one of
// the event's topics. The matching set is snapshotted under the lock and fn
// runs outside it, so fn may send on transports or call back into the
// registry.
func (r *Registry) ForEachMatching(topics []string, fn func(*Session)) {
	r.mu.RLock()
	matched := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		if session.matches(topics) {
			matched = append(matched, session)
		}
	}
	r.mu.RUnlock()

	for _, session := range matched {
		fn(session)
	}
}

// AllSessions returns a snapshot of every registered session.
func (r *Registry) AllSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		all = append(all, session)
	}
	return all
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// BeginPing marks every alive session as awaiting a pong with the given
// deadline and returns them for pinging. Sessions already awaiting a pong are
// left untouched; their earlier deadline stands.
func (r *Registry) BeginPing(deadline time.Time) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		if session.state != stateAlive {
			continue
		}
		session.state = stateAwaitingPong
		session.pongDeadline = deadline
		pending = append(pending, session)
	}
	return pending
}

// EvictExpired removes and returns every session still awaiting a pong at or
// past its deadline. Transports are not closed here; the caller closes them
// after the lock is released.
func (r *Registry) EvictExpired(now time.Time) []*Session {
	r.mu.Lock()
	expired := make([]*Session, 0)
	for id, session := range r.sessions {
		if session.state == stateAwaitingPong && !now.Before(session.pongDeadline) {
			delete(r.sessions, id)
			expired = append(expired, session)
		}
	}
	r.mu.Unlock()

	for _, session := range expired {
		r.logger.Warn().
			Str("session", session.ID).
			Str("subject", session.Identity.SubjectID).
			Time("deadline", session.pongDeadline).
			Msg("Session missed pong deadline. Evicting.")
		if r.presence != nil {
			if err := r.presence.Delete(context.Background(), session.Identity.SubjectID); err != nil {
				r.logger.Error().Err(err).Str("subject", session.Identity.SubjectID).Msg("Failed to delete presence.")
			}
		}
	}
	return expired
}

// Drain removes every session and returns them so the caller can close their
// transports. Used during shutdown.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	drained := make([]*Session, 0, len(r.sessions))
	for id, session := range r.sessions {
		delete(r.sessions, id)
		drained = append(drained, session)
	}
	r.mu.Unlock()
	return drained
}
