package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HeartbeatSupervisor pings every registered session on a fixed interval and
// evicts sessions that do not pong within the timeout. Per session the cycle
// is alive -> awaiting-pong -> alive on pong, or awaiting-pong -> evicted
// once the deadline passes.
type HeartbeatSupervisor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

// NewHeartbeatSupervisor validates the timing configuration and returns a
// supervisor. The timeout must exceed the interval; otherwise every session
// would be evicted every cycle.
func NewHeartbeatSupervisor(registry *Registry, interval, timeout time.Duration, logger zerolog.Logger) (*HeartbeatSupervisor, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("ping interval must be positive, got %s", interval)
	}
	if timeout <= interval {
		return nil, fmt.Errorf("ping timeout (%s) must exceed ping interval (%s)", timeout, interval)
	}
	return &HeartbeatSupervisor{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With().Str("component", "HeartbeatSupervisor").Logger(),
		timers:   make(map[*time.Timer]struct{}),
	}, nil
}

// Run ticks until ctx is cancelled. Each tick first evicts sessions past
// their pong deadline, then pings every alive session and arms its deadline.
func (h *HeartbeatSupervisor) Run(ctx context.Context) {
	h.logger.Info().
		Dur("interval", h.interval).
		Dur("timeout", h.timeout).
		Msg("Heartbeat supervisor starting...")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("Heartbeat supervisor stopping.")
			h.stopTimers()
			return
		case now := <-ticker.C:
			h.sweep(now)
		}
	}
}

// stopTimers cancels every pending deadline re-check and prevents new ones
// from being armed, so nothing fires against a drained registry after Run
// has returned.
func (h *HeartbeatSupervisor) stopTimers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for timer := range h.timers {
		timer.Stop()
	}
	h.timers = nil
}

func (h *HeartbeatSupervisor) armRecheck() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(h.timeout, func() {
		h.mu.Lock()
		delete(h.timers, timer)
		fired := !h.stopped
		h.mu.Unlock()
		if fired {
			h.evict(time.Now())
		}
	})
	h.timers[timer] = struct{}{}
}

func (h *HeartbeatSupervisor) sweep(now time.Time) {
	h.evict(now)

	deadline := now.Add(h.timeout)
	pinged := false
	for _, session := range h.registry.BeginPing(deadline) {
		if err := session.Ping(deadline); err != nil {
			// The transport is already unwritable; no point waiting out the
			// pong deadline.
			h.logger.Warn().Err(err).Str("session", session.ID).Msg("Ping failed. Evicting session.")
			h.registry.Remove(session.ID)
			_ = session.Close()
			continue
		}
		pinged = true
	}

	// Check again exactly when this cycle's deadline lapses. The next tick
	// would also catch it, but up to a full interval late.
	if pinged {
		h.armRecheck()
	}
}

func (h *HeartbeatSupervisor) evict(now time.Time) {
	for _, session := range h.registry.EvictExpired(now) {
		if err := session.Close(); err != nil {
			h.logger.Debug().Err(err).Str("session", session.ID).Msg("Error closing evicted session.")
		}
	}
}
