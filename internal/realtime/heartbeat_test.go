package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHeartbeatSupervisor_ValidatesTiming(t *testing.T) {
	r := testRegistry()

	_, err := NewHeartbeatSupervisor(r, 30*time.Second, 60*time.Second, zerolog.Nop())
	assert.NoError(t, err)

	_, err = NewHeartbeatSupervisor(r, 30*time.Second, 30*time.Second, zerolog.Nop())
	assert.Error(t, err, "timeout equal to interval would evict every session every cycle")

	_, err = NewHeartbeatSupervisor(r, 30*time.Second, 10*time.Second, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewHeartbeatSupervisor(r, 0, time.Second, zerolog.Nop())
	assert.Error(t, err)
}

func TestHeartbeat_EvictsUnresponsiveSession(t *testing.T) {
	r := testRegistry()
	session, transport := testSession("s-dead", "user-1", ScopeAll)
	r.Register(session)

	interval := 20 * time.Millisecond
	timeout := 50 * time.Millisecond
	h, err := NewHeartbeatSupervisor(r, interval, timeout, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	// A session that never pongs must be gone no later than
	// interval + timeout (plus scheduling slack), with its transport closed.
	require.Eventually(t, func() bool {
		return r.Len() == 0 && transport.isClosed()
	}, interval+timeout+200*time.Millisecond, 5*time.Millisecond)
}

func TestHeartbeat_PongingSessionSurvives(t *testing.T) {
	r := testRegistry()
	session, transport := testSession("s-live", "user-1", ScopeAll)
	// Simulate a client whose pong arrives promptly after every ping.
	transport.onPing = func() { r.Touch("s-live") }
	r.Register(session)

	h, err := NewHeartbeatSupervisor(r, 10*time.Millisecond, 25*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, r.Len())
	assert.False(t, transport.isClosed())
}

func TestHeartbeat_StopCancelsPendingRechecks(t *testing.T) {
	r := testRegistry()
	session, transport := testSession("s-late", "user-1", ScopeAll)
	r.Register(session)

	interval := 10 * time.Millisecond
	timeout := 25 * time.Millisecond
	h, err := NewHeartbeatSupervisor(r, interval, timeout, zerolog.Nop())
	require.NoError(t, err)

	// One sweep pings the session and arms a re-check for its deadline.
	h.sweep(time.Now())
	h.mu.Lock()
	armed := len(h.timers)
	h.mu.Unlock()
	require.Equal(t, 1, armed)

	// Stopping cancels the armed re-check: the session is past its pong
	// deadline once the sleep ends, yet nothing fires to evict it.
	h.stopTimers()
	time.Sleep(timeout + 50*time.Millisecond)
	assert.Equal(t, 1, r.Len())
	assert.False(t, transport.isClosed())

	// And no new re-check can be armed after stop.
	h.sweep(time.Now())
	h.mu.Lock()
	assert.Empty(t, h.timers)
	h.mu.Unlock()
}

func TestHeartbeat_PingFailureEvictsImmediately(t *testing.T) {
	r := testRegistry()
	session, transport := testSession("s-broken", "user-1", ScopeAll)
	transport.pingErr = errors.New("broken pipe")
	r.Register(session)

	h, err := NewHeartbeatSupervisor(r, 10*time.Millisecond, 25*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	require.Eventually(t, func() bool {
		return r.Len() == 0 && transport.isClosed()
	}, time.Second, 5*time.Millisecond)
}
