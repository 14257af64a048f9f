package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rief3550/go-tracking-relay/pkg/tracking"
)

// fakeTransport records sends and closes for assertions.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	sendErr error
	pingErr error
	onPing  func()
}

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) Ping(time.Time) error {
	f.mu.Lock()
	onPing := f.onPing
	err := f.pingErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if onPing != nil {
		onPing()
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type mockPresenceStore struct {
	mock.Mock
}

func (m *mockPresenceStore) Set(ctx context.Context, subjectID string, info tracking.ConnectionInfo) error {
	args := m.Called(ctx, subjectID, info)
	return args.Error(0)
}

func (m *mockPresenceStore) Delete(ctx context.Context, subjectID string) error {
	args := m.Called(ctx, subjectID)
	return args.Error(0)
}

func testSession(id, subject, scope string) (*Session, *fakeTransport) {
	transport := &fakeTransport{}
	identity := tracking.TokenClaims{SubjectID: subject, UserID: subject}
	return NewSession(id, identity, scope, transport), transport
}

func testRegistry() *Registry {
	return NewRegistry("instance-1", nil, zerolog.Nop())
}

func TestRegistry_RegisterAndRemove(t *testing.T) {
	r := testRegistry()
	session, _ := testSession("s1", "user-1", ScopeAll)

	r.Register(session)
	assert.Equal(t, 1, r.Len())

	r.Remove("s1")
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := testRegistry()
	session, _ := testSession("s1", "user-1", ScopeAll)
	r.Register(session)

	r.Remove("s1")
	require.Equal(t, 0, r.Len())

	// Removing again, or removing an ID that never existed, must not panic
	// and must leave the registry unchanged.
	r.Remove("s1")
	r.Remove("never-registered")
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_TouchRevivesAwaitingSession(t *testing.T) {
	r := testRegistry()
	session, _ := testSession("s1", "user-1", ScopeAll)
	r.Register(session)

	deadline := time.Now().Add(time.Minute)
	pinged := r.BeginPing(deadline)
	require.Len(t, pinged, 1)

	before := session.lastSeenAt
	r.Touch("s1")

	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Equal(t, stateAlive, session.state)
	assert.False(t, session.lastSeenAt.Before(before))
}

func TestRegistry_ForEachMatchingScopes(t *testing.T) {
	r := testRegistry()
	all, _ := testSession("s-all", "user-1", ScopeAll)
	crew, _ := testSession("s-crew", "user-2", "crew:c9")
	other, _ := testSession("s-other", "user-3", "crew:c1")
	r.Register(all)
	r.Register(crew)
	r.Register(other)

	var matched []string
	r.ForEachMatching([]string{"order:o1", "crew:c9"}, func(s *Session) { matched = append(matched, s.ID) })
	assert.ElementsMatch(t, []string{"s-all", "s-crew"}, matched)

	// A narrowed scope filters: an event for another crew only reaches the
	// "all" session.
	matched = nil
	r.ForEachMatching([]string{"order:o2", "crew:c5"}, func(s *Session) { matched = append(matched, s.ID) })
	assert.ElementsMatch(t, []string{"s-all"}, matched)
}

func TestRegistry_BeginPingSkipsAwaitingSessions(t *testing.T) {
	r := testRegistry()
	session, _ := testSession("s1", "user-1", ScopeAll)
	r.Register(session)

	first := r.BeginPing(time.Now().Add(time.Minute))
	require.Len(t, first, 1)

	// Still awaiting a pong: the next cycle must not re-arm its deadline.
	second := r.BeginPing(time.Now().Add(2 * time.Minute))
	assert.Empty(t, second)
}

func TestRegistry_EvictExpired(t *testing.T) {
	r := testRegistry()
	stale, _ := testSession("s-stale", "user-1", ScopeAll)
	fresh, _ := testSession("s-fresh", "user-2", ScopeAll)
	r.Register(stale)
	r.Register(fresh)

	r.BeginPing(time.Now().Add(10 * time.Millisecond))
	r.Touch("s-fresh")

	evicted := r.EvictExpired(time.Now().Add(time.Second))
	require.Len(t, evicted, 1)
	assert.Equal(t, "s-stale", evicted[0].ID)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Drain(t *testing.T) {
	r := testRegistry()
	for i := 0; i < 3; i++ {
		session, _ := testSession(fmt.Sprintf("s%d", i), fmt.Sprintf("user-%d", i), ScopeAll)
		r.Register(session)
	}

	drained := r.Drain()
	assert.Len(t, drained, 3)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_PresenceLifecycle(t *testing.T) {
	presence := new(mockPresenceStore)
	presence.On("Set", mock.Anything, "user-1", mock.AnythingOfType("tracking.ConnectionInfo")).Return(nil).Once()
	presence.On("Delete", mock.Anything, "user-1").Return(nil).Once()

	r := NewRegistry("instance-1", presence, zerolog.Nop())
	session, _ := testSession("s1", "user-1", ScopeAll)

	r.Register(session)
	r.Remove("s1")

	presence.AssertExpectations(t)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := testRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", n)
			session, _ := testSession(id, fmt.Sprintf("user-%d", n), ScopeAll)
			r.Register(session)
			r.Touch(id)
			r.ForEachMatching([]string{"order:o1"}, func(s *Session) {})
			r.Remove(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}
