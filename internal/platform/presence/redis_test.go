package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rief3550/go-tracking-relay/pkg/tracking"
)

// memoryRedis is an in-memory stand-in for the narrow redis interface.
type memoryRedis struct {
	values map[string][]byte
	ttls   map[string]time.Duration
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{values: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memoryRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		m.values[key] = v
	case string:
		m.values[key] = []byte(v)
	}
	m.ttls[key] = expiration
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (m *memoryRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if val, ok := m.values[key]; ok {
		cmd.SetVal(string(val))
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (m *memoryRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.values, key)
	}
	return redis.NewIntCmd(ctx)
}

func TestRedisStore_SetFetchDelete(t *testing.T) {
	client := newMemoryRedis()
	store, err := NewRedisStore(client, 2*time.Minute, zerolog.Nop())
	require.NoError(t, err)

	info := tracking.ConnectionInfo{ServerInstanceID: "instance-1", ConnectedAt: 1700000000}
	require.NoError(t, store.Set(context.Background(), "user-1", info))
	assert.Equal(t, 2*time.Minute, client.ttls["presence:user-1"])

	fetched, err := store.Fetch(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, info, fetched)

	require.NoError(t, store.Delete(context.Background(), "user-1"))
	_, err = store.Fetch(context.Background(), "user-1")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestRedisStore_Validation(t *testing.T) {
	_, err := NewRedisStore(nil, time.Minute, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewRedisStore(newMemoryRedis(), 0, zerolog.Nop())
	assert.Error(t, err)
}

func TestRedisStore_WireShape(t *testing.T) {
	client := newMemoryRedis()
	store, err := NewRedisStore(client, time.Minute, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, store.Set(context.Background(), "user-1", tracking.ConnectionInfo{
		ServerInstanceID: "instance-1",
		ConnectedAt:      1700000000,
	}))

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(client.values["presence:user-1"], &wire))
	assert.Equal(t, "instance-1", wire["serverInstanceId"])
	assert.EqualValues(t, 1700000000, wire["connectedAt"])
}
