package entities

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// TestIngestor_Apply verifies only real changes reach listeners.
func TestIngestor_Apply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ingestor := NewIngestor(NewMemoryStore())

	var changes []Change

	ingestor.AddListener(ListenerFunc(func(_ context.Context, change Change) {
		changes = append(changes, change)
	}))

	_, changed, err := ingestor.Apply(ctx, Update{EntityID: "door", State: "off"})
	require.NoError(t, err)
	require.True(t, changed)

	_, changed, err = ingestor.Apply(ctx, Update{EntityID: "door", State: "off"})
	require.NoError(t, err)
	require.False(t, changed)

	_, _, err = ingestor.Apply(ctx, Update{EntityID: "door", State: "on"})
	require.NoError(t, err)

	_, _, err = ingestor.Apply(ctx, Update{EntityID: " "})
	require.Error(t, err)

	require.Equal(t, []Change{
		{EntityID: "door", Current: "off"},
		{EntityID: "door", Previous: "off", Known: true, Current: "on"},
	}, changes)

	snapshot, err := ingestor.Store().Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"door": "on"}, snapshot)
}

// TestDecodeUpdate verifies message decoding.
func TestDecodeUpdate(t *testing.T) {
	t.Parallel()

	u, err := DecodeUpdate([]byte(`{"entity_id":"binary_sensor.door","state":"on"}`))
	require.NoError(t, err)
	require.Equal(t, Update{EntityID: "binary_sensor.door", State: "on"}, u)

	_, err = DecodeUpdate([]byte(`{"state":"on"}`))
	require.Error(t, err)

	_, err = DecodeUpdate([]byte(`nope`))
	require.Error(t, err)
}

// TestRedisStore verifies the hash round trip against a live Redis.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, "alarm_panel_test:")
	require.NoError(t, client.Del(ctx, store.key).Err())

	_, ok, err := store.Get(ctx, "door")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "door", "open"))

	state, ok, err := store.Get(ctx, "door")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "open", state)

	snapshot, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"door": "open"}, snapshot)
}
