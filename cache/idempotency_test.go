package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func exerciseStore(t *testing.T, s IdempotencyStore) {
	ctx := context.Background()

	first, err := s.MarkProcessed(ctx, "authorize:cart-1:3", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.MarkProcessed(ctx, "authorize:cart-1:3", time.Hour)
	require.NoError(t, err)
	assert.False(t, second)

	done, err := s.IsProcessed(ctx, "authorize:cart-1:3")
	require.NoError(t, err)
	assert.True(t, done)

	_, ok, err := s.Recall(ctx, "authorize:cart-1:3")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Remember(ctx, "authorize:cart-1:3", `{"transaction_id":"42"}`, time.Hour))
	v, ok, err := s.Recall(ctx, "authorize:cart-1:3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"transaction_id":"42"}`, v)

	require.NoError(t, s.Forget(ctx, "authorize:cart-1:3"))
	done, err = s.IsProcessed(ctx, "authorize:cart-1:3")
	require.NoError(t, err)
	assert.False(t, done)
	_, ok, err = s.Recall(ctx, "authorize:cart-1:3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryIdempotencyStore(t *testing.T) {
	exerciseStore(t, NewInMemoryIdempotencyStore())
}

func TestInMemoryExpiry(t *testing.T) {
	s := NewInMemoryIdempotencyStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := s.MarkProcessed(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	done, err := s.IsProcessed(ctx, "k")
	require.NoError(t, err)
	assert.False(t, done)

	ok, err = s.MarkProcessed(ctx, "k", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	now = now.Add(24 * time.Hour)
	done, _ = s.IsProcessed(ctx, "k")
	assert.True(t, done, "zero ttl never expires")
}

func TestRedisIdempotencyStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	s, err := NewRedisIdempotencyStore(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)
}

func TestRedisKeyPrefix(t *testing.T) {
	s := NewRedisIdempotencyStoreWithClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
	defer s.Close()
	assert.Equal(t, defaultKeyPrefix, s.keyPrefix)
}
