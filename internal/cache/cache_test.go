package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func sampleResult() *domain.AgentResult {
	return &domain.AgentResult{
		Agent:          "port-scanner",
		Success:        true,
		Outputs:        map[string]any{"open_ports": float64(2)},
		DurationMs:     42,
		IdempotencyKey: "abc123",
		EmittedEvents:  []string{"e1", "e2"},
	}
}

func TestResultCaches(t *testing.T) {
	_, client := setupTestRedis(t)
	caches := map[string]domain.ResultCache{
		"memory": NewMemoryCache(),
		"redis":  NewRedisCache(client, "", 0, zap.NewNop()),
	}

	for name, c := range caches {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := c.Get(ctx, "abc123")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Set(ctx, "abc123", sampleResult()))
			got, ok, err := c.Get(ctx, "abc123")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, sampleResult(), got)

			n, err := c.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			require.ErrorIs(t, c.Set(ctx, "nil", nil), domain.ErrValidation)
		})
	}
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", sampleResult()))

	got, _, _ := c.Get(ctx, "k")
	got.Success = false

	again, _, _ := c.Get(ctx, "k")
	assert.True(t, again.Success)
}

func TestRedisCache_PrefixAndTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewRedisCache(client, "test:", time.Minute, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", sampleResult()))
	assert.True(t, mr.Exists("test:k"))
	assert.Equal(t, time.Minute, mr.TTL("test:k"))

	require.NoError(t, client.Set(ctx, "other:k", "x", 0).Err())
	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mr.FastForward(2 * time.Minute)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_CorruptEntryIsAMiss(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewRedisCache(client, "", 0, zap.NewNop())
	require.NoError(t, mr.Set(DefaultKeyPrefix+"bad", "{not json"))

	_, ok, err := c.Get(context.Background(), "bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_ConnectionError(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewRedisCache(client, "", 0, zap.NewNop())
	mr.Close()

	_, _, err := c.Get(context.Background(), "k")
	require.Error(t, err)
}
