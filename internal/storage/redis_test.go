package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// 需要真实的Redis：RK_TEST_REDIS_ADDR=localhost:6379，使用第15号库并在前后清空
func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("RK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RK_TEST_REDIS_ADDR 未设置，跳过Redis测试")
	}

	opts, err := ParseRedisURL(addr, 15)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	store := NewRedisStore(client, zap.NewNop())
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, client.FlushDB(ctx).Err())
	return store
}

func TestRedisFlags(t *testing.T) {
	exerciseFlags(t, newTestRedis(t))
}

func TestParseRedisURL(t *testing.T) {
	opts, err := ParseRedisURL("localhost:6379", 2)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)

	opts, err = ParseRedisURL("redis://:secret@cache:6380/4", 0)
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 4, opts.DB)

	_, err = ParseRedisURL("redis://cache:6380/notadb", 0)
	assert.Error(t, err)
}
