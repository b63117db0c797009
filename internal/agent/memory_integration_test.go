//go:build integration

package agent

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisMemory_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 2 * time.Second})
	defer rdb.Close()
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	mem := NewRedisMemory(rdb, RedisMemoryOptions{Prefix: "test-thread:", Limit: 3, TTL: time.Minute})
	thread := uuid.NewString()
	defer rdb.Del(ctx, "test-thread:"+thread)

	require.NoError(t, mem.Append(ctx, thread, UserMessage("u1"), AssistantMessage("a1")))
	require.NoError(t, mem.Append(ctx, thread, UserMessage("u2"), AssistantMessage("a2")))

	got, err := mem.Load(ctx, thread)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "u2", "a2"}, contents(got))
	assert.Equal(t, RoleAssistant, got[0].Role)
	assert.Equal(t, []string{"u2", "a2"}, contents(Resume(got, 10)))
}
