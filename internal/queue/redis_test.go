//go:build integration

package queue

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

func TestRedisQueue_Integration(t *testing.T) {
	ctx := context.Background()
	key := fmt.Sprintf("test-queue-%s", uuid.NewString())

	q, err := DialRedisQueue(ctx, redisAddr(), key, nil)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer q.Close()
	defer q.rdb.Del(ctx, key)

	require.NoError(t, q.Publish(ctx, []byte("first")))
	require.NoError(t, q.Publish(ctx, []byte("second")))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", string(d.Body))
	d, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", string(d.Body))

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = q.Receive(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
