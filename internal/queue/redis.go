package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// pollTimeout bounds a single BRPOP so Receive notices Close.
const pollTimeout = 5 * time.Second

// RedisQueue is a queue on a Redis list: LPUSH to publish, BRPOP to receive.
type RedisQueue struct {
	rdb    *goredis.Client
	key    string
	owned  bool
	closed atomic.Bool
	logger *slog.Logger
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*goredis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:                  addr,
		DialTimeout:           5 * time.Second,
		ContextTimeoutEnabled: true,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewRedisQueue returns a queue on the list named key. The client is shared
// and not closed by Close.
func NewRedisQueue(rdb *goredis.Client, key string, logger *slog.Logger) *RedisQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{
		rdb:    rdb,
		key:    key,
		logger: logger.With("queue", key),
	}
}

// DialRedisQueue connects to addr and returns a queue that owns the client.
func DialRedisQueue(ctx context.Context, addr, key string, logger *slog.Logger) (*RedisQueue, error) {
	rdb, err := NewRedisClient(ctx, addr)
	if err != nil {
		return nil, err
	}
	q := NewRedisQueue(rdb, key, logger)
	q.owned = true
	return q, nil
}

func (q *RedisQueue) Publish(ctx context.Context, body []byte) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if err := q.rdb.LPush(ctx, q.key, body).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", q.key, err)
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context) (Delivery, error) {
	for {
		if q.closed.Load() {
			return Delivery{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}
		res, err := q.rdb.BRPop(ctx, pollTimeout, q.key).Result()
		switch {
		case err == nil:
			// BRPOP replies [key, value].
			if len(res) != 2 {
				q.logger.Warn("Unexpected BRPOP reply", "reply", res)
				continue
			}
			return Delivery{Queue: q.key, Body: []byte(res[1])}, nil
		case errors.Is(err, goredis.Nil):
			continue
		case ctx.Err() != nil:
			return Delivery{}, ctx.Err()
		case errors.Is(err, goredis.ErrClosed):
			return Delivery{}, ErrClosed
		default:
			return Delivery{}, fmt.Errorf("receive from %s: %w", q.key, err)
		}
	}
}

// Len returns the number of pending messages.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Close() error {
	if q.closed.Swap(true) || !q.owned {
		return nil
	}
	return q.rdb.Close()
}
