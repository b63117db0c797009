package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Memory stores the committed messages of each thread.
type Memory interface {
	Load(ctx context.Context, threadID string) ([]Message, error)
	Append(ctx context.Context, threadID string, msgs ...Message) error
}

// InMemory is a process-local Memory.
type InMemory struct {
	mu      sync.Mutex
	threads map[string][]Message
}

// NewInMemory returns an empty InMemory.
func NewInMemory() *InMemory {
	return &InMemory{threads: make(map[string][]Message)}
}

func (m *InMemory) Load(ctx context.Context, threadID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.threads[threadID]...), nil
}

func (m *InMemory) Append(ctx context.Context, threadID string, msgs ...Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[threadID] = append(m.threads[threadID], msgs...)
	return nil
}

// RedisMemory keeps each thread in a Redis list of JSON messages, capped to
// the most recent Limit entries.
type RedisMemory struct {
	rdb    *goredis.Client
	prefix string
	limit  int64
	ttl    time.Duration
}

// RedisMemoryOptions tune a RedisMemory.
type RedisMemoryOptions struct {
	Prefix string        // Key prefix; defaults to "thread:"
	Limit  int           // Messages kept per thread; defaults to 10x MaxMemoryWindow
	TTL    time.Duration // Idle expiry of a thread; zero keeps threads forever
}

// NewRedisMemory returns a Memory on rdb.
func NewRedisMemory(rdb *goredis.Client, opts RedisMemoryOptions) *RedisMemory {
	if opts.Prefix == "" {
		opts.Prefix = "thread:"
	}
	if opts.Limit <= 0 {
		opts.Limit = 10 * MaxMemoryWindow
	}
	return &RedisMemory{rdb: rdb, prefix: opts.Prefix, limit: int64(opts.Limit), ttl: opts.TTL}
}

func (m *RedisMemory) key(threadID string) string { return m.prefix + threadID }

func (m *RedisMemory) Load(ctx context.Context, threadID string) ([]Message, error) {
	raw, err := m.rdb.LRange(ctx, m.key(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(r), &msg); err != nil {
			return nil, fmt.Errorf("decode thread %s: %w", threadID, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *RedisMemory) Append(ctx context.Context, threadID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, len(msgs))
	for i, msg := range msgs {
		b, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		values[i] = b
	}

	key := m.key(threadID)
	pipe := m.rdb.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, -m.limit, -1)
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append thread %s: %w", threadID, err)
	}
	return nil
}
