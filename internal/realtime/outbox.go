// README: Redis-backed outbox for targeted events whose recipient has no live connection.
package realtime

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"fretlink/internal/types"
)

// Outbox queues frames per user until the user's next connection.
type Outbox interface {
	Push(ctx context.Context, userID types.ID, frames ...[]byte) error
	Drain(ctx context.Context, userID types.ID) ([][]byte, error)
}

// NopOutbox drops everything; used when Redis is not configured.
type NopOutbox struct{}

func (NopOutbox) Push(context.Context, types.ID, ...[]byte) error   { return nil }
func (NopOutbox) Drain(context.Context, types.ID) ([][]byte, error) { return nil, nil }

const (
	outboxKeyPrefix = "fretlink:outbox:"
	outboxMaxLen    = 100
)

type RedisOutbox struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisOutbox(rdb *redis.Client, ttl time.Duration) *RedisOutbox {
	return &RedisOutbox{redis: rdb, ttl: ttl}
}

func outboxKey(userID types.ID) string {
	return outboxKeyPrefix + string(userID)
}

// Push appends frames, keeps only the newest outboxMaxLen and refreshes the TTL.
func (o *RedisOutbox) Push(ctx context.Context, userID types.ID, frames ...[]byte) error {
	if len(frames) == 0 {
		return nil
	}
	key := outboxKey(userID)
	vals := make([]any, len(frames))
	for i, f := range frames {
		vals[i] = f
	}
	pipe := o.redis.TxPipeline()
	pipe.RPush(ctx, key, vals...)
	pipe.LTrim(ctx, key, -outboxMaxLen, -1)
	pipe.Expire(ctx, key, o.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Drain returns and removes every queued frame in one transaction.
func (o *RedisOutbox) Drain(ctx context.Context, userID types.ID) ([][]byte, error) {
	key := outboxKey(userID)
	pipe := o.redis.TxPipeline()
	lr := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	vals, err := lr.Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}
