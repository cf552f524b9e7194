package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"fretlink/internal/infra"
	"fretlink/internal/types"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("FRETLINK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FRETLINK_TEST_REDIS_ADDR not set")
	}
	rdb, err := infra.NewRedis(context.Background(), addr)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisOutbox_PushDrain(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	ob := NewRedisOutbox(rdb, time.Minute)
	user := types.ID("outbox-test-" + string(types.NewID()))
	defer rdb.Del(ctx, outboxKey(user))

	if err := ob.Push(ctx, user, []byte("one"), []byte("two")); err != nil {
		t.Fatalf("push: %v", err)
	}
	if ttl := rdb.TTL(ctx, outboxKey(user)).Val(); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected a ttl bounded by a minute, got %v", ttl)
	}

	frames, err := ob.Drain(ctx, user)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(frames) != 2 || string(frames[0]) != "one" || string(frames[1]) != "two" {
		t.Fatalf("expected frames in push order, got %q", frames)
	}
	if again, _ := ob.Drain(ctx, user); len(again) != 0 {
		t.Fatalf("drain must empty the queue, got %q", again)
	}
}

func TestRedisOutbox_BoundedLength(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	ob := NewRedisOutbox(rdb, time.Minute)
	user := types.ID("outbox-test-" + string(types.NewID()))
	defer rdb.Del(ctx, outboxKey(user))

	for i := 0; i < outboxMaxLen+10; i++ {
		if err := ob.Push(ctx, user, []byte{byte(i)}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	frames, _ := ob.Drain(ctx, user)
	if len(frames) != outboxMaxLen || frames[0][0] != 10 {
		t.Fatalf("expected the newest %d frames, got %d starting at %v", outboxMaxLen, len(frames), frames[0])
	}
}
