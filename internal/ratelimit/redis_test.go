package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("DA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DA_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	return NewRedisStore(client, "da-test:"+uuid.NewString()+":")
}

func TestRedisStore_FixedWindow(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		e, limited, err := s.Hit(ctx, "k", 500*time.Millisecond, 3)
		if err != nil || limited || e.Count != i {
			t.Fatalf("hit %d: %+v limited=%v err=%v", i, e, limited, err)
		}
	}
	e, limited, err := s.Hit(ctx, "k", 500*time.Millisecond, 3)
	if err != nil || !limited || e.Count != 3 {
		t.Fatalf("hit 4: %+v limited=%v err=%v", e, limited, err)
	}

	pe, ok, err := s.Peek(ctx, "k")
	if err != nil || !ok || pe.Count != 3 {
		t.Fatalf("peek: %+v ok=%v err=%v", pe, ok, err)
	}

	time.Sleep(600 * time.Millisecond)
	if _, ok, _ := s.Peek(ctx, "k"); ok {
		t.Fatal("key should have expired")
	}
	e, limited, _ = s.Hit(ctx, "k", 500*time.Millisecond, 3)
	if limited || e.Count != 1 {
		t.Fatalf("after expiry: %+v limited=%v", e, limited)
	}
}
