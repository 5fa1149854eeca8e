package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/dentalacademy/internal/xerrors"
)

// hitScript mirrors MemoryStore.Hit server side so concurrent instances agree.
// Returns {count, pttl, limited}.
var hitScript = redis.NewScript(`
local c = tonumber(redis.call('GET', KEYS[1]) or '0')
if c >= tonumber(ARGV[2]) then
  return {c, redis.call('PTTL', KEYS[1]), 1}
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1]), 0}
`)

// RedisStore shares counters between instances. Keys expire in redis, so Sweep has nothing to do.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, ceiling int) (Entry, bool, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds(), ceiling).Int64Slice()
	if err != nil {
		return Entry{}, false, xerrors.Wrap(err, "ratelimit: redis hit")
	}
	if len(res) != 3 {
		return Entry{}, false, xerrors.Newf("ratelimit: unexpected script reply %v", res)
	}
	return s.entry(res[0], time.Duration(res[1])*time.Millisecond, window), res[2] == 1, nil
}

func (s *RedisStore) Peek(ctx context.Context, key string) (Entry, bool, error) {
	k := s.prefix + key
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, false, xerrors.Wrap(err, "ratelimit: redis peek")
	}
	count, err := get.Int64()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, xerrors.Wrap(err, "ratelimit: redis peek")
	}
	return s.entry(count, ttl.Val(), 0), true, nil
}

func (s *RedisStore) Sweep(context.Context, time.Time) int { return 0 }

// Ping is used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ttl is negative when the key has no expiry, which only happens if a write raced the PEXPIRE.
func (s *RedisStore) entry(count int64, ttl, window time.Duration) Entry {
	if ttl < 0 {
		ttl = window
	}
	return Entry{Count: int(count), Reset: s.now().Add(ttl)}
}
