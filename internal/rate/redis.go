package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KEYS[1] sorted set of admitted attempts scored by unix ms.
// KEYS[2] lock key holding the locked-until instant.
// ARGV: now_ms, window_ms, threshold, lockout_ms, member.
const slidingWindowScript = `
local log_key = KEYS[1]
local lock_key = KEYS[2]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])
local lockout = tonumber(ARGV[4])

local until_ms = tonumber(redis.call("GET", lock_key) or "0")
if until_ms > now then
  return {0, until_ms - now, 0}
end

redis.call("ZREMRANGEBYSCORE", log_key, "-inf", now - window)
local count = redis.call("ZCARD", log_key)
if count >= threshold then
  local oldest = redis.call("ZRANGE", log_key, 0, 0, "WITHSCORES")
  local locked = tonumber(oldest[2]) + window
  if lockout > 0 and now + lockout > locked then
    locked = now + lockout
  end
  redis.call("SET", lock_key, string.format("%.0f", locked), "PX", locked - now)
  return {0, locked - now, 0}
end

redis.call("ZADD", log_key, now, ARGV[5])
redis.call("PEXPIRE", log_key, window)
return {1, 0, threshold - count - 1}
`

var slidingWindowLua = redis.NewScript(slidingWindowScript)

// RedisStore keeps attempt logs in sorted sets.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store using keys under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "authcore:"
	}
	return &RedisStore{redis: client, prefix: prefix + "rl:"}
}

// Both keys share a hash tag so the script stays on one cluster slot.
func (s *RedisStore) keys(key string) []string {
	tagged := s.prefix + "{" + key + "}"
	return []string{tagged, tagged + ":lock"}
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, p Policy) (Decision, error) {
	res, err := slidingWindowLua.Run(ctx, s.redis, s.keys(key),
		now.UnixMilli(),
		p.Window.Milliseconds(),
		p.Threshold,
		p.Lockout.Milliseconds(),
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: invalid limiter script response", ErrUnavailable)
	}
	return Decision{
		Allowed:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
		Remaining:  int(res[2]),
	}, nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.keys(key)...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
