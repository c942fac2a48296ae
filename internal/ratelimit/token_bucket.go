package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a redis-backed token bucket keyed per teacher, throttling how
// fast one account can submit generation jobs.
type Limiter struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// New constructs a limiter with the provided capacity and refill rate.
func New(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *Limiter {
	return &Limiter{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes one token for the teacher if available.
func (l *Limiter) Allow(ctx context.Context, teacherID string) (bool, error) {
	key := "ratelimit:teacher:" + teacherID
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, l.client, []string{key}, l.capacity, l.refill, now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("run bucket script: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected type from bucket script: %T", res)
	}
	return allowed == 1, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return allowed
`)
