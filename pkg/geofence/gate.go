package geofence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ForwardGate bounds how often positions for one voyage may be
// forwarded to the authority. Control point crossings bypass the gate;
// everything else consumes a token.
type ForwardGate interface {
	Allow(ctx context.Context, voyageID string) (bool, error)
}

// LocalGate is an in-process gate: one token per interval per voyage.
// Suitable for single-instance deployments.
type LocalGate struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time
	limiters map[string]*rate.Limiter
}

// NewLocalGate creates a gate allowing one forward per interval.
func NewLocalGate(interval time.Duration) *LocalGate {
	return &LocalGate{
		interval: interval,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (g *LocalGate) Allow(_ context.Context, voyageID string) (bool, error) {
	g.mu.Lock()
	lim, ok := g.limiters[voyageID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(g.interval), 1)
		g.limiters[voyageID] = lim
	}
	now := g.now()
	g.mu.Unlock()
	return lim.AllowN(now, 1), nil
}

// forwardBucketScript runs the token bucket atomically in Redis so
// multiple gateway instances share one suppression window per voyage.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = current unix timestamp (seconds)
// ARGV[4] = key TTL (seconds)
var forwardBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)

return allowed
`)

// RedisGate shares the forward window across instances through Redis.
type RedisGate struct {
	client   *redis.Client
	interval time.Duration
}

// NewRedisGate creates a distributed gate allowing one forward per
// interval per voyage.
func NewRedisGate(client *redis.Client, interval time.Duration) *RedisGate {
	return &RedisGate{client: client, interval: interval}
}

func (g *RedisGate) Allow(ctx context.Context, voyageID string) (bool, error) {
	key := "geofence:forward:" + voyageID
	perSecond := 1.0 / g.interval.Seconds()
	now := float64(time.Now().UnixMicro()) / 1e6
	ttl := int(g.interval.Seconds()*2) + 1

	res, err := forwardBucketScript.Run(ctx, g.client, []string{key}, perSecond, 1, now, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("geofence: redis gate: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("geofence: unexpected gate reply %T", res)
	}
	return allowed == 1, nil
}
