package resilience

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"scrape-orchestrator/internal/apperr"
)

// Limiter is a fixed-window rate limiter backed by Redis, shared by every
// process that talks to the same downstream. Calls beyond the window budget
// fail fast; nothing queues.
type Limiter struct {
	client      *redis.Client
	maxRequests int
	window      time.Duration
}

// NewLimiter constructs a limiter allowing maxRequests per window.
func NewLimiter(client *redis.Client, maxRequests int, window time.Duration) *Limiter {
	return &Limiter{
		client:      client,
		maxRequests: maxRequests,
		window:      window,
	}
}

// Allow consumes one slot under the given key for the current window.
// Returns the remaining budget when allowed.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int, error) {
	now := time.Now().UnixMilli()
	res, err := windowScript.Run(ctx, l.client, []string{key}, l.maxRequests, l.window.Milliseconds(), now).Result()
	if err != nil {
		return false, 0, apperr.Wrap(apperr.CodeTransient, "ratelimit.allow", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, apperr.New(apperr.CodeInternal, "ratelimit.allow", "unexpected script reply %T", res)
	}
	allowed := arr[0].(int64) == 1
	remaining := int(arr[1].(int64))
	return allowed, remaining, nil
}

var windowScript = redis.NewScript(`
local key = KEYS[1]
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = key .. ':' .. math.floor(now / window)
local count = redis.call('INCR', bucket)
if count == 1 then
  redis.call('PEXPIRE', bucket, window)
end

if count > max then
  return {0, 0}
end
return {1, max - count}
`)
