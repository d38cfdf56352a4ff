package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua script for an atomic check-and-increment. Avoids the race of a
// GET, check, INCR sequence under concurrent workers.
const throttleLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current >= limit then
    return {0, current}
end

local updated = redis.call("INCR", key)
if updated == 1 then
    redis.call("EXPIRE", key, ttl)
end
return {1, updated}
`

// Throttle caps per-campaign send rate using a fixed one-minute Redis window.
// A nil *Throttle allows everything.
type Throttle struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	script *redis.Script
}

// NewThrottle creates a campaign send throttle. A limit of zero or below
// disables throttling.
func NewThrottle(client *redis.Client, perMinute int) *Throttle {
	if client == nil || perMinute <= 0 {
		return nil
	}
	return &Throttle{
		redis:  client,
		limit:  perMinute,
		window: time.Minute,
		script: redis.NewScript(throttleLuaScript),
	}
}

// Allow reports whether one more send is permitted for the campaign in the
// current window, incrementing the counter when it is.
func (t *Throttle) Allow(ctx context.Context, campaignID int64) (bool, error) {
	if t == nil {
		return true, nil
	}
	window := time.Now().Unix() / int64(t.window.Seconds())
	key := fmt.Sprintf("throttle:campaign:%d:%d", campaignID, window)

	result, err := t.script.Run(ctx, t.redis, []string{key},
		t.limit, int(t.window.Seconds())+1).Result()
	if err != nil {
		// Redis being down should not halt sending.
		return true, fmt.Errorf("throttle check: %w", err)
	}
	values, ok := result.([]interface{})
	if !ok || len(values) < 1 {
		return true, nil
	}
	allowed, _ := values[0].(int64)
	return allowed == 1, nil
}
