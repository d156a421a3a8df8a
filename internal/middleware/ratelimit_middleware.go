package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/farellandr/ticketlock/internal/helpers"
)

// Token bucket shared across instances via redis. Refills one token per
// interval up to capacity; state expires after a quiet hour.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local interval_ms = tonumber(ARGV[3])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	local elapsed = math.max(0, now_ms - last_refill)
	local refilled = math.floor(elapsed / interval_ms)
	if refilled > 0 then
		tokens = math.min(capacity, tokens + refilled)
		last_refill = last_refill + (refilled * interval_ms)
	end

	local allowed = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	end

	redis.call('HMSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, 3600)

	return { allowed, tokens }
`)

// RateLimitMiddleware throttles per client IP. With no redis client it is a
// no-op, and redis errors fail open: throttling guards the database, it must
// never become the outage itself.
func RateLimitMiddleware(rdb *redis.Client, capacity int, refillInterval time.Duration) gin.HandlerFunc {
	if rdb == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := "ratelimit:" + c.ClientIP()
		args := []interface{}{
			time.Now().UnixMilli(),
			capacity,
			refillInterval.Milliseconds(),
		}

		vals, err := tokenBucketScript.Run(c.Request.Context(), rdb, []string{key}, args...).Int64Slice()
		if err != nil || len(vals) != 2 {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(capacity))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(vals[1], 10))

		if vals[0] != 1 {
			helpers.RespondWithError(c, http.StatusTooManyRequests, "Rate limit exceeded. Please slow down.")
			c.Abort()
			return
		}
		c.Next()
	}
}
