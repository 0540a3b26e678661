package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/relaydesk/channel-server/internal/audit"
	"github.com/relaydesk/channel-server/internal/config"
	apperrors "github.com/relaydesk/channel-server/internal/errors"
)

const (
	rateLimitKeyPrefix = "ratelimit:"
	rateLimitWindow    = 60 * time.Second
)

// rateLimitScript keeps one sorted-set member per request, scored by its
// arrival in milliseconds. Returns {allowed, remaining, resetAtMillis}.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local nowMs = tonumber(ARGV[1])
local windowMs = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', nowMs - windowMs)

local count = redis.call('ZCARD', key)
if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = nowMs + windowMs
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + windowMs
    end
    return {0, 0, resetAt}
end

redis.call('ZADD', key, nowMs, member)
redis.call('PEXPIRE', key, windowMs + 1000)

return {1, limit - count - 1, nowMs + windowMs}
`)

type RedisRateLimiter struct {
	client redis.Scripter
}

func NewRedisRateLimiter(client redis.Scripter) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

// Check records one request for tenantID in a sliding one-minute window and
// reports the reset time in unix seconds. Redis failures fail open.
func (rl *RedisRateLimiter) Check(ctx context.Context, tenantID string, limit int) (allowed bool, remaining int, resetAt int64) {
	now := time.Now()
	key := rateLimitKeyPrefix + tenantID
	fallbackReset := now.Add(rateLimitWindow).Unix()

	result, err := rateLimitScript.Run(ctx, rl.client, []string{key},
		now.UnixMilli(), rateLimitWindow.Milliseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		log.Warn().Err(err).Str("tenantId", tenantID).Msg("redis rate limit check failed, allowing request")
		return true, limit - 1, fallbackReset
	}

	if len(result) != 3 {
		log.Warn().Str("tenantId", tenantID).Msg("unexpected redis rate limit result")
		return true, limit - 1, fallbackReset
	}

	return result[0] == 1, int(result[1]), result[2] / 1000
}

type RedisRateLimitMiddleware struct {
	limiter *RedisRateLimiter
}

func NewRedisRateLimitMiddleware(redisClient redis.Scripter) *RedisRateLimitMiddleware {
	return &RedisRateLimitMiddleware{
		limiter: NewRedisRateLimiter(redisClient),
	}
}

func (m *RedisRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := GetTenant(r.Context())
		if tenant == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := tenant.RateLimitPerMin
		if limit <= 0 {
			limit = config.DefaultRateLimitPerMin
		}

		allowed, remaining, resetAt := m.limiter.Check(r.Context(), tenant.ID, limit)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			log.Warn().Str("tenantId", tenant.ID).Msg("rate limit exceeded")
			audit.LogFromRequest(r, audit.Event{
				Type:     audit.EventRateLimitExceed,
				TenantID: tenant.ID,
				Details:  map[string]interface{}{"limit": limit},
			})
			retryAfter := resetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			writeError(w, apperrors.RateLimitExceeded().WithDetails(map[string]any{
				"limit":   limit,
				"resetAt": resetAt,
			}))
			return
		}

		next.ServeHTTP(w, r)
	})
}
