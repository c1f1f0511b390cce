package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/patient-records/internal/config"
	"github.com/iliyamo/patient-records/pkg/sl"
)

// Request classes. Writes rewrite the whole dataset and get their own,
// smaller bucket.
const (
	classRead  = "read"
	classWrite = "write"
)

// takeToken refills the bucket at KEYS[1] for the whole intervals elapsed
// since the last refill and takes one token if there is one.
// ARGV: now_ms, capacity, refill_tokens, interval_ms, ttl_seconds.
// Returns {allowed, tokens_left, retry_after_ms}.
var takeToken = redis.NewScript(`
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill = tonumber(ARGV[3])
local interval = tonumber(ARGV[4])

local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'refilled_at')
local tokens = tonumber(bucket[1]) or capacity
local refilled_at = tonumber(bucket[2]) or now

local steps = math.floor(math.max(0, now - refilled_at) / interval)
if steps > 0 then
  tokens = math.min(capacity, tokens + steps * refill)
  refilled_at = refilled_at + steps * interval
end

local allowed, wait = 0, 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.max(0, interval - (now - refilled_at))
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'refilled_at', refilled_at)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[5]))
return {allowed, tokens, wait}
`)

// bucketReply is the decoded result of takeToken.
type bucketReply struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// NewTokenBucket limits /pacientes requests per client with token buckets
// kept in Redis. Redis errors let the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *slog.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}
	if log == nil {
		log = slog.Default()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			class := requestClass(c.Request().Method)
			capacity := bucketCapacity(cfg, class)
			key := buildRateKey(cfg, c)

			raw, err := takeToken.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(),
				capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				int64(cfg.TTL/time.Second),
			).Result()
			if err != nil {
				log.Warn("rate limit check failed", sl.Err(err), slog.String("key", key))
				return next(c)
			}
			reply, ok := parseBucketReply(raw)
			if !ok {
				log.Warn("unexpected rate limit reply", slog.String("key", key), slog.Any("reply", raw))
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(reply.Remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if reply.Allowed {
				return next(c)
			}

			secs := retryAfterSeconds(reply.RetryAfter)
			h.Set("Retry-After", strconv.Itoa(secs))
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "Demasiadas solicitudes",
				"retry_after": secs,
			})
		}
	}
}

func requestClass(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return classRead
	}
	return classWrite
}

func bucketCapacity(cfg config.RateLimitConfig, class string) int {
	if class == classWrite && cfg.WriteCapacity > 0 {
		return cfg.WriteCapacity
	}
	return cfg.Capacity
}

// buildRateKey names the bucket a request draws from. Strategies:
//
//	ip        one bucket per client
//	ip_class  one bucket per client and request class (default)
//	ip_route  one bucket per client and route, e.g. "PUT /pacientes/:id"
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	parts := []string{cfg.Prefix, "ip", ip}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
	case "ip_route":
		parts = append(parts, "route", c.Request().Method+" "+c.Path())
	default:
		parts = append(parts, requestClass(c.Request().Method))
	}
	return strings.Join(parts, ":")
}

func parseBucketReply(raw any) (bucketReply, bool) {
	arr, ok := raw.([]any)
	if !ok || len(arr) != 3 {
		return bucketReply{}, false
	}
	allowed, ok1 := arr[0].(int64)
	remaining, ok2 := arr[1].(int64)
	wait, ok3 := arr[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return bucketReply{}, false
	}
	return bucketReply{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(wait) * time.Millisecond,
	}, true
}

// retryAfterSeconds rounds d up to whole seconds for the Retry-After header.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
