package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"registerhub/internal/apierror"
	"registerhub/internal/infra"
	"registerhub/internal/observability/metrics"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ── Window limiter ────────────────────────────────────────────────────────────

// windowLimiter counts hits per key in fixed windows. One instance backs each
// middleware below.
type windowLimiter struct {
	limit   int
	window  time.Duration
	mu      sync.Mutex
	entries map[string]*windowEntry
}

type windowEntry struct {
	count     int
	windowEnd time.Time
}

var (
	limiters   []*windowLimiter
	limitersMu sync.Mutex
)

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	l := &windowLimiter{limit: limit, window: window, entries: make(map[string]*windowEntry)}
	limitersMu.Lock()
	limiters = append(limiters, l)
	limitersMu.Unlock()
	return l
}

// allow records one hit for key and reports whether it is within the limit,
// together with the end of the current window.
func (l *windowLimiter) allow(key string, now time.Time) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || now.After(e.windowEnd) {
		e = &windowEntry{windowEnd: now.Add(l.window)}
		l.entries[key] = e
	}
	e.count++
	return e.count <= l.limit, e.windowEnd
}

func (l *windowLimiter) purge(now time.Time) (purged, remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if now.After(e.windowEnd) {
			delete(l.entries, key)
			purged++
		}
	}
	return purged, len(l.entries)
}

func limitBy(l *windowLimiter, key func(*gin.Context) string, detail string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, resetAt := l.allow(key(c), time.Now())
		if !ok {
			c.Header("Retry-After", strconv.Itoa(max(1, int(time.Until(resetAt).Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.WithCode("rate_limited", detail))
			return
		}
		c.Next()
	}
}

func clientIPKey(c *gin.Context) string { return "ip:" + c.ClientIP() }

// callerKey prefers the authenticated user: the cashiers of one store usually
// share a public IP.
func callerKey(c *gin.Context) string {
	if v, ok := c.Get(ClaimsKey); ok {
		if claims, ok := v.(*JWTClaims); ok && claims.UserID != "" {
			return "user:" + claims.UserID
		}
	}
	return clientIPKey(c)
}

// LoginRateLimiter limits login attempts to 20 per minute per IP.
func LoginRateLimiter() gin.HandlerFunc {
	return limitBy(newWindowLimiter(20, time.Minute), clientIPKey, "too many login attempts, try again in a minute")
}

// RateLimiter is the per-instance limiter keyed by client IP. It is used
// directly when no Redis is configured and as the fallback of RedisRateLimiter.
func RateLimiter(limit int, window time.Duration) gin.HandlerFunc {
	return limitBy(newWindowLimiter(limit, window), clientIPKey, "too many requests, try again shortly")
}

// CallerRateLimiter bounds session writes (start, close, switch, sales) per
// user. It runs after JWTAuth.
func CallerRateLimiter(limit int, window time.Duration) gin.HandlerFunc {
	return limitBy(newWindowLimiter(limit, window), callerKey, "too many session requests, slow down")
}

// ── Distributed rate limiter ──────────────────────────────────────────────────

const redisLimiterTimeout = 200 * time.Millisecond

// RedisRateLimiter counts requests per client IP in a fixed Redis window so the
// limit holds across instances. Redis calls go through cb; when Redis fails or
// the breaker is open the request falls back to the local limiter.
func RedisRateLimiter(rdb *redis.Client, cb *infra.CircuitBreaker, limit int, window time.Duration) gin.HandlerFunc {
	local := RateLimiter(limit, window)
	return func(c *gin.Context) {
		key := "registerhub:ratelimit:" + c.ClientIP()

		var count int64
		err := cb.Execute(func() error {
			ctx, cancel := context.WithTimeout(c.Request.Context(), redisLimiterTimeout)
			defer cancel()
			pipe := rdb.TxPipeline()
			incr := pipe.Incr(ctx, key)
			pipe.ExpireNX(ctx, key, window)
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			count = incr.Val()
			return nil
		})
		if err != nil {
			metrics.IncRateLimitDegraded()
			log.Debug().Err(err).Str("breaker", cb.Name()).Msg("rate limiter degraded to local window")
			local(c)
			return
		}

		if count > int64(limit) {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.WithCode("rate_limited", "too many requests, try again shortly"))
			return
		}
		c.Next()
	}
}

// ── Purge goroutine ───────────────────────────────────────────────────────────
// Drops expired windows so keys that never come back do not accumulate.

const purgeInterval = 5 * time.Minute

func init() {
	go purgeExpiredEntries()
}

func purgeExpiredEntries() {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		limitersMu.Lock()
		all := append([]*windowLimiter(nil), limiters...)
		limitersMu.Unlock()

		purged, remaining := 0, 0
		for _, l := range all {
			p, r := l.purge(now)
			purged += p
			remaining += r
		}
		if purged > 0 {
			log.Debug().
				Int("entries_purged", purged).
				Int("entries_remaining", remaining).
				Msg("rate limiter windows purged")
		}
	}
}
