package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"registerhub/internal/infra"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func hit(r *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":40000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func limitedEngine(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestRateLimiter_LocalWindow(t *testing.T) {
	r := limitedEngine(RateLimiter(3, time.Minute))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, hit(r, "198.51.100.10"))
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "198.51.100.10"))
	assert.Equal(t, http.StatusNoContent, hit(r, "198.51.100.11"), "limits are per client")
}

func TestRedisRateLimiter_FallsBackWhenRedisIsDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	defer rdb.Close()
	cfg := infra.DefaultCBConfig("redis-test")
	cfg.FailureThreshold = 1
	cb := infra.NewCircuitBreaker(cfg)

	r := limitedEngine(RedisRateLimiter(rdb, cb, 2, time.Minute))

	assert.Equal(t, http.StatusNoContent, hit(r, "198.51.100.20"))
	assert.Equal(t, infra.CBOpen, cb.State())
	assert.Equal(t, http.StatusNoContent, hit(r, "198.51.100.20"))
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "198.51.100.20"), "local window still applies")
}

func TestCallerRateLimiter_KeysOnUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set(ClaimsKey, &JWTClaims{UserID: id})
		}
		c.Next()
	})
	r.Use(CallerRateLimiter(2, time.Minute))
	r.POST("/v1/sessions", func(c *gin.Context) { c.Status(http.StatusCreated) })

	start := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
		req.RemoteAddr = "203.0.113.7:5000" // one shared store network
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusCreated, start("alice").Code)
	assert.Equal(t, http.StatusCreated, start("alice").Code)
	w := start("alice")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusCreated, start("bob").Code, "same IP, different user")
	assert.Equal(t, http.StatusCreated, start("").Code, "anonymous falls back to the IP key")
}

func TestWindowLimiter_ResetsAndPurges(t *testing.T) {
	l := newWindowLimiter(1, time.Minute)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	ok, _ := l.allow("k", now)
	assert.True(t, ok)
	ok, _ = l.allow("k", now.Add(time.Second))
	assert.False(t, ok)
	ok, _ = l.allow("k", now.Add(2*time.Minute))
	assert.True(t, ok, "a new window starts after the old one ends")

	purged, remaining := l.purge(now.Add(10 * time.Minute))
	assert.Equal(t, 1, purged)
	assert.Equal(t, 0, remaining)
}
