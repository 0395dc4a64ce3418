package handler

import (
	"context"
	"net/http"
	"time"

	"registerhub/internal/infra"
	"registerhub/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Health returns a JSON health check response.
// Only the store is required; Redis is optional and its breaker state is
// reported. Never exposes credentials or internals.
func Health(store repository.Store, rdb *redis.Client, redisCB *infra.CircuitBreaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		storeStatus := "connected"
		if store.Ping(ctx) != nil {
			storeStatus = "error"
		}

		redisStatus := "disabled"
		if rdb != nil {
			redisStatus = "connected"
			if rdb.Ping(ctx).Err() != nil {
				redisStatus = "error"
			}
		}

		status := http.StatusOK
		if storeStatus != "connected" {
			status = http.StatusServiceUnavailable
		}

		body := gin.H{
			"ok":    status == http.StatusOK,
			"store": storeStatus,
			"redis": redisStatus,
		}
		if redisCB != nil {
			body["redis_breaker"] = redisCB.State().String()
		}
		c.JSON(status, body)
	}
}
