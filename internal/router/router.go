package router

import (
	"time"

	"registerhub/internal/config"
	"registerhub/internal/handler"
	"registerhub/internal/infra"
	"registerhub/internal/middleware"
	"registerhub/internal/model"
	"registerhub/internal/observability/metrics"
	"registerhub/internal/repository"
	"registerhub/internal/service"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Deps are the long-lived dependencies built in main. Redis and its breaker
// are nil when REDIS_URL is empty.
type Deps struct {
	Store   repository.Store
	Redis   *redis.Client
	RedisCB *infra.CircuitBreaker
}

// New wires all dependencies and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← Store
func New(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(middleware.ErrorHandler())
	if deps.Redis != nil && deps.RedisCB != nil {
		r.Use(middleware.RedisRateLimiter(deps.Redis, deps.RedisCB, cfg.RateLimitPerMinute, time.Minute))
	} else {
		r.Use(middleware.RateLimiter(cfg.RateLimitPerMinute, time.Minute))
	}

	// ── Services ─────────────────────────────────────────────────────────────
	st := deps.Store
	authSvc := service.NewAuthService(st.Users(), cfg)
	registerSvc := service.NewRegisterService(st.Registers(), nil)
	sessionSvc := service.NewSessionService(registerSvc, st.Sessions(), st.Claims(), nil)
	presenceSvc := service.NewPresenceService(st.Registers(), st.Sessions(), st.Feed(), nil)

	// ── Handlers ─────────────────────────────────────────────────────────────
	authH := handler.NewAuthHandler(authSvc)
	registersH := handler.NewRegistersHandler(registerSvc, sessionSvc)
	sessionsH := handler.NewSessionsHandler(sessionSvc)
	presenceH := handler.NewPresenceHandler(presenceSvc, cfg.AllowedOrigins())

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(st, deps.Redis, deps.RedisCB))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth (public)
	auth := r.Group("/v1/auth")
	{
		auth.POST("/login", middleware.LoginRateLimiter(), authH.Login)
		auth.POST("/refresh", authH.Refresh)
	}

	everyone := middleware.RequireRole(model.RoleCashier, model.RoleSupervisor, model.RoleAdmin)
	managers := middleware.RequireRole(model.RoleSupervisor, model.RoleAdmin)
	admins := middleware.RequireRole(model.RoleAdmin)
	sessionWrites := middleware.CallerRateLimiter(sessionWriteLimit(cfg), time.Minute)

	// Protected routes
	v1 := r.Group("/v1", middleware.JWTAuth(cfg.JWTSecret))
	{
		regs := v1.Group("/registers")
		{
			regs.GET("", everyone, registersH.List)
			regs.GET("/:id", everyone, registersH.Get)
			regs.GET("/:id/status", everyone, registersH.Status)
			regs.POST("", admins, registersH.Create)
			regs.PATCH("/:id", managers, registersH.Update)
			regs.DELETE("/:id", admins, registersH.Delete)
		}

		sess := v1.Group("/sessions")
		{
			sess.POST("", everyone, sessionWrites, sessionsH.Start)
			sess.POST("/switch", everyone, sessionWrites, sessionsH.Switch)
			sess.GET("/active", everyone, sessionsH.Active)
			sess.GET("", managers, sessionsH.List)
			sess.GET("/:id", everyone, sessionsH.Get)
			sess.POST("/:id/close", everyone, sessionWrites, sessionsH.Close)
			sess.POST("/:id/sales", everyone, sessionWrites, sessionsH.RecordSale)
		}

		v1.GET("/presence", everyone, presenceH.Snapshot)
		v1.GET("/presence/ws", everyone, presenceH.Watch)
	}

	// Swagger UI, only enabled outside production
	if cfg.Env != "production" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}

func sessionWriteLimit(cfg *config.Config) int {
	if cfg.SessionRateLimitPerMinute > 0 {
		return cfg.SessionRateLimitPerMinute
	}
	return 60
}
