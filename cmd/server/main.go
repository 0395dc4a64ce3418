package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"registerhub/internal/config"
	"registerhub/internal/infra"
	"registerhub/internal/observability/metrics"
	"registerhub/internal/observability/tracing"
	"registerhub/internal/router"
	"registerhub/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Structured logger: dev pretty, prod JSON
	if cfg.Env != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.OTELEndpoint, "registerhub", cfg.Env)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	store, runFeed, err := infra.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	go runFeed(ctx)

	// Redis is optional: without it the rate limiter is per instance and the
	// stale claim monitor runs everywhere.
	var (
		rdb     *redis.Client
		redisCB *infra.CircuitBreaker
	)
	if cfg.RedisURL != "" {
		rdb, err = infra.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, continuing without it")
			rdb = nil
		} else {
			cbCfg := infra.DefaultCBConfig("redis")
			cbCfg.OnStateChange = func(name string, from, to infra.CBState) {
				metrics.SetBreakerState(name, int(to))
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			}
			redisCB = infra.NewCircuitBreaker(cbCfg)
		}
	}

	monitor := worker.NewStaleClaimMonitor(worker.StaleClaimConfig{
		Registers: store.Registers(),
		RDB:       rdb,
		CB:        redisCB,
		After:     cfg.StaleClaimAfter,
		Interval:  cfg.StaleClaimInterval,
	})
	if err := monitor.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start stale claim monitor")
	}

	r := router.New(cfg, router.Deps{Store: store, Redis: rdb, RedisCB: redisCB})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     otelhttp.NewHandler(r, "registerhub"),
		ReadTimeout: 10 * time.Second,
		// WriteTimeout stays zero: presence sockets are long-lived and set
		// their own per-write deadlines.
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().Str("store", cfg.StoreDriver).Msgf("registerhub listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	monitor.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	// Shutdown does not track hijacked presence sockets; closing the store
	// ends their feeds, which closes them.
	cancel()
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("store close")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
	log.Info().Msg("server exited")
}
