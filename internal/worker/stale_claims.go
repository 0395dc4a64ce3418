package worker

// stale_claims.go
// Periodic job that reports register claims held longer than a threshold.
// It only observes: claims are never released here. With Redis configured, a
// short-lived lock keeps the job to one instance per tick.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"registerhub/internal/infra"
	"registerhub/internal/observability/metrics"
	"registerhub/internal/repository"

	"github.com/go-co-op/gocron"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const staleLockKey = "registerhub:lock:stale-claims"

// StaleClaimConfig holds all dependencies for the monitor. RDB and CB may be
// nil; the job then runs on every instance.
type StaleClaimConfig struct {
	Registers repository.RegisterRepository
	RDB       *redis.Client
	CB        *infra.CircuitBreaker
	After     time.Duration
	Interval  time.Duration
	Now       func() time.Time
}

type StaleClaimMonitor struct {
	cfg   StaleClaimConfig
	sched *gocron.Scheduler
}

func NewStaleClaimMonitor(cfg StaleClaimConfig) *StaleClaimMonitor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.After <= 0 {
		cfg.After = 12 * time.Hour
	}
	return &StaleClaimMonitor{cfg: cfg}
}

// Start schedules the job and returns immediately. ctx bounds each run.
func (m *StaleClaimMonitor) Start(ctx context.Context) error {
	m.sched = gocron.NewScheduler(time.UTC)
	_, err := m.sched.Every(m.cfg.Interval).SingletonMode().Do(func() {
		runCtx, cancel := context.WithTimeout(ctx, m.cfg.Interval)
		defer cancel()
		if _, err := m.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("stale_claims: run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule stale claim monitor: %w", err)
	}
	m.sched.StartAsync()
	log.Info().Dur("after", m.cfg.After).Dur("interval", m.cfg.Interval).Msg("stale_claims: started")
	return nil
}

func (m *StaleClaimMonitor) Stop() {
	if m.sched != nil {
		m.sched.Stop()
		log.Info().Msg("stale_claims: stopped")
	}
}

// Run performs one check. It returns the number of stale claims found, or -1
// when another instance holds the lock for this tick.
func (m *StaleClaimMonitor) Run(ctx context.Context) (int, error) {
	if !m.acquire(ctx) {
		log.Debug().Msg("stale_claims: lock held elsewhere, skipping tick")
		return -1, nil
	}

	now := m.cfg.Now()
	stale, err := m.cfg.Registers.ListClaimedBefore(ctx, now.Add(-m.cfg.After))
	if err != nil {
		return 0, fmt.Errorf("list stale claims: %w", err)
	}
	metrics.SetStaleClaims(len(stale))

	for i := range stale {
		reg := &stale[i]
		claim := reg.Claim()
		log.Warn().
			Str("register_id", reg.ID.String()).
			Str("business_id", reg.BusinessID.String()).
			Str("session_id", claim.SessionID.String()).
			Str("user_id", claim.UserID.String()).
			Dur("held_for", now.Sub(claim.ClaimedAt)).
			Msg("stale_claims: register claimed longer than threshold")
	}
	return len(stale), nil
}

// acquire takes the per-tick lock. A Redis failure lets the run proceed;
// duplicate reports are harmless.
func (m *StaleClaimMonitor) acquire(ctx context.Context) bool {
	if m.cfg.RDB == nil {
		return true
	}
	ttl := m.cfg.Interval / 2
	if ttl < time.Second {
		ttl = time.Second
	}

	acquired := false
	call := func() error {
		ok, err := m.cfg.RDB.SetNX(ctx, staleLockKey, "1", ttl).Result()
		acquired = ok
		return err
	}
	var err error
	if m.cfg.CB != nil {
		err = m.cfg.CB.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		log.Warn().Err(err).Msg("stale_claims: lock unavailable, running unlocked")
		return true
	}
	return acquired
}
