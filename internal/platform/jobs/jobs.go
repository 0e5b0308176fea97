package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mall/internal/domain/lifecycle"
	"mall/internal/domain/ratelimit"
	"mall/internal/platform/config"
)

// Service runs the background compliance schedules: hourly counter resets
// and retention sweeps, daily counter resets, and periodic artifact cleanup.
// Each schedule carries its own overlap guard so a slow run is skipped
// rather than stacked.
type Service struct {
	rates     *ratelimit.Service
	lifecycle *lifecycle.Service
	pool      *pgxpool.Pool
	interval  time.Duration

	hourlyRunning  atomic.Bool
	dailyRunning   atomic.Bool
	cleanupRunning atomic.Bool
}

func New(cfg config.Config, rates *ratelimit.Service, lifecycleSvc *lifecycle.Service, pool *pgxpool.Pool) *Service {
	return &Service{
		rates:     rates,
		lifecycle: lifecycleSvc,
		pool:      pool,
		interval:  cfg.CleanupInterval,
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.loop(ctx, time.Hour, "hourly_maintenance", &s.hourlyRunning, s.runHourly)
	go s.loop(ctx, 24*time.Hour, "daily_maintenance", &s.dailyRunning, s.runDaily)
	go s.loop(ctx, s.interval, "artifact_cleanup", &s.cleanupRunning, s.runCleanup)
	slog.Info("background jobs started",
		"cleanupInterval", s.interval.String())
}

// loop fires run at each interval boundary. The first wait is the remainder
// of the current interval, so hourly and daily runs land when the counter
// buckets roll over instead of at an offset fixed by process start time.
func (s *Service) loop(ctx context.Context, every time.Duration, name string, running *atomic.Bool, run func(context.Context) error) {
	timer := time.NewTimer(untilNextBoundary(time.Now(), every))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if running.CompareAndSwap(false, true) {
			started := time.Now()
			err := run(ctx)
			running.Store(false)
			s.recordRun(ctx, name, started, err)
		} else {
			slog.Warn("previous run still in progress, skipping", "job", name)
		}

		timer.Reset(untilNextBoundary(time.Now(), every))
	}
}

// untilNextBoundary returns the wait until the next multiple of every,
// measured on the UTC clock the counter bucket keys use.
func untilNextBoundary(now time.Time, every time.Duration) time.Duration {
	next := now.Truncate(every).Add(every)
	return next.Sub(now)
}

func (s *Service) runHourly(ctx context.Context) error {
	if err := s.rates.ResetHourly(ctx); err != nil {
		return err
	}
	purged := s.rates.EnforceRetention(ctx)
	if purged > 0 {
		slog.Info("retention sweep purged cached data", "records", purged)
	}
	return nil
}

func (s *Service) runDaily(ctx context.Context) error {
	return s.rates.ResetDaily(ctx)
}

func (s *Service) runCleanup(ctx context.Context) error {
	removed := s.lifecycle.CleanupExpiredArtifacts(ctx)
	if removed > 0 {
		slog.Info("expired export artifacts removed", "count", removed)
	}
	return nil
}

func (s *Service) recordRun(ctx context.Context, name string, started time.Time, runErr error) {
	status := "ok"
	errText := ""
	if runErr != nil {
		status = "error"
		errText = runErr.Error()
		slog.Error("background job failed", "job", name, "error", runErr)
	}
	if s.pool == nil {
		return
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (job_name, started_at, finished_at, status, error)
		VALUES ($1, $2, now(), $3, NULLIF($4, ''))`,
		name, started, status, errText,
	)
	if err != nil {
		slog.Warn("job run bookkeeping failed", "job", name, "error", err)
	}
}
