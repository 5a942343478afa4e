package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/dgnl-backend/internal/data/repos"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
	"github.com/yungbote/dgnl-backend/internal/platform/queue"
	"github.com/yungbote/dgnl-backend/internal/platform/redislock"
	"github.com/yungbote/dgnl-backend/internal/services"
)

const DefaultLockKey = "dgnl:lock:irt-scheduler"

// Locker hands out the cross-replica tick lock.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (*redislock.Lease, error)
}

type Config struct {
	// Cron is a standard five-field expression.
	Cron    string
	LockKey string
	// LockTTL must stay below the tick interval so a crashed holder never
	// costs more than one tick.
	LockTTL time.Duration
	// InFlightStale matches the IRT pipeline's claim expiry.
	InFlightStale time.Duration
}

// TickResult summarizes one tick.
type TickResult struct {
	Acquired bool
	Enqueued int
}

type Scheduler struct {
	log      *logger.Logger
	tests    repos.TestRepo
	locker   Locker
	jobs     services.JobService
	cfg      Config
	schedule cron.Schedule
	tracer   trace.Tracer
	now      func() time.Time
}

func New(baseLog *logger.Logger, tests repos.TestRepo, locker Locker, jobs services.JobService, cfg Config) (*Scheduler, error) {
	if strings.TrimSpace(cfg.Cron) == "" {
		cfg.Cron = "* * * * *"
	}
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 50 * time.Second
	}
	if cfg.InFlightStale <= 0 {
		cfg.InFlightStale = 30 * time.Minute
	}
	schedule, err := ParseSchedule(cfg.Cron)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		log:      baseLog.With("component", "IRTScheduler"),
		tests:    tests,
		locker:   locker,
		jobs:     jobs,
		cfg:      cfg,
		schedule: schedule,
		tracer:   otel.Tracer("dgnl/jobs/scheduler"),
		now:      time.Now,
	}, nil
}

func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := cron.ParseStandard(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("invalid IRT schedule %q: %w", expr, err)
	}
	return s, nil
}

// MinInterval is the shortest gap between two consecutive fire times,
// sampled over the next day.
func MinInterval(s cron.Schedule, from time.Time) time.Duration {
	prev := s.Next(from)
	minGap := time.Duration(0)
	for i := 0; i < 1440; i++ {
		next := s.Next(prev)
		if next.IsZero() {
			break
		}
		if gap := next.Sub(prev); minGap == 0 || gap < minGap {
			minGap = gap
		}
		prev = next
	}
	return minGap
}

// Run fires Tick on the cron cadence until ctx is done. Ticks never overlap
// within one process.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("IRT scheduler started", "cron", s.cfg.Cron, "lock_ttl", s.cfg.LockTTL.String())
	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("IRT scheduler stopped")
			return nil
		case <-timer.C:
		}
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("IRT scheduler tick failed", "error", err)
		}
	}
}

// Tick takes the lock, enqueues one IRT job per eligible test and releases
// the lock. When another holder has it, the tick does nothing.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	ctx, span := s.tracer.Start(ctx, "irt.scheduler.tick")
	defer span.End()

	var res TickResult
	lease, err := s.locker.TryAcquire(ctx, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		return res, fmt.Errorf("acquire scheduler lock: %w", err)
	}
	if lease == nil {
		s.log.Debug("Scheduler lock held elsewhere, skipping tick")
		span.SetAttributes(attribute.Bool("irt.lock_acquired", false))
		return res, nil
	}
	res.Acquired = true
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			if errors.Is(err, redislock.ErrNotHeld) {
				s.log.Warn("Scheduler lock expired before release", "lock_ttl", s.cfg.LockTTL.String())
				return
			}
			s.log.Error("Releasing scheduler lock failed", "error", err)
		}
	}()

	now := s.now().UTC()
	candidates, err := s.tests.ListIRTEligible(dbctx.Context{Ctx: ctx}, now, now.Add(-s.cfg.InFlightStale))
	if err != nil {
		return res, fmt.Errorf("scan eligible tests: %w", err)
	}

	var errs []error
	for _, c := range candidates {
		job, err := s.jobs.Enqueue(dbctx.Context{Ctx: ctx}, queue.IRTQueue, services.JobTypeIRTCalculate, map[string]any{
			"testId": c.Test.ID,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("test %s: %w", c.Test.ID, err))
			continue
		}
		res.Enqueued++
		s.log.Info("Enqueued IRT job",
			"test_id", c.Test.ID,
			"title", c.Test.Title,
			"due_time", c.Test.DueTime,
			"pending_trials", c.PendingTrials,
			"job_id", job.ID,
		)
	}
	span.SetAttributes(
		attribute.Bool("irt.lock_acquired", true),
		attribute.Int("irt.eligible", len(candidates)),
		attribute.Int("irt.enqueued", res.Enqueued),
	)
	return res, errors.Join(errs...)
}
