package app

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/yungbote/dgnl-backend/internal/clients/irt"
	"github.com/yungbote/dgnl-backend/internal/jobs/pipeline/irt_calculate"
	"github.com/yungbote/dgnl-backend/internal/jobs/pipeline/trial_score"
	jobruntime "github.com/yungbote/dgnl-backend/internal/jobs/runtime"
	"github.com/yungbote/dgnl-backend/internal/jobs/scheduler"
	"github.com/yungbote/dgnl-backend/internal/jobs/worker"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
	"github.com/yungbote/dgnl-backend/internal/platform/queue"
	"github.com/yungbote/dgnl-backend/internal/platform/redislock"
	"github.com/yungbote/dgnl-backend/internal/services"
)

const (
	// irtJobOverhead covers the store reads and writes around the IRT call.
	irtJobOverhead    = 2 * time.Minute
	scoringJobTimeout = 2 * time.Minute
)

func wireWorker(db *gorm.DB, log *logger.Logger, cfg Config, r Repos, q *queue.Queue) (*worker.Worker, error) {
	log.Info("Wiring job worker...")
	irtClient, err := irt.New(cfg.irtConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("init IRT client (IRT_API_URL): %w", err)
	}

	registry := jobruntime.NewRegistry()
	handlers := []jobruntime.Handler{
		irt_calculate.New(db, log, r.Test, r.Question, r.Trial, irtClient, irt_calculate.Options{
			StaleAfter: cfg.IRT.InFlightStale,
		}),
		trial_score.New(db, log, r.Trial, r.Question),
	}
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return nil, err
		}
	}

	w := worker.NewWorker(log, q, registry)
	w.Subscribe(queue.IRTQueue, worker.Options{
		Concurrency:  cfg.IRT.WorkerConcurrency,
		PollInterval: cfg.Queue.PollInterval,
		JobTimeout:   cfg.irtConfig().CallBudget() + irtJobOverhead,
		Heartbeat:    cfg.leaseHeartbeat(),
	})
	var limiter *rate.Limiter
	if cfg.Scoring.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Scoring.RatePerSec), 1)
	}
	w.Subscribe(queue.ScoringQueue, worker.Options{
		Concurrency:  cfg.Scoring.WorkerConcurrency,
		PollInterval: cfg.Queue.PollInterval,
		Limiter:      limiter,
		JobTimeout:   scoringJobTimeout,
		Heartbeat:    cfg.leaseHeartbeat(),
	})
	return w, nil
}

func wireScheduler(log *logger.Logger, cfg Config, r Repos, locker *redislock.Locker, jobs services.JobService) (*scheduler.Scheduler, error) {
	log.Info("Wiring IRT scheduler...")
	return scheduler.New(log, r.Test, locker, jobs, scheduler.Config{
		Cron:          cfg.IRT.ScheduleCron,
		LockTTL:       cfg.IRT.LockTTL,
		InFlightStale: cfg.IRT.InFlightStale,
	})
}
