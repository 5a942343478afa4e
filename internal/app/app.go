package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/dgnl-backend/internal/clients/redis"
	"github.com/yungbote/dgnl-backend/internal/data/db"
	"github.com/yungbote/dgnl-backend/internal/observability"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
	"github.com/yungbote/dgnl-backend/internal/platform/queue"
	"github.com/yungbote/dgnl-backend/internal/platform/redislock"
)

// Role selects which long-running parts a process hosts.
type Role struct {
	HTTP      bool
	Workers   bool
	Scheduler bool
}

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *gorm.DB
	Redis    *goredis.Client
	Queue    *queue.Queue
	Locker   *redislock.Locker
	Repos    Repos
	Services Services

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
}

// New connects to Postgres and Redis and wires repos and services. Workers,
// scheduler and HTTP server are built by Run for the requested role.
func New(ctx context.Context, cfg Config) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{Log: log, Cfg: cfg}
	a.otelShutdown = observability.InitOTel(ctx, log, cfg.otelConfig())

	pg, err := db.NewPostgresService(cfg.postgresConfig(), log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	a.pg = pg
	a.DB = pg.DB()

	rdb, err := redis.NewClient(cfg.redisConfig(), log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}
	a.Redis = rdb
	a.Queue = queue.New(rdb, log, cfg.queueOptions())
	a.Locker = redislock.New(rdb)

	a.Repos = wireRepos(a.DB, log)
	a.Services = wireServices(a.DB, log, a.Repos, a.Queue)
	return a, nil
}

func (a *App) Migrate() error {
	if a == nil || a.DB == nil {
		return errors.New("app not initialized")
	}
	a.Log.Info("Running schema migration...")
	return db.AutoMigrateAll(a.DB)
}

// Run hosts the parts selected by role until ctx is cancelled or one of
// them fails. Workers finish their in-flight job before Run returns.
func (a *App) Run(ctx context.Context, role Role) error {
	if a == nil || a.DB == nil {
		return errors.New("app not initialized")
	}
	if !role.HTTP && !role.Workers && !role.Scheduler {
		return errors.New("nothing to run: HTTP, workers and scheduler are all disabled")
	}
	g, gctx := errgroup.WithContext(ctx)

	if role.Workers {
		w, err := wireWorker(a.DB, a.Log, a.Cfg, a.Repos, a.Queue)
		if err != nil {
			return err
		}
		w.Start(gctx)
		g.Go(func() error {
			<-gctx.Done()
			w.Wait()
			a.Log.Info("Job workers stopped")
			return nil
		})
	}

	if role.Scheduler {
		s, err := wireScheduler(a.Log, a.Cfg, a.Repos, a.Locker, a.Services.Jobs)
		if err != nil {
			return err
		}
		g.Go(func() error { return s.Run(gctx) })
	}

	if role.HTTP {
		srv := wireServer(a.Log, a.Cfg, wireHandlers(a.Log, a.Services))
		g.Go(func() error {
			a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTP.Addr)
			if err := srv.Run(); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Cfg.HTTP.ShutdownTimeout)
			defer cancel()
			a.Log.Info("Shutting down HTTP server", "timeout", a.Cfg.HTTP.ShutdownTimeout.String())
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			a.Log.Warn("Tracer shutdown failed", "error", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
