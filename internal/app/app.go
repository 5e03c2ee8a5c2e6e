package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"taskpulse/internal/analytics"
	"taskpulse/internal/clock"
	"taskpulse/internal/config"
	"taskpulse/internal/detector"
	"taskpulse/internal/logger"
	"taskpulse/internal/notify"
	"taskpulse/internal/repository"
	"taskpulse/internal/service"
)

type Repos struct {
	Users     *repository.UserRepository
	Tasks     *repository.TaskRepository
	Events    *repository.EventRepository
	Snapshots *repository.SnapshotRepository
}

type Services struct {
	Tasks           *service.TaskService
	Procrastination *service.ProcrastinationService
	Reminders       *service.ReminderService
}

// App holds the wired storage and services shared by the API server and pulsectl.
type App struct {
	Cfg      config.Config
	Log      *logger.Logger
	DB       *gorm.DB
	Store    analytics.Store
	Repos    Repos
	Services Services

	// Publisher is the redis fan-out when REDIS_ADDR is set; nil otherwise.
	Publisher *notify.RedisPublisher

	closers []func() error
}

func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	db, err := repository.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	a := &App{Cfg: cfg, Log: log, DB: db}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	a.Repos = Repos{
		Users:     repository.NewUserRepository(db),
		Tasks:     repository.NewTaskRepository(db),
		Events:    repository.NewEventRepository(db),
		Snapshots: repository.NewSnapshotRepository(db),
	}

	a.Store = a.Repos.Events
	if cfg.AnalyticsDSN != "" {
		pg, err := analytics.OpenPostgresStore(ctx, cfg.AnalyticsDSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init analytics store: %w", err)
		}
		a.Store = pg
		a.closers = append(a.closers, pg.Close)
		log.Info("analytics events go to dedicated postgres")
	}

	var (
		publisher notify.Publisher = notify.Nop{}
		cooldown  notify.Cooldown  = notify.NewMemoryCooldown(clock.System{})
	)
	if cfg.RedisAddr != "" {
		rdb, err := notify.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		a.Publisher = notify.NewRedisPublisher(rdb, cfg.RedisChannel, log)
		publisher = a.Publisher
		cooldown = notify.NewRedisCooldown(rdb, "taskpulse:cooldown:")
		a.closers = append(a.closers, rdb.Close)
	}

	clk := clock.System{}
	rec := analytics.NewRecorder(a.Store, a.Repos.Snapshots, clk)
	corr := analytics.NewCorrelator(rec, a.Repos.Tasks, cfg.StrictInterventions)
	proc := service.NewProcrastinationService(
		a.Repos.Tasks, rec, corr, detector.NewEvaluator(cfg.Thresholds), publisher, clk, log,
	)
	a.Services = Services{
		Tasks:           service.NewTaskService(a.Repos.Tasks, rec, clk, log),
		Procrastination: proc,
		Reminders:       service.NewReminderService(proc, cooldown, cfg.AlertCooldown, log),
	}
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
