package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"taskpulse/internal/logger"
)

// SchedulerService wraps cron-based jobs. Jobs receive a context bounded by the job timeout and are
// skipped while a previous run is still going.
type SchedulerService struct {
	cron    *cron.Cron
	log     *logger.Logger
	timeout time.Duration
}

func NewSchedulerService(loc *time.Location, timeout time.Duration, log *logger.Logger) *SchedulerService {
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	cronLog := cron.PrintfLogger(log.Std())
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		log:     log.With("service", "SchedulerService"),
		timeout: timeout,
	}
}

// ScheduleInterval registers a periodic job every given duration.
func (s *SchedulerService) ScheduleInterval(name string, interval time.Duration, job func(ctx context.Context) error) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	seconds := int(interval.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	spec := fmt.Sprintf("@every %ds", seconds)
	return s.cron.AddFunc(spec, func() { s.run(name, job) })
}

func (s *SchedulerService) run(name string, job func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := time.Now()
	if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("scheduled job failed", "job", name, "error", err, "took", time.Since(started))
		return
	}
	s.log.Debug("scheduled job done", "job", name, "took", time.Since(started))
}

func (s *SchedulerService) Entries() int {
	return len(s.cron.Entries())
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
