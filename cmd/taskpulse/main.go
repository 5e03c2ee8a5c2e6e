package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"taskpulse/internal/app"
	"taskpulse/internal/bot"
	"taskpulse/internal/clock"
	"taskpulse/internal/config"
	"taskpulse/internal/httpapi"
	"taskpulse/internal/logger"
	"taskpulse/internal/observability"
	"taskpulse/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	shutdownTracing := observability.Init(ctx, lg, cfg.Tracing)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			lg.Warn("tracer shutdown failed", "error", err)
		}
	}()

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("startup failed", "error", err)
	}
	defer a.Close()

	if cfg.Env == "prod" || cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Log:             lg,
		Auth:            httpapi.NewAuth(cfg.JWTSecret),
		CORSOrigins:     cfg.CORSOrigins,
		Procrastination: httpapi.NewProcrastinationHandler(a.Services.Procrastination),
		Tasks:           httpapi.NewTaskHandler(a.Services.Tasks),
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if cfg.TelegramToken != "" {
		telegramBot, err := bot.New(cfg.TelegramToken, a.Repos.Users, a.Services.Tasks, a.Services.Procrastination, a.Services.Reminders, clock.System{}, lg)
		if err != nil {
			lg.Fatal("bot init failed", "error", err)
		}

		scheduler := service.NewSchedulerService(time.Local, time.Minute, lg)
		if _, err := scheduler.ScheduleInterval("alert-digest", cfg.ReportInterval, telegramBot.SendAlertDigests); err != nil {
			lg.Fatal("schedule alert digest failed", "error", err)
		}
		scheduler.Start()
		defer scheduler.Stop()

		g.Go(func() error {
			if err := telegramBot.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		lg.Info("TELEGRAM_TOKEN not set, chat bot disabled")
	}

	if err := g.Wait(); err != nil {
		lg.Error("server stopped with error", "error", err)
		return
	}
	lg.Info("shutdown complete")
}
