// Package main - точка входа сервиса лидерборда LeelaQueenOdds.
//
// Процесс отдаёт HTML-страницу и JSON-документ, а по расписанию
// запускает цикл обновления: забирает новые партии бота, пересчитывает
// рейтинги и атомарно публикует новое состояние.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lqo-hub/lqo-leaderboard/config"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/scheduler"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/scheduler/jobs"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/service"
	httpserver "github.com/lqo-hub/lqo-leaderboard/internal/interface/http"
	"github.com/lqo-hub/lqo-leaderboard/internal/interface/http/handlers"
	"github.com/lqo-hub/lqo-leaderboard/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting leaderboard service",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"account", cfg.Lichess.Account,
		"policy", cfg.Rating.Policy,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. СБОРКА ЗАВИСИМОСТЕЙ
	// ─────────────────────────────────────────────────────────────────────────
	c, err := service.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	stateStatus := service.NewStateStatus(c.State)
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("leaderboard", handlers.NewLoadedCheck(stateStatus))
	health.AddOptionalCheck("freshness",
		handlers.NewFreshnessCheck(stateStatus, 3*cfg.Scheduler.UpdateInterval, time.Now))
	health.AddOptionalCheck("upstream", service.UpstreamCheck(c.Lichess, time.Now))
	if c.Postgres != nil {
		health.AddOptionalCheck("postgres", handlers.NewPingCheck(c.Postgres))
		health.AddOptionalCheck("postgres_mirror",
			service.MirrorLagCheck(c.Snapshots, stateStatus, 2*cfg.Scheduler.UpdateInterval))
	}
	if c.Redis != nil {
		health.AddOptionalCheck("redis", handlers.NewPingCheck(c.Redis))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	job := jobs.NewUpdateLeaderboardJob(c.Updater, cfg.Scheduler.JobTimeout, log)

	schedCfg := scheduler.DefaultSchedulerConfig()
	schedCfg.Logger = log
	sched := scheduler.NewScheduler(schedCfg)
	schedule, err := buildSchedule(cfg.Scheduler)
	if err != nil {
		return err
	}
	var opts []scheduler.RegisterOption
	if cfg.Scheduler.Enabled {
		opts = append(opts, scheduler.RunImmediately())
	}
	if err := sched.Register(job, schedule, opts...); err != nil {
		return fmt.Errorf("failed to register update job: %w", err)
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		log.Info("scheduler started", "schedule", schedule.String())
	} else {
		log.Info("scheduler disabled, updates run only on demand")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpConfig := httpserver.DefaultConfig()
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.TopN = cfg.HTTP.TopN
	httpConfig.AdminToken = cfg.HTTP.AdminToken
	httpConfig.PlayerURL = cfg.HTTP.PlayerURL
	httpConfig.UpdateInterval = cfg.Scheduler.UpdateInterval
	httpConfig.EnableMetrics = cfg.Observability.MetricsEnabled
	httpConfig.Version = cfg.App.Version

	httpServer := httpserver.NewServer(httpConfig, httpserver.Dependencies{
		Leaderboard:   c.Leaderboard,
		PlayerRank:    c.PlayerRank,
		HealthChecker: health,
		Metrics:       c.Metrics.Handler(),
		Trigger:       sched,
		Stats:         job,
		Logger:        logger.FromSlog(log),
	})
	errCh := httpServer.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("leaderboard service is running", "http_address", httpServer.Address())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err, ok := <-errCh:
		if ok && err != nil {
			log.Error("http server error", "error", err)
			if cfg.Scheduler.Enabled {
				_ = sched.Stop()
			}
			return err
		}
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		shutdownErr = err
	}
	// Stop отменяет текущий цикл и ждёт его возврата; lease освобождается внутри.
	if cfg.Scheduler.Enabled {
		if err := sched.Stop(); err != nil {
			log.Error("failed to stop scheduler", "error", err)
			shutdownErr = err
		}
	}

	if shutdownErr != nil {
		log.Warn("shutdown completed with errors")
	} else {
		log.Info("shutdown completed successfully")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	log := slog.New(logger.NewHandler(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Format: cfg.Observability.LogFormat,
	}))
	slog.SetDefault(log)
	return log
}

// buildSchedule: cron-выражение, если задано, иначе фиксированный интервал.
func buildSchedule(cfg config.SchedulerConfig) (scheduler.Schedule, error) {
	if cfg.UpdateCron != "" {
		cron, err := scheduler.ParseCron(cfg.UpdateCron)
		if err != nil {
			return nil, fmt.Errorf("invalid UPDATE_CRON: %w", err)
		}
		return cron, nil
	}
	return scheduler.NewIntervalSchedule(cfg.UpdateInterval), nil
}
