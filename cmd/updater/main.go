// Package main - однократный цикл обновления лидерборда.
//
// Предназначен для запуска из cron/systemd timer рядом с сервером или без
// него: оба процесса делят файлы через lease, поэтому параллельный запуск
// безопасен. Занятый lease - не ошибка, процесс завершается с кодом 0.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lqo-hub/lqo-leaderboard/config"
	"github.com/lqo-hub/lqo-leaderboard/internal/application/command"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/service"
	"github.com/lqo-hub/lqo-leaderboard/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := slog.New(logger.NewHandler(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Format: cfg.Observability.LogFormat,
	}))
	slog.SetDefault(log)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. СБОРКА И ЗАГРУЗКА СОСТОЯНИЯ
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
	// 3. ОДИН ЦИКЛ
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Scheduler.JobTimeout)
		defer cancel()
	}

	res, err := c.Updater.Handle(ctx, command.UpdateLeaderboardCommand{Trigger: "cron"})
	if err != nil {
		return fmt.Errorf("update cycle failed: %w", err)
	}
	if res.Skipped {
		log.Info("update skipped, another process holds the lease")
		return nil
	}

	log.Info("update finished",
		"cycle_id", res.CycleID,
		"fetched", res.Fetched,
		"added", res.Added,
		"players", res.Players,
		"archive_size", res.ArchiveSize,
		"duration", res.Duration.String(),
	)
	return nil
}
