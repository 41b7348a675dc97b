// Package service собирает приложение из конфигурации: хранилища, клиент
// сервера партий, движок рейтинга, координатор цикла и необязательные
// зеркала (PostgreSQL, Redis). Обе точки входа используют один Container.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lqo-hub/lqo-leaderboard/config"
	"github.com/lqo-hub/lqo-leaderboard/internal/application/command"
	"github.com/lqo-hub/lqo-leaderboard/internal/application/query"
	"github.com/lqo-hub/lqo-leaderboard/internal/application/state"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/rating"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/external/lichess"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/lock"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/metrics"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/persistence/filestore"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/persistence/postgres"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/persistence/redis"
)

// Container держит все собранные зависимости процесса.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Collector

	State   *state.Store
	Lichess *lichess.Client
	Engine  *rating.Engine
	Leases  shared.LeaseProvider

	// Updater - координатор цикла обновления.
	Updater *command.UpdateLeaderboardHandler

	Leaderboard *query.GetLeaderboardHandler
	PlayerRank  *query.GetPlayerRankHandler

	// Необязательные зеркала; nil, если не настроены или недоступны.
	Postgres  *postgres.Connection
	Games     *postgres.GameRepository
	Snapshots *postgres.SnapshotRepository
	Redis     *redis.Client
	Cache     *redis.LeaderboardCache

	closers []func()
}

// Build собирает контейнер. Недоступные зеркала не мешают запуску:
// они отключаются с предупреждением. Исключение - Redis как бэкенд lease.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(true),
		State:   state.New(),
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗЕРКАЛА
	// ─────────────────────────────────────────────────────────────────────────
	c.connectPostgres(ctx)
	c.connectRedis(ctx)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LEASE
	// ─────────────────────────────────────────────────────────────────────────
	leases, err := c.buildLeases()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Leases = leases

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ФАЙЛОВЫЕ ХРАНИЛИЩА
	// ─────────────────────────────────────────────────────────────────────────
	mode, err := filestore.ParseMode(cfg.Storage.FileMode)
	if err != nil {
		c.Close()
		return nil, err
	}
	ownership := filestore.Ownership{Owner: cfg.Storage.FileOwner, Group: cfg.Storage.FileGroup, Mode: mode}
	archiveStore := filestore.NewArchiveStore(filestore.Config{
		Path: cfg.Storage.ArchiveFile, Ownership: ownership, Logger: logger,
	})
	boardStore := filestore.NewLeaderboardStore(filestore.Config{
		Path: cfg.Storage.LeaderboardFile, Ownership: ownership, Logger: logger,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 4. КЛИЕНТ СЕРВЕРА ПАРТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	clientCfg := lichess.DefaultClientConfig(cfg.Lichess.BaseURL, cfg.Lichess.Account, cfg.Lichess.Token)
	clientCfg.PageSize = cfg.Lichess.PageSize
	clientCfg.PageDelay = cfg.Lichess.PageDelay
	clientCfg.RetryDelay = cfg.Lichess.RetryDelay
	clientCfg.ChunkSize = cfg.Lichess.ChunkSize
	clientCfg.Timeout = cfg.Lichess.RequestTimeout
	clientCfg.RateLimiterConfig.DefaultRetryAfter = cfg.Lichess.RateLimitDefault
	clientCfg.Metrics = c.Metrics
	clientCfg.Logger = logger
	c.Lichess = lichess.NewClient(clientCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ДВИЖОК РЕЙТИНГА
	// ─────────────────────────────────────────────────────────────────────────
	policy, err := rating.PolicyByName(cfg.Rating.Policy)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Engine, err = rating.NewEngine(rating.Config{
		Policy:  policy,
		Account: cfg.Lichess.Account,
		Start:   cfg.Rating.StartMs,
		Exempt:  cfg.Rating.Exempt,
		Logger:  logger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("rating engine: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	updateCfg := command.DefaultUpdateLeaderboardConfig()
	updateCfg.UpdateInterval = cfg.Scheduler.UpdateInterval
	updateCfg.StabilizationWindow = cfg.Scheduler.StabilizationWindow
	updateCfg.RatingStart = cfg.Rating.StartMs
	updateCfg.Logger = logger

	c.Updater = command.NewUpdateLeaderboardHandler(
		updateCfg,
		c.Lichess,
		c.Leases,
		archiveStore,
		boardStore,
		c.Engine,
		c.State,
		c.mirrors(),
		c.Metrics,
	)

	var cache leaderboard.Cache
	if c.Cache != nil {
		cache = c.Cache
	}
	c.Leaderboard = query.NewGetLeaderboardHandler(c.State, cache)
	c.PlayerRank = query.NewGetPlayerRankHandler(c.State)

	logger.Info("container built",
		"policy", policy.Name,
		"lease_backend", cfg.Storage.LeaseBackend,
		"postgres", c.Postgres != nil,
		"redis", c.Redis != nil,
	)
	return c, nil
}

func (c *Container) connectPostgres(ctx context.Context) {
	if !c.Config.Database.Enabled() {
		return
	}
	pgCfg := postgres.DefaultConfig(c.Config.Database.URL)
	if c.Config.Database.MaxConns > 0 {
		pgCfg.MaxConns = int32(c.Config.Database.MaxConns)
	}
	pgCfg.Logger = c.Logger

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		c.Logger.Warn("postgres unavailable, mirror disabled", "error", err)
		return
	}
	if c.Config.Database.MigrateOnStart {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			c.Logger.Warn("postgres migrations failed, mirror disabled", "error", err)
			conn.Close()
			return
		}
	}

	c.Postgres = conn
	c.Games = postgres.NewGameRepository(conn)
	c.Snapshots = postgres.NewSnapshotRepository(conn)
	c.closers = append(c.closers, conn.Close)
	c.Logger.Info("postgres mirror enabled")
}

func (c *Container) connectRedis(ctx context.Context) {
	rc := c.Config.Redis
	if !rc.Enabled {
		return
	}
	redisCfg := redis.DefaultConfig()
	redisCfg.URL = rc.URL
	if rc.Host != "" {
		redisCfg.Host = rc.Host
	}
	if rc.Port > 0 {
		redisCfg.Port = rc.Port
	}
	redisCfg.Password = rc.Password
	redisCfg.DB = rc.DB
	if rc.PoolSize > 0 {
		redisCfg.PoolSize = rc.PoolSize
	}
	if rc.KeyPrefix != "" {
		redisCfg.KeyPrefix = rc.KeyPrefix
	}

	client, err := redis.NewClient(ctx, redisCfg)
	if err != nil {
		c.Logger.Warn("redis unavailable, cache disabled", "error", err)
		return
	}
	c.Redis = client
	c.Cache = redis.NewLeaderboardCache(client, rc.CacheTTL)
	c.closers = append(c.closers, func() { _ = client.Close() })
	c.Logger.Info("redis cache enabled")
}

func (c *Container) buildLeases() (shared.LeaseProvider, error) {
	switch c.Config.Storage.LeaseBackend {
	case config.LeaseRedis:
		if c.Redis == nil {
			return nil, errors.New("lease backend is redis but redis is unavailable")
		}
		return redis.NewLeaseProvider(c.Redis, "update", c.Config.Storage.LeaseTTL, c.Logger), nil
	default:
		return lock.NewFileLeaseProvider(c.Config.Storage.LockFile, c.Logger), nil
	}
}

func (c *Container) mirrors() command.Mirrors {
	var m command.Mirrors
	if c.Games != nil {
		m.Games = c.Games
	}
	if c.Snapshots != nil {
		m.Snapshots = c.Snapshots
	}
	if c.Cache != nil {
		m.Cache = c.Cache
	}
	return m
}

// Start читает состояние с диска и догоняет зеркало партий.
// Ошибка зеркала не останавливает запуск.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Updater.LoadState(ctx); err != nil {
		return err
	}
	if c.Games == nil {
		return nil
	}
	n, err := BackfillMirror(ctx, c.Games, c.State)
	switch {
	case err != nil:
		c.Logger.Warn("mirror backfill failed", "error", err)
	case n > 0:
		c.Logger.Info("mirror backfilled", "games", n)
	}
	return nil
}

// Close освобождает соединения в обратном порядке.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
