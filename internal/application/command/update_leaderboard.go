// Package command contains write operations (CQRS - Commands).
// The only command of the service is the update cycle: fetch new games,
// merge them into the archive, recompute the leaderboard and persist both.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lqo-hub/lqo-leaderboard/internal/application/state"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/archive"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/game"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/rating"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
	"github.com/lqo-hub/lqo-leaderboard/pkg/circuitbreaker"
	"github.com/lqo-hub/lqo-leaderboard/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE LEADERBOARD COMMAND
// Один цикл обновления: Locking → Fetching → Merging → Recomputing → Persisting.
// ══════════════════════════════════════════════════════════════════════════════

// Phase - стадия цикла.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseLocking     Phase = "locking"
	PhaseFetching    Phase = "fetching"
	PhaseMerging     Phase = "merging"
	PhaseRecomputing Phase = "recomputing"
	PhasePersisting  Phase = "persisting"
)

// UpdateLeaderboardCommand запускает цикл.
type UpdateLeaderboardCommand struct {
	// Trigger - источник запуска (scheduler, startup, manual).
	Trigger string
}

// UpdateLeaderboardResult - итог цикла.
type UpdateLeaderboardResult struct {
	CycleID string

	// Skipped - lease занят другим процессом, цикл не выполнялся.
	Skipped bool

	ColdStart bool

	// Fetched - сколько партий вернул сервер, Added - сколько из них новых.
	Fetched int
	Added   int

	ArchiveSize  int
	Players      int
	Processed    int
	SkippedGames int

	// Checkpoint - новое значение last_fetch.
	Checkpoint int64

	StartedAt time.Time
	Duration  time.Duration
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// GameFetcher получает партии бота с сервера.
type GameFetcher interface {
	// Fetch возвращает партии с createdAt в [since, until]; until <= 0 - без верхней границы.
	Fetch(ctx context.Context, since, until int64) ([]*game.Game, error)

	// FetchRange делает то же самое окнами фиксированного размера.
	FetchRange(ctx context.Context, from, to int64) ([]*game.Game, error)
}

// Metrics - наблюдения за циклом.
type Metrics interface {
	ObserveCycle(outcome string, d time.Duration)
	SetPhase(phase string)
	SetArchiveSize(n int)
	SetPlayers(n int)
	SetCheckpoint(ms int64)
	AddGamesMerged(n int)
	IncMirrorFailure(sink string)
}

// breakerGauge - необязательная часть Metrics.
type breakerGauge interface {
	SetBreakerOpen(sink string, open bool)
}

// Имена зеркал в логах и метриках.
const (
	SinkGames     = "postgres_games"
	SinkSnapshots = "postgres_snapshots"
	SinkCache     = "redis_cache"
)

// Mirrors - необязательные внешние копии результата.
type Mirrors struct {
	Games     archive.Mirror
	Snapshots leaderboard.SnapshotRepository
	Cache     leaderboard.Cache
}

// UpdateLeaderboardConfig - настройки обработчика.
type UpdateLeaderboardConfig struct {
	// UpdateInterval - период планировщика, попадает в metadata.
	UpdateInterval time.Duration

	// StabilizationWindow - партии моложе now-window не двигают чекпоинт.
	StabilizationWindow time.Duration

	// RatingStart - начало окна при холодном старте (epoch ms).
	RatingStart int64

	Now    func() time.Time
	Sleep  retry.SleepFunc
	Logger *slog.Logger
}

// DefaultUpdateLeaderboardConfig возвращает настройки по умолчанию.
func DefaultUpdateLeaderboardConfig() UpdateLeaderboardConfig {
	return UpdateLeaderboardConfig{
		UpdateInterval:      10 * time.Minute,
		StabilizationWindow: archive.DefaultStabilizationWindow,
		RatingStart:         rating.DefaultStart,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// UpdateLeaderboardHandler - координатор цикла обновления.
type UpdateLeaderboardHandler struct {
	config       UpdateLeaderboardConfig
	fetcher      GameFetcher
	leases       shared.LeaseProvider
	archiveStore archive.Store
	boardStore   leaderboard.Store
	engine       *rating.Engine
	state        *state.Store
	mirrors      Mirrors
	metrics      Metrics

	gamesBreaker    *circuitbreaker.CircuitBreaker
	snapshotBreaker *circuitbreaker.CircuitBreaker
	cacheBreaker    *circuitbreaker.CircuitBreaker

	logger *slog.Logger

	mu    sync.Mutex
	phase Phase
	last  *UpdateLeaderboardResult
}

// NewUpdateLeaderboardHandler создаёт обработчик.
// mirrors и metrics могут быть нулевыми.
func NewUpdateLeaderboardHandler(
	config UpdateLeaderboardConfig,
	fetcher GameFetcher,
	leases shared.LeaseProvider,
	archiveStore archive.Store,
	boardStore leaderboard.Store,
	engine *rating.Engine,
	st *state.Store,
	mirrors Mirrors,
	metrics Metrics,
) *UpdateLeaderboardHandler {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Sleep == nil {
		config.Sleep = retry.Sleep
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "update")

	onChange := func(name string, from, to circuitbreaker.State) {
		logger.Warn("mirror circuit state changed", "sink", name, "from", from.String(), "to", to.String())
		if g, ok := metrics.(breakerGauge); ok {
			g.SetBreakerOpen(name, to == circuitbreaker.StateOpen)
		}
	}

	return &UpdateLeaderboardHandler{
		config:          config,
		fetcher:         fetcher,
		leases:          leases,
		archiveStore:    archiveStore,
		boardStore:      boardStore,
		engine:          engine,
		state:           st,
		mirrors:         mirrors,
		metrics:         metrics,
		gamesBreaker:    circuitbreaker.PostgresMirrorBreaker(SinkGames, onChange),
		snapshotBreaker: circuitbreaker.PostgresMirrorBreaker(SinkSnapshots, onChange),
		cacheBreaker:    circuitbreaker.RedisCacheBreaker(SinkCache, onChange),
		logger:          logger,
		phase:           PhaseIdle,
	}
}

// Phase возвращает текущую стадию.
func (h *UpdateLeaderboardHandler) Phase() Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// LastResult возвращает итог последнего завершённого цикла (nil, если не было).
func (h *UpdateLeaderboardHandler) LastResult() *UpdateLeaderboardResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return nil
	}
	cp := *h.last
	return &cp
}

func (h *UpdateLeaderboardHandler) setPhase(logger *slog.Logger, p Phase) {
	h.mu.Lock()
	h.phase = p
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.SetPhase(string(p))
	}
	if p != PhaseIdle {
		logger.Debug("update phase", "phase", string(p))
	}
}

// LoadState читает файлы в память. Вызывается при старте процесса.
func (h *UpdateLeaderboardHandler) LoadState(ctx context.Context) error {
	a, err := h.archiveStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("load archive: %w", err)
	}
	lb, err := h.boardStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("load leaderboard: %w", err)
	}
	h.state.Replace(a, lb)
	if h.metrics != nil {
		h.metrics.SetArchiveSize(a.Len())
		h.metrics.SetPlayers(lb.Len())
		h.metrics.SetCheckpoint(lb.Metadata.LastFetch)
	}
	h.logger.Info("state loaded",
		"archive_games", a.Len(),
		"players", lb.Len(),
		"last_fetch", lb.Metadata.LastFetch,
	)
	return nil
}

// Handle выполняет один цикл. Занятый lease - не ошибка: Skipped=true.
func (h *UpdateLeaderboardHandler) Handle(ctx context.Context, cmd UpdateLeaderboardCommand) (*UpdateLeaderboardResult, error) {
	result := &UpdateLeaderboardResult{
		CycleID:   uuid.NewString(),
		StartedAt: h.config.Now().UTC(),
	}
	logger := h.logger.With("cycle_id", result.CycleID, "trigger", cmd.Trigger)
	defer h.setPhase(logger, PhaseIdle)

	h.setPhase(logger, PhaseLocking)
	lease, err := h.leases.TryAcquire(ctx)
	if err != nil {
		if shared.IsLocked(err) {
			logger.Info("update already in progress, skipping")
			result.Skipped = true
			h.observe("skipped", result)
			return result, nil
		}
		h.observe("error", result)
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to release update lease", "error", err)
		}
	}()

	if !h.state.Loaded() {
		if err := h.LoadState(ctx); err != nil {
			h.observe("error", result)
			return nil, err
		}
	}

	var (
		fresh []*game.Game
		board *leaderboard.Leaderboard
	)
	err = h.state.Update(ctx, func(ctx context.Context, cur state.State) (state.State, error) {
		next, newGames, err := h.run(ctx, logger, cur, result)
		fresh, board = newGames, next.Leaderboard
		return next, err
	})
	if err != nil {
		h.observe("error", result)
		logger.Error("update cycle failed", "phase", string(h.Phase()), "error", err)
		return nil, err
	}

	h.mirror(ctx, logger, fresh, board, result)

	h.observe("ok", result)
	logger.Info("update cycle completed",
		"fetched", result.Fetched,
		"added", result.Added,
		"archive_games", result.ArchiveSize,
		"players", result.Players,
		"last_fetch", result.Checkpoint,
		"duration", result.Duration,
	)
	return result, nil
}

// run - стадии Fetching..Persisting под мьютексом состояния.
func (h *UpdateLeaderboardHandler) run(ctx context.Context, logger *slog.Logger, cur state.State, result *UpdateLeaderboardResult) (state.State, []*game.Game, error) {
	now := h.config.Now()
	nowMs := now.UnixMilli()
	cutoff := archive.SafeCutoff(nowMs, h.config.StabilizationWindow)
	lastFetch := cur.Leaderboard.Metadata.LastFetch

	// ─── Fetching ───
	h.setPhase(logger, PhaseFetching)
	fetched, err := h.fetch(ctx, logger, lastFetch, cutoff, nowMs, result)
	if err != nil {
		return state.State{}, nil, fmt.Errorf("fetch games: %w", err)
	}
	result.Fetched = len(fetched)

	// ─── Merging ───
	h.setPhase(logger, PhaseMerging)
	merged := cur.Archive.Clone()
	fresh := make([]*game.Game, 0)
	seen := make(map[string]struct{})
	for _, g := range fetched {
		if g == nil || merged.Contains(g.ID) {
			continue
		}
		if _, dup := seen[g.ID]; !dup {
			seen[g.ID] = struct{}{}
			fresh = append(fresh, g)
		}
	}
	result.Added = merged.Merge(fetched)
	result.ArchiveSize = merged.Len()
	result.Checkpoint = archive.AdvanceCheckpoint(lastFetch, cutoff, fetched)

	// ─── Recomputing ───
	h.setPhase(logger, PhaseRecomputing)
	rec := h.engine.Recompute(merged.Games())
	board := rec.Leaderboard
	board.Metadata = leaderboard.Metadata{
		LastFetch:           result.Checkpoint,
		NextUpdate:          now.Add(h.config.UpdateInterval).Unix(),
		UpdateInterval:      h.config.UpdateInterval.Milliseconds(),
		LastUpdateTimestamp: nowMs,
		Policy:              h.engine.Policy().Name,
	}
	result.Players = board.Len()
	result.Processed = rec.Processed
	result.SkippedGames = rec.Skipped

	// ─── Persisting ───
	h.setPhase(logger, PhasePersisting)
	if result.Added > 0 || result.ColdStart {
		if err := h.archiveStore.Save(ctx, merged); err != nil {
			return state.State{}, nil, fmt.Errorf("save archive: %w", err)
		}
	}
	if err := h.boardStore.Save(ctx, board); err != nil {
		return state.State{}, nil, fmt.Errorf("save leaderboard: %w", err)
	}

	result.Duration = h.config.Now().Sub(now)
	return state.State{Archive: merged, Leaderboard: board}, fresh, nil
}

// fetch выбирает холодный или инкрементальный режим.
func (h *UpdateLeaderboardHandler) fetch(ctx context.Context, logger *slog.Logger, lastFetch, cutoff, nowMs int64, result *UpdateLeaderboardResult) ([]*game.Game, error) {
	if lastFetch == 0 {
		result.ColdStart = true
		logger.Info("cold start: backfilling archive", "from", h.config.RatingStart, "to", nowMs)
		return h.fetcher.FetchRange(ctx, h.config.RatingStart, nowMs)
	}

	var games []*game.Game
	recentFrom := lastFetch
	if lastFetch <= cutoff {
		stable, err := h.fetcher.Fetch(ctx, lastFetch, cutoff)
		if err != nil {
			return nil, err
		}
		games = append(games, stable...)
		recentFrom = cutoff + 1
	}

	recent, err := h.fetcher.Fetch(ctx, recentFrom, nowMs)
	if err != nil {
		return nil, err
	}
	logger.Debug("incremental fetch",
		"stable", len(games),
		"recent", len(recent),
		"cutoff", cutoff,
	)
	return append(games, recent...), nil
}

// mirror пишет результат во внешние копии. Ошибки не прерывают цикл.
func (h *UpdateLeaderboardHandler) mirror(ctx context.Context, logger *slog.Logger, fresh []*game.Game, board *leaderboard.Leaderboard, result *UpdateLeaderboardResult) {
	if board == nil {
		return
	}
	snapshot := leaderboard.NewSnapshot(result.CycleID, h.config.Now(), board)
	retrier := retry.MirrorRetrier(retry.WithSleep(h.config.Sleep), retry.WithRetryIf(func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}))

	run := func(sink string, cb *circuitbreaker.CircuitBreaker, fn func(context.Context) error) {
		err := cb.Execute(ctx, func(ctx context.Context) error {
			return retrier.Do(ctx, fn)
		})
		switch {
		case err == nil:
		case errors.Is(err, circuitbreaker.ErrCircuitOpen):
			logger.Debug("mirror skipped, circuit open", "sink", sink)
		default:
			logger.Warn("mirror write failed", "sink", sink, "error", err)
			if h.metrics != nil {
				h.metrics.IncMirrorFailure(sink)
			}
		}
	}

	if h.mirrors.Games != nil && len(fresh) > 0 {
		run(SinkGames, h.gamesBreaker, func(ctx context.Context) error {
			_, err := h.mirrors.Games.UpsertGames(ctx, fresh)
			return err
		})
	}
	if h.mirrors.Snapshots != nil {
		run(SinkSnapshots, h.snapshotBreaker, func(ctx context.Context) error {
			return h.mirrors.Snapshots.SaveSnapshot(ctx, snapshot)
		})
	}
	if h.mirrors.Cache != nil {
		run(SinkCache, h.cacheBreaker, func(ctx context.Context) error {
			return h.mirrors.Cache.Replace(ctx, snapshot)
		})
	}
}

func (h *UpdateLeaderboardHandler) observe(outcome string, result *UpdateLeaderboardResult) {
	if result.Duration == 0 {
		result.Duration = h.config.Now().Sub(result.StartedAt)
	}
	if outcome == "ok" {
		h.mu.Lock()
		cp := *result
		h.last = &cp
		h.mu.Unlock()
	}
	if h.metrics == nil {
		return
	}
	h.metrics.ObserveCycle(outcome, result.Duration)
	if outcome == "ok" {
		h.metrics.SetArchiveSize(result.ArchiveSize)
		h.metrics.SetPlayers(result.Players)
		h.metrics.SetCheckpoint(result.Checkpoint)
		h.metrics.AddGamesMerged(result.Added)
	}
}
