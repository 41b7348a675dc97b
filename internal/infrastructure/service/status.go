package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lqo-hub/lqo-leaderboard/internal/application/state"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/game"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/external/lichess"
	"github.com/lqo-hub/lqo-leaderboard/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE STATUS ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// StatusReader - то, что адаптеру нужно от state.Store.
type StatusReader interface {
	Status() state.Status
}

// StateStatus отвечает на вопросы health-проверок, не трогая мьютекс состояния.
type StateStatus struct {
	store StatusReader
}

// NewStateStatus создаёт адаптер.
func NewStateStatus(store StatusReader) *StateStatus {
	return &StateStatus{store: store}
}

// LastUpdate возвращает время последнего успешного цикла. Если документ
// загружен с диска без этой отметки, нулевое время.
func (s *StateStatus) LastUpdate() (time.Time, bool) {
	st := s.store.Status()
	if !st.Loaded {
		return time.Time{}, false
	}
	if ts := st.Metadata.LastUpdateTimestamp; ts > 0 {
		return timeutil.FromMillis(ts), true
	}
	return time.Time{}, true
}

// ══════════════════════════════════════════════════════════════════════════════
// MIRROR CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotReader - последний снапшот зеркала.
type SnapshotReader interface {
	LatestSnapshot(ctx context.Context) (*leaderboard.Snapshot, error)
}

// MirrorLagCheck падает, если последний снапшот в зеркале отстаёт от
// состояния процесса больше чем на maxLag.
func MirrorLagCheck(repo SnapshotReader, src *StateStatus, maxLag time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		last, loaded := src.LastUpdate()
		if !loaded || last.IsZero() {
			return nil
		}
		snap, err := repo.LatestSnapshot(ctx)
		if errors.Is(err, shared.ErrSnapshotNotFound) {
			return fmt.Errorf("mirror has no snapshots yet")
		}
		if err != nil {
			return err
		}
		if lag := last.Sub(snap.TakenAt); lag > maxLag {
			return fmt.Errorf("mirror lags %s behind", lag.Round(time.Second))
		}
		return nil
	}
}

// UpstreamStatus - состояние клиента сервера партий.
type UpstreamStatus interface {
	Status() lichess.ClientStatus
}

// UpstreamCheck падает, пока сервер партий держит нас на 429.
func UpstreamCheck(client UpstreamStatus, now func() time.Time) func(ctx context.Context) error {
	if now == nil {
		now = time.Now
	}
	return func(context.Context) error {
		st := client.Status().RateLimiter
		if until := st.BlockedUntil; until.After(now()) {
			return fmt.Errorf("rate limited until %s", until.UTC().Format(time.RFC3339))
		}
		return nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIRROR BACKFILL
// ══════════════════════════════════════════════════════════════════════════════

// GameMirror - зеркало партий с подсчётом.
type GameMirror interface {
	CountGames(ctx context.Context) (int, error)
	UpsertGames(ctx context.Context, games []*game.Game) (int, error)
}

// GameSource - партии архива.
type GameSource interface {
	ArchiveGames() []*game.Game
}

// BackfillMirror дописывает в зеркало весь архив, если в зеркале партий
// меньше. Цикл обновления отправляет туда только новые партии, поэтому
// зеркало, подключённое позже архива, иначе осталось бы неполным.
func BackfillMirror(ctx context.Context, mirror GameMirror, src GameSource) (int, error) {
	games := src.ArchiveGames()
	have, err := mirror.CountGames(ctx)
	if err != nil {
		return 0, err
	}
	if have >= len(games) {
		return 0, nil
	}
	return mirror.UpsertGames(ctx, games)
}
